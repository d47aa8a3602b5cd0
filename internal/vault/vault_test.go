package vault

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, secret := range []string{"sk-test-123", "", "a", "exactly-16-bytes", "padding edge case of thirty-two!"} {
		cred, err := v.Encrypt(secret)
		if err != nil {
			t.Fatal(err)
		}
		got, err := v.Decrypt(cred)
		if err != nil {
			t.Fatalf("decrypt %q: %v", secret, err)
		}
		if got != secret {
			t.Errorf("round trip: got %q want %q", got, secret)
		}
	}
}

func TestMasterKeyCreatedOnce(t *testing.T) {
	dir := t.TempDir()
	v, _ := Open(dir)

	cred, err := v.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	key1, err := os.ReadFile(filepath.Join(dir, masterKeyFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(key1) != keySize {
		t.Fatalf("key size %d", len(key1))
	}

	// Re-open: same key, old credential still decryptable.
	v2, _ := Open(dir)
	got, err := v2.Decrypt(cred)
	if err != nil || got != "secret" {
		t.Errorf("decrypt after reopen: %q %v", got, err)
	}
}

func TestDecryptRejectsTampered(t *testing.T) {
	v, _ := Open(t.TempDir())
	cred, _ := v.Encrypt("secret")
	cred.IV = "zz"
	if _, err := v.Decrypt(cred); err == nil {
		t.Error("expected error for bad iv")
	}
}

func TestPIDSingleWriter(t *testing.T) {
	dir := t.TempDir()
	v, _ := Open(dir)

	if err := v.AcquirePID(); err != nil {
		t.Fatal(err)
	}

	// Own pid is fine to re-acquire.
	if err := v.AcquirePID(); err != nil {
		t.Fatal(err)
	}

	v.ReleasePID()
	if _, err := os.Stat(filepath.Join(dir, pidFile)); !os.IsNotExist(err) {
		t.Error("pid file not removed")
	}
}

func TestPIDStaleReplaced(t *testing.T) {
	dir := t.TempDir()
	v, _ := Open(dir)

	// Write a pid that almost certainly does not exist.
	os.WriteFile(filepath.Join(dir, pidFile), []byte("999999"), 0600)
	if err := v.AcquirePID(); err != nil {
		t.Fatalf("stale pid should be replaced: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, pidFile))
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("pid file = %q", data)
	}
}

func TestStateDirPermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	if _, err := Open(dir); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0700 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}
}
