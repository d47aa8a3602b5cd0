// Package vault manages the owner-only state directory: the master key,
// the encrypted credential map, and the daemon.pid single-writer guard.
//
// Credentials are AES-256-CBC blobs {iv, ciphertext} (hex) under a 32-byte
// master key created on first write. The key never leaves the state dir.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/nextlevelbuilder/warden/internal/config"
)

const (
	masterKeyFile = ".masterkey"
	pidFile       = "daemon.pid"
	keySize       = 32
)

// Vault binds a state directory to key material.
type Vault struct {
	dir string
}

// Open ensures the state directory exists with owner-only permissions.
func Open(dir string) (*Vault, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	// Tighten a pre-existing directory that was created looser.
	if err := os.Chmod(dir, 0700); err != nil {
		return nil, fmt.Errorf("state dir perms: %w", err)
	}
	return &Vault{dir: dir}, nil
}

// Dir returns the state directory path.
func (v *Vault) Dir() string { return v.dir }

// masterKey loads the key, creating it on first use.
func (v *Vault) masterKey() ([]byte, error) {
	path := filepath.Join(v.dir, masterKeyFile)
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != keySize {
			return nil, fmt.Errorf("master key corrupt: %d bytes", len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key = make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("write master key: %w", err)
	}
	slog.Info("vault: master key created")
	return key, nil
}

// Encrypt seals a plaintext secret into the config credential format.
func (v *Vault) Encrypt(plaintext string) (config.EncryptedCredential, error) {
	key, err := v.masterKey()
	if err != nil {
		return config.EncryptedCredential{}, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return config.EncryptedCredential{}, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return config.EncryptedCredential{}, err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return config.EncryptedCredential{
		IV:         hex.EncodeToString(iv),
		Ciphertext: hex.EncodeToString(out),
	}, nil
}

// Decrypt opens a credential blob.
func (v *Vault) Decrypt(cred config.EncryptedCredential) (string, error) {
	key, err := v.masterKey()
	if err != nil {
		return "", err
	}

	iv, err := hex.DecodeString(cred.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return "", fmt.Errorf("credential iv invalid")
	}
	ct, err := hex.DecodeString(cred.Ciphertext)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("credential ciphertext invalid")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)

	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// AcquirePID claims daemon.pid. Exactly one daemon instance may own a
// state directory; a live PID in the file refuses startup, a stale one is
// replaced.
func (v *Vault) AcquirePID() error {
	path := filepath.Join(v.dir, pidFile)
	if data, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid > 0 && pid != os.Getpid() {
			if processAlive(pid) {
				return fmt.Errorf("daemon already running (pid %d)", pid)
			}
			slog.Warn("vault: replacing stale pid file", "pid", pid)
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// ReleasePID removes daemon.pid if this process owns it.
func (v *Vault) ReleasePID() {
	path := filepath.Join(v.dir, pidFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid == os.Getpid() {
		os.Remove(path)
	}
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-pad], nil
}
