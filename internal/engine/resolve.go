package engine

import (
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/warden/internal/config"
	"github.com/nextlevelbuilder/warden/internal/vault"
)

// Set holds the resolved engines for one daemon run. A nil entry means
// the tier is not configured.
type Set struct {
	Live   Engine
	Worker Engine
	Cloud  Engine
}

// ByKind returns the engine for a tier, or nil.
func (s *Set) ByKind(kind Kind) Engine {
	switch kind {
	case KindLive:
		return s.Live
	case KindWorker:
		return s.Worker
	case KindCloud:
		return s.Cloud
	}
	return nil
}

// Resolve builds the engine set from config, decrypting credential refs
// through the vault. A tier with a credentialRef that cannot be
// decrypted is a hard error; a disabled tier is skipped silently.
func Resolve(cfg *config.Config, v *vault.Vault) (*Set, error) {
	set := &Set{}

	build := func(kind Kind, ec config.EngineConfig) (Engine, error) {
		if !ec.IsEnabled() {
			return nil, nil
		}
		cred := ""
		if ec.CredentialRef != "" {
			blob, ok := cfg.Credentials[ec.CredentialRef]
			if !ok {
				return nil, fmt.Errorf("engine %s: credential %q not in vault", kind, ec.CredentialRef)
			}
			var err error
			cred, err = v.Decrypt(blob)
			if err != nil {
				return nil, fmt.Errorf("engine %s: decrypt credential %q: %w", kind, ec.CredentialRef, err)
			}
		}
		desc := Descriptor{
			Kind:        kind,
			Provider:    ec.Provider,
			Model:       ec.Model,
			Endpoint:    ec.Endpoint,
			Credential:  cred,
			Parallelism: ec.Parallelism,
		}
		slog.Info("engine resolved", "kind", kind, "provider", ec.Provider, "model", ec.Model)
		return NewOpenAICompatible(desc), nil
	}

	var err error
	if set.Live, err = build(KindLive, cfg.Engines.Live); err != nil {
		return nil, err
	}
	if set.Worker, err = build(KindWorker, cfg.Engines.Worker); err != nil {
		return nil, err
	}
	if set.Cloud, err = build(KindCloud, cfg.Engines.Cloud); err != nil {
		return nil, err
	}

	if set.Live == nil && set.Cloud == nil {
		return nil, fmt.Errorf("no usable engine: configure live or cloud")
	}
	return set, nil
}
