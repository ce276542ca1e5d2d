package secrets

import (
	"fmt"

	"infergate/config"
)

// New builds a Resolver from configuration. probe names the secret the
// Key Vault health check reads.
func New(cfg config.SecretsConfig, probe string) (*Resolver, error) {
	var source Source
	switch cfg.Type {
	case KindEnv, "":
		source = EnvSource{}
	case KindFile:
		source = NewFileSource(cfg.Dir)
	case KindKeyVault:
		kv, err := NewKeyVaultSource(VaultURL(cfg.VaultURL, cfg.VaultName), probe)
		if err != nil {
			return nil, err
		}
		source = kv
	default:
		return nil, fmt.Errorf("unknown secrets type: %s (valid: keyvault, env, file)", cfg.Type)
	}

	return NewResolver(source, Config{
		CacheTTL:    cfg.CacheTTL,
		EnvFallback: cfg.EnvFallback,
	}), nil
}
