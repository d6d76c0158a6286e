package secrets

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// VaultConfig configures the KV v2 secret backend.
type VaultConfig struct {
	Address string
	Token   string
	// Mount is the KV v2 mount path, default "secret".
	Mount string
	// PathPrefix namespaces this deployment's secrets inside the mount.
	PathPrefix string
}

// VaultStore keeps secret material in a HashiCorp Vault KV v2 mount, one
// version-tracked entry per SecretID.
type VaultStore struct {
	client *api.Client
	mount  string
	prefix string
	logger *slog.Logger
}

// NewVaultStore connects to Vault and verifies the token is usable.
func NewVaultStore(cfg VaultConfig, logger *slog.Logger) (*VaultStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address
	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	return &VaultStore{
		client: client,
		mount:  mount,
		prefix: strings.Trim(cfg.PathPrefix, "/"),
		logger: logger.With("component", "vault-secrets"),
	}, nil
}

func (v *VaultStore) path(id domain.SecretID) string {
	if v.prefix == "" {
		return id.String()
	}
	return v.prefix + "/" + id.String()
}

func (v *VaultStore) Store(ctx context.Context, material []byte) (domain.SecretID, error) {
	id := domain.NewSecretID()
	data := map[string]any{
		"material": base64.StdEncoding.EncodeToString(material),
	}
	if _, err := v.client.KVv2(v.mount).Put(ctx, v.path(id), data); err != nil {
		return domain.SecretID{}, &domain.Error{
			Type:    domain.ErrTypeSecretBackendUnavail,
			Code:    503,
			Message: "failed to store secret",
		}
	}
	return id, nil
}

func (v *VaultStore) Retrieve(ctx context.Context, id domain.SecretID) ([]byte, error) {
	secret, err := v.client.KVv2(v.mount).Get(ctx, v.path(id))
	if err != nil {
		if strings.Contains(err.Error(), "secret not found") {
			return nil, domain.NotFound("secret %s not found", id)
		}
		return nil, &domain.Error{
			Type:    domain.ErrTypeSecretBackendUnavail,
			Code:    503,
			Message: "failed to retrieve secret",
		}
	}
	encoded, ok := secret.Data["material"].(string)
	if !ok {
		return nil, domain.NotFound("secret %s has no material", id)
	}
	material, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", id, err)
	}
	return material, nil
}

func (v *VaultStore) Delete(ctx context.Context, id domain.SecretID) error {
	if err := v.client.KVv2(v.mount).DeleteMetadata(ctx, v.path(id)); err != nil {
		if strings.Contains(err.Error(), "secret not found") {
			return nil
		}
		return &domain.Error{
			Type:    domain.ErrTypeSecretBackendUnavail,
			Code:    503,
			Message: "failed to delete secret",
		}
	}
	return nil
}

func (v *VaultStore) HealthCheck(ctx context.Context) error {
	health, err := v.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}
