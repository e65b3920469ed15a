package credstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/attelo-iot/device-pairing-agent/interfaces"
	vaultapi "github.com/hashicorp/vault/api"
)

// VaultStore implements a credential store on HashiCorp Vault's KV v2 secret
// engine. Each material kind lives at its own path below dataPath, so a save
// touches exactly one secret and stays atomic from the caller's perspective.
type VaultStore struct {
	client    *vaultapi.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultStore creates a Vault-backed credential store and its initial
// handle.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token; when empty the VAULT_TOKEN environment variable applies
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount (e.g. "devices/mydevice")
//   - log: structured logger for operational insights
func NewVaultStore(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultStore, interfaces.Handle, error) {
	config := vaultapi.DefaultConfig()
	config.Address = address

	client, err := vaultapi.NewClient(config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultStore{
		client:    client,
		mountPath: mountPath,
		dataPath:  dataPath,
		log:       log,
	}, storeHandle{}, nil
}

// HasKeypair reports whether both private key and CSR secrets exist.
func (s *VaultStore) HasKeypair(ctx context.Context, handle interfaces.Handle) (bool, error) {
	for _, kind := range []interfaces.MaterialKind{interfaces.PrivateKeyMaterial, interfaces.CSRMaterial} {
		secret, err := s.client.Logical().ReadWithContext(ctx, s.pathFor(kind))
		if err != nil {
			return false, fmt.Errorf("failed to read %s from Vault: %w", kind, err)
		}
		if extractMaterial(secret) == "" {
			return false, nil
		}
	}
	return true, nil
}

// Fetch retrieves and decodes the material secret.
func (s *VaultStore) Fetch(ctx context.Context, kind interfaces.MaterialKind, handle interfaces.Handle) ([]byte, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.pathFor(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from Vault: %w", kind, err)
	}

	encoded := extractMaterial(secret)
	if encoded == "" {
		return nil, interfaces.ErrMaterialNotFound
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s material: %w", kind, err)
	}

	s.log.Debug("Fetched credential material from Vault",
		slog.String("kind", kind.String()),
		slog.Int("size", len(data)))

	return data, nil
}

// Save writes the material secret and returns the replacement handle.
func (s *VaultStore) Save(ctx context.Context, kind interfaces.MaterialKind, data []byte, handle interfaces.Handle) (interfaces.Handle, error) {
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"material": base64.StdEncoding.EncodeToString(data),
		},
	}

	if _, err := s.client.Logical().WriteWithContext(ctx, s.pathFor(kind), payload); err != nil {
		return nil, fmt.Errorf("failed to write %s to Vault: %w", kind, err)
	}

	s.log.Debug("Stored credential material in Vault",
		slog.String("kind", kind.String()),
		slog.String("path", s.pathFor(kind)))

	return nextHandle(handle), nil
}

// pathFor builds the KV v2 data path for a material kind.
func (s *VaultStore) pathFor(kind interfaces.MaterialKind) string {
	return fmt.Sprintf("%s/data/%s/%s", s.mountPath, s.dataPath, kind)
}

// extractMaterial pulls the material field out of a KV v2 read result.
// Returns "" for missing secrets, deleted versions, or unexpected shapes.
func extractMaterial(secret *vaultapi.Secret) string {
	if secret == nil || secret.Data == nil {
		return ""
	}
	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return ""
	}
	material, _ := inner["material"].(string)
	return material
}
