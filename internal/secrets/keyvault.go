package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// secretGetter is the subset of *azsecrets.Client used here.
type secretGetter interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// KeyVaultSource reads secrets from Azure Key Vault using the ambient
// Azure identity (workload identity, managed identity or CLI login).
type KeyVaultSource struct {
	client   secretGetter
	vaultURL string
	// probe is the secret read by Ping; a 404 still proves reachability
	probe string
}

// VaultURL builds the vault URL from explicit configuration or a vault name.
func VaultURL(vaultURL, vaultName string) string {
	if vaultURL != "" {
		return vaultURL
	}
	return fmt.Sprintf("https://%s.vault.azure.net", vaultName)
}

// NewKeyVaultSource connects to the vault at vaultURL. probe names the
// secret read by Ping.
func NewKeyVaultSource(vaultURL, probe string) (*KeyVaultSource, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain Azure credential: %w", err)
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
	}
	return &KeyVaultSource{client: client, vaultURL: vaultURL, probe: probe}, nil
}

// Fetch implements Source.
func (s *KeyVaultSource) Fetch(ctx context.Context, name string) (string, error) {
	resp, err := s.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		if isNotFound(err) {
			return "", notFound(name)
		}
		return "", unavailable(name, err)
	}
	if resp.Value == nil {
		return "", notFound(name)
	}
	return *resp.Value, nil
}

// Ping implements Source by reading the probe secret. A missing secret
// still means the vault answered and the identity is authorized.
func (s *KeyVaultSource) Ping(ctx context.Context) error {
	_, err := s.client.GetSecret(ctx, s.probe, "", nil)
	if err == nil || isNotFound(err) {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrSecretStoreUnavailable, s.vaultURL, err)
}

// Kind implements Source.
func (s *KeyVaultSource) Kind() string { return KindKeyVault }

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
