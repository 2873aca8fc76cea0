package vault

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"

	"bootstrapctl/pkg/logging"
)

// DefaultKVMount is the KV v2 mount application secrets live under.
const DefaultKVMount = "secret"

// Client talks to the secrets manager over a tunnel-forwarded local address.
type Client struct {
	api *vault.Client
}

// NewClient builds a Client for the given address and token. The address is
// typically http://localhost:<port> while a tunnel is open.
func NewClient(address, token string) (*Client, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("vault address is required")
	}

	apiCfg := vault.DefaultConfig()
	apiCfg.Address = address
	client, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)
	return &Client{api: client}, nil
}

// VerifyUnsealed confirms the secrets manager is initialized and unsealed.
// Called after the unseal stage as a direct check that every replica the
// forwarded service routes to is actually serving.
func (c *Client) VerifyUnsealed(ctx context.Context) error {
	status, err := c.api.Sys().SealStatusWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to query seal status: %w", err)
	}
	if !status.Initialized {
		return fmt.Errorf("vault is not initialized")
	}
	if status.Sealed {
		return fmt.Errorf("vault is still sealed")
	}
	logging.Debug("vault", "Seal status verified: initialized and unsealed")
	return nil
}

// StoreKV writes a secret under the KV v2 mount, overwriting any previous
// version at that path.
func (c *Client) StoreKV(ctx context.Context, mount, path string, data map[string]any) error {
	if mount == "" {
		mount = DefaultKVMount
	}
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return fmt.Errorf("vault secret path is required")
	}
	if _, err := c.api.KVv2(mount).Put(ctx, path, data); err != nil {
		return fmt.Errorf("failed to store secret at %s/%s: %w", mount, path, err)
	}
	logging.Debug("vault", "Stored secret at %s/%s", mount, path)
	return nil
}
