package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
)

// SecretManager reads KV v2 secrets.
type SecretManager struct {
	client *api.Client
	mount  string
}

func NewSecretManager(address, token, mount string) (*SecretManager, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	if mount == "" {
		mount = "secret"
	}
	return &SecretManager{client: client, mount: strings.Trim(mount, "/")}, nil
}

// Read returns one string field of the secret at path. A missing secret or
// field is reported as ("", false, nil).
func (sm *SecretManager) Read(ctx context.Context, path, field string) (string, bool, error) {
	secret, err := sm.client.Logical().ReadWithContext(ctx, sm.mount+"/data/"+strings.Trim(path, "/"))
	if err != nil {
		return "", false, fmt.Errorf("vault read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", false, nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", false, nil
	}
	value, ok := data[field].(string)
	if !ok || value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// Overrides resolves each target from "path#field" references. Unresolved
// references are left out of the result.
func (sm *SecretManager) Overrides(ctx context.Context, refs map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(refs))
	for target, ref := range refs {
		if ref == "" {
			continue
		}
		path, field, ok := strings.Cut(ref, "#")
		if !ok {
			return nil, fmt.Errorf("vault reference %q must be path#field", ref)
		}
		value, found, err := sm.Read(ctx, path, field)
		if err != nil {
			return nil, err
		}
		if found {
			out[target] = value
		}
	}
	return out, nil
}
