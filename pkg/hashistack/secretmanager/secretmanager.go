package secretmanager

import (
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module supplies the optional *vault.Client consumed by config.LoadConfig.
// It is only included by the binaries when VAULT_ADDR is set.
var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

func Enabled() bool {
	_, ok := os.LookupEnv("VAULT_ADDR")
	return ok
}

func ProvideVault() (*vault.Client, error) {
	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		return nil, err
	}

	if token := os.Getenv("VAULT_TOKEN"); token != "" {
		if err := client.SetToken(token); err != nil {
			return nil, err
		}
	}

	zap.L().Info("[Vault] client configured", zap.String("addr", os.Getenv("VAULT_ADDR")))
	return client, nil
}
