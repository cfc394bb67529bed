package main

import (
	"fmt"
	"os"

	"github.com/dlddu/tiny-oidc/internal/config"
	"github.com/dlddu/tiny-oidc/internal/logger"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "tiny-oidc",
		Short:         "OAuth 2.1 / OpenID Connect authorization server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (environment variables override it)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newKeysCmd())

	err := root.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads --config when given and initializes the logger from it
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	}

	logger.Init(logger.Config{
		Env:         cfg.Log.Env,
		Level:       cfg.Log.Level,
		ServiceName: "tiny-oidc",
	})
	return cfg, nil
}
