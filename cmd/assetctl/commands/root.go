// Package commands implements the assetctl maintenance commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdisakar/content-assets/pkg/contentasset/config"
)

var (
	cfgFile string
	// rt is built before every command that needs the backends
	rt *config.Runtime
	// settings is the resolved service configuration
	settings *config.ServerConfig
)

var rootCmd = &cobra.Command{
	Use:           "assetctl",
	Short:         "Maintenance for stored content assets",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadViper(cfgFile); err != nil {
			return err
		}
		var err error
		settings, err = config.Load(serverOptions()...)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		rt, err = settings.Build(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to connect backends: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if rt == nil {
			return nil
		}
		return rt.Close()
	},
}

// Execute runs the root command
func Execute() error {
	rootCmd.SetContext(context.Background())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./assetctl.yaml or $HOME/.assetctl/assetctl.yaml)")

	flags := []struct{ name, key, usage string }{
		{"database-url", "database.url", "memory, postgres://..., or sqlite://<path>"},
		{"database-driver", "database.driver", "pgx or gorm"},
		{"storage-url", "storage.url", "memory://, file:///dir, s3://bucket?region=..., gs://bucket"},
		{"redis-url", "redis.url", "redis holding the leak ledger"},
		{"asset-prefix", "assets.prefix", "path managed references live under"},
		{"log-level", "log.level", "debug, info, warn or error"},
	}
	for _, f := range flags {
		rootCmd.PersistentFlags().String(f.name, "", f.usage)
		if err := viper.BindPFlag(f.key, rootCmd.PersistentFlags().Lookup(f.name)); err != nil {
			fmt.Println("Failed to bind flag:", err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(sweepCmd, retryCmd, leaksCmd, verifyCmd)
}

// loadViper reads defaults, an optional yaml file and ASSETCTL_ variables
func loadViper(file string) error {
	viper.SetDefault("database.url", "memory")
	viper.SetDefault("database.driver", "pgx")
	viper.SetDefault("storage.url", "memory://")
	viper.SetDefault("sweep.grace", "24h")
	viper.SetDefault("log.level", "info")

	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.assetctl")
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("assetctl")
	}

	viper.SetEnvPrefix("ASSETCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	return nil
}

func serverOptions() []config.Option {
	opts := []config.Option{
		config.WithDatabaseURL(viper.GetString("database.url")),
		config.WithDatabaseDriver(viper.GetString("database.driver")),
		config.WithStorageURL(viper.GetString("storage.url")),
		config.WithEventLogging(false),
		config.WithLogger(newLogger(viper.GetString("log.level"))),
	}
	if v := viper.GetString("redis.url"); v != "" {
		opts = append(opts, config.WithRedis(v, false))
	}
	if v := viper.GetString("assets.prefix"); v != "" {
		opts = append(opts, config.WithAssetPrefix(v))
	}
	if v := viper.GetStringSlice("assets.public_base_urls"); len(v) > 0 {
		opts = append(opts, config.WithPublicBaseURLs(v...))
	}
	if v := viper.GetString("database.schema"); v != "" {
		opts = append(opts, config.WithDatabaseSchema(v))
	}
	return opts
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
