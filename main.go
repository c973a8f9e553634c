// xpense is a shared-expense tracker for a fixed group of flatmates: expenses
// are split equally, balances are netted across the whole group, and bills can
// be photographed instead of typed in.
package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/xpense-app/xpense/api"
	"github.com/xpense-app/xpense/auth"
	"github.com/xpense-app/xpense/cache"
	"github.com/xpense-app/xpense/config"
	"github.com/xpense-app/xpense/database"
	"github.com/xpense-app/xpense/images"
	"github.com/xpense-app/xpense/logging"
	"github.com/xpense-app/xpense/ocr"
)

func main() {
	logging.Setup()

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "xpense",
		Short:         "Shared expense tracker for flatmates",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "xpense.yaml", "path to the configuration file")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newCreateSchemaCommand(&configPath))
	root.AddCommand(newAddUserCommand(&configPath))
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			balanceCache := openCache(cfg)

			opts := api.Options{
				Store:  store,
				Cache:  balanceCache,
				JWT:    auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Std()),
				Config: cfg,
			}

			if cfg.Images.Dir != "" {
				imageStore, err := images.NewDiskStore(cfg.Images.Dir, cfg.Images.BaseURL)
				if err != nil {
					return err
				}
				opts.Images = imageStore
				opts.ImageDir = imageStore.Dir()
			}

			if cfg.OCR.APIKey != "" {
				opts.Analyzer = ocr.NewClient(cfg.OCR.APIKey, cfg.OCR.BaseURL, cfg.OCR.Models)
			} else {
				slog.Warn("No OCR API key configured, bill analysis disabled")
			}

			handler := h2c.NewHandler(api.New(opts).Handler(), &http2.Server{})

			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			slog.Info("Starting server", "addr", addr,
				"database", cfg.Database.Driver, "cache", cfg.Cache.Driver)
			return http.ListenAndServe(addr, handler)
		},
	}
}

func newCreateSchemaCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create-schema",
		Short: "Create the postgres tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("create-schema only applies to the postgres driver, have %q", cfg.Database.Driver)
			}

			store, err := database.NewPgStore(pgConfig(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.CreateSchema(cmd.Context()); err != nil {
				return err
			}
			slog.Info("Schema created")
			return nil
		},
	}
}

func newAddUserCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add-user <username> <email>",
		Short: "Register a user, reading the password from stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}

			user, err := store.CreateUser(cmd.Context(), args[0], args[1], password)
			if err != nil {
				return err
			}
			slog.Info("User created", "id", user.ID, "username", user.Username)
			return nil
		},
	}
}

func readPassword(in io.Reader) (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	password = strings.TrimRight(password, "\r\n")
	if len(password) < 6 {
		return "", fmt.Errorf("password must be at least 6 characters")
	}
	return password, nil
}

// openStore builds the configured storage backend.
func openStore(cfg *config.Config) (database.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return database.NewSQLiteStore(cfg.Database.Path)
	case "postgres":
		return database.NewPgStore(pgConfig(cfg))
	case "memory":
		slog.Warn("Using in-memory storage, data is lost on restart")
		return database.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// openCache builds the configured balance cache.
func openCache(cfg *config.Config) cache.Cache {
	if cfg.Cache.Driver == "redis" {
		return cache.NewRedisCache(cache.Config{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      cfg.Cache.TTL.Std(),
		})
	}
	return cache.NewInMemoryCache()
}

func pgConfig(cfg *config.Config) database.PgConfig {
	return database.PgConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
	}
}
