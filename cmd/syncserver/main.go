// Command syncserver runs the inbetweenies-v2 sync server: a LevelDB-backed
// graph store behind the sync protocol handler and REST transport.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adrianco/the-goodies-sub000/internal/auth"
	"github.com/adrianco/the-goodies-sub000/internal/config"
	"github.com/adrianco/the-goodies-sub000/internal/httpapi"
	"github.com/adrianco/the-goodies-sub000/internal/logging"
	"github.com/adrianco/the-goodies-sub000/pkg/conflict"
	"github.com/adrianco/the-goodies-sub000/pkg/delta"
	"github.com/adrianco/the-goodies-sub000/pkg/store"
	"github.com/adrianco/the-goodies-sub000/pkg/syncserver"
	"github.com/adrianco/the-goodies-sub000/pkg/syncstate"
)

var cfgFile string
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "syncserver",
		Short:   "inbetweenies-v2 sync server",
		Version: version,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start serving sync requests",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "", "override server.listen from config")
	cmd.Flags().String("data-dir", "", "override storage.data_dir from config")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	logging.Init(&logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stderr})

	s, err := store.NewLevelStore(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	stateDir := cfg.Storage.DataDir + "/state"
	state, err := syncstate.NewManager(stateDir, "server", "")
	if err != nil {
		return fmt.Errorf("open sync state: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be configured")
	}
	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	if err != nil {
		return fmt.Errorf("init token issuer: %w", err)
	}

	rl := auth.NewRateLimiter(auth.RateLimitConfig{
		IPRequestsPerMinute:     cfg.RateLimit.IPRequestsPerMinute,
		UserRequestsPerMinute:   cfg.RateLimit.UserRequestsPerMinute,
		GlobalRequestsPerSecond: cfg.RateLimit.GlobalRequestsPerSecond,
		BlockDuration:           cfg.RateLimit.BlockDuration,
		MaxViolations:           cfg.RateLimit.MaxViolations,
	})

	handler := syncserver.NewHandler(s, delta.NewEngine(s), conflict.NewResolver())
	srv := httpapi.NewServer(httpapi.Config{Listen: cfg.Server.Listen, AllowGuest: cfg.Auth.AllowGuest},
		handler, state, issuer, rl)

	return srv.ListenAndServe()
}
