// Command syncclient drives a one-shot or scheduled sync against an
// inbetweenies-v2 sync server from a JSON-file-backed local store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adrianco/the-goodies-sub000/internal/config"
	"github.com/adrianco/the-goodies-sub000/internal/logging"
	"github.com/adrianco/the-goodies-sub000/pkg/store"
	"github.com/adrianco/the-goodies-sub000/pkg/syncclient"
	"github.com/adrianco/the-goodies-sub000/pkg/syncstate"
)

var cfgFile string
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "syncclient",
		Short:   "inbetweenies-v2 sync client",
		Version: version,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	root.AddCommand(syncCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadClient(cmd *cobra.Command) (*syncclient.Client, *syncstate.Manager, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	logging.Init(&logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stderr})

	if cfg.Client.DeviceID == "" {
		return nil, nil, fmt.Errorf("client.device_id must be configured")
	}

	s, err := store.NewJSONStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open local store: %w", err)
	}

	state, err := syncstate.NewManager(cfg.Storage.DataDir, cfg.Client.DeviceID, cfg.Client.ServerURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open sync state: %w", err)
	}

	ccfg := syncclient.DefaultConfig()
	ccfg.ServerURL = cfg.Client.ServerURL
	ccfg.DeviceID = cfg.Client.DeviceID
	ccfg.UserID = cfg.Client.UserID
	ccfg.Timeout = cfg.Client.RequestTimeout

	return syncclient.New(ccfg, s, state), state, nil
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "run a single full sync against the configured server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := loadClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			resp, err := c.FullSync(ctx)
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen, color.Bold)
			yellow := color.New(color.FgYellow, color.Bold)
			cyan := color.New(color.FgCyan)

			green.Println("sync complete")
			cyan.Printf("  entities synced:       %d\n", resp.SyncStats.EntitiesSynced)
			cyan.Printf("  relationships synced:  %d\n", resp.SyncStats.RelationshipsSynced)
			if resp.SyncStats.ConflictsResolved > 0 {
				yellow.Printf("  conflicts resolved:    %d\n", resp.SyncStats.ConflictsResolved)
			} else {
				cyan.Printf("  conflicts resolved:    %d\n", resp.SyncStats.ConflictsResolved)
			}
			cyan.Printf("  duration:              %dms\n", resp.SyncStats.DurationMS)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp.SyncStats)
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show the local client's sync metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, state, err := loadClient(cmd)
			if err != nil {
				return err
			}

			md := state.Metadata()
			cyan := color.New(color.FgCyan, color.Bold)
			green := color.New(color.FgGreen)
			red := color.New(color.FgRed, color.Bold)

			cyan.Println("client status")
			if md.LastSyncSuccess {
				green.Printf("  last sync:  success\n")
			} else if md.LastSyncTime != nil {
				red.Printf("  last sync:  failed (%s)\n", md.LastSyncError)
			} else {
				fmt.Println("  last sync:  never")
			}
			if md.SyncInProgress {
				green.Println("  in progress")
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(md)
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "run a background scheduler performing periodic full syncs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			c, _, err := loadClient(cmd)
			if err != nil {
				return err
			}
			sched := syncclient.NewScheduler(c, cfg.Client.SyncInterval)
			sched.Start()
			defer sched.Stop()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return nil
		},
	}
	return cmd
}
