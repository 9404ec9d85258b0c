package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Yheng/CropGuard-sub000/internal/dashboard"
	"github.com/Yheng/CropGuard-sub000/internal/spool"
	"github.com/Yheng/CropGuard-sub000/internal/ui"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon (foreground)",
	Long: `Run the full CropGuard client in the foreground.

The daemon:
  1. Watches the capture spool directory and queues new captures
  2. Probes API connectivity and classifies link quality
  3. Runs sync passes on a timer, pausing while offline
  4. Serves the real-time WebSocket dashboard

Example usage:
  cropguard daemon                       # Run with config defaults
  cropguard daemon --no-dashboard       # Skip the WebSocket server`,
	Run: func(cmd *cobra.Command, args []string) {
		noDashboard, _ := cmd.Flags().GetBool("no-dashboard")

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		logger := newLogger(cfg, "[cropguard] ")

		rt, err := openRuntime(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.Close()

		rt.monitor.Start()

		watcher, err := spool.New(cfg.Spool.Dir, rt.db, &spool.Config{Logger: logger})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating spool watcher: %v\n", err)
			os.Exit(1)
		}

		var dash *dashboard.Server
		if !noDashboard {
			dash = dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: logger,
			}, rt.engine.Metrics(), rt.db)
			dash.Attach(rt.engine.Bus())

			if err := dash.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer func() { _ = dash.Stop() }()
		}

		if err := rt.engine.StartAutoSync(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting auto-sync: %v\n", err)
			os.Exit(1)
		}
		defer rt.engine.StopAutoSync()

		fmt.Printf("%s CropGuard daemon started\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Spool: %s\n", cfg.Spool.Dir)
		fmt.Printf("   Queue: %s\n", cfg.DB.Path)
		fmt.Printf("   Sync interval: %v\n", cfg.Sync.Interval)
		if dash != nil {
			fmt.Printf("   Dashboard: http://%s\n", dash.GetAddr())
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// The spool watcher blocks until shutdown.
		if err := watcher.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("\nCropGuard daemon stopped")
	},
}

func init() {
	daemonCmd.Flags().Bool("no-dashboard", false, "Disable the WebSocket dashboard")
	rootCmd.AddCommand(daemonCmd)
}
