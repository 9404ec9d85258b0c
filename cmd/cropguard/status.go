package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Yheng/CropGuard-sub000/internal/sync"
	"github.com/Yheng/CropGuard-sub000/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue, link and sync status",
	Long: `Show the state of the local queue and the last sync pass.

Example usage:
  cropguard status`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		rt, err := openRuntime(cfg, newLogger(cfg, "[status] "))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.Close()

		ctx := context.Background()

		counts, err := rt.db.Counts(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
			os.Exit(1)
		}

		pending, err := rt.db.ListConflicts(ctx, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading conflicts: %v\n", err)
			os.Exit(1)
		}

		watermark, err := rt.db.LastSyncedAt(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading sync state: %v\n", err)
			os.Exit(1)
		}

		quality := rt.monitor.Refresh(ctx)

		fmt.Printf("%s CropGuard Status\n\n", ui.RenderHeader("📊"))

		link := ui.RenderPass(quality.String())
		if quality == sync.QualityOffline {
			link = ui.RenderFail("offline")
		} else if quality == sync.QualitySlow {
			link = ui.RenderWarn("slow")
		}
		fmt.Printf("Link:      %s\n", link)

		if watermark.IsZero() {
			fmt.Printf("Last sync: %s\n", ui.RenderMuted("never"))
		} else {
			fmt.Printf("Last sync: %s\n", watermark.Local().Format("2006-01-02 15:04:05"))
		}

		fmt.Printf("\nQueue:\n")
		fmt.Printf("   Queued:     %d\n", counts[sync.StatusQueued])
		fmt.Printf("   In flight:  %d\n", counts[sync.StatusInFlight])
		fmt.Printf("   Succeeded:  %d\n", counts[sync.StatusSucceeded])
		fmt.Printf("   Failed:     %d\n", counts[sync.StatusFailed])
		fmt.Printf("   Conflicted: %d\n", counts[sync.StatusConflicted])

		if len(pending) > 0 {
			fmt.Printf("\n%s %d conflict(s) need manual resolution: run 'cropguard resolve'\n",
				ui.RenderWarn("⚠"), len(pending))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
