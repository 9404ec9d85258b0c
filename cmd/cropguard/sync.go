package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Yheng/CropGuard-sub000/internal/sync"
	"github.com/Yheng/CropGuard-sub000/internal/ui"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass now",
	Long: `Drain the offline queue against the CropGuard API.

A full pass submits every queued item plus failed items that still have
retry budget, in priority order, batch by batch. Use --incremental to
restrict the pass to items captured since the last successful sync.

Example usage:
  cropguard sync                 # Full pass
  cropguard sync --incremental   # Only items since the last pass`,
	Run: func(cmd *cobra.Command, args []string) {
		incremental, _ := cmd.Flags().GetBool("incremental")

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		rt, err := openRuntime(cfg, newLogger(cfg, "[sync] "))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.Close()

		ctx := context.Background()

		fmt.Printf("%s Checking connectivity...\n", ui.RenderAccent("📡"))
		quality := rt.monitor.Refresh(ctx)
		if quality == sync.QualityOffline {
			fmt.Fprintf(os.Stderr, "%s API unreachable, queue left intact\n", ui.RenderFail("✗"))
			os.Exit(1)
		}
		fmt.Printf("%s Link quality: %s\n", ui.RenderPass("✓"), quality)

		rt.engine.Bus().On(sync.EventSyncProgress, func(payload any) {
			if p, ok := payload.(sync.ProgressPayload); ok {
				fmt.Printf("\r   Synced %d/%d", p.Processed, p.Total)
			}
		})

		start := time.Now()
		var run *sync.SyncRun
		if incremental {
			run, err = rt.engine.IncrementalSync(ctx)
		} else {
			run, err = rt.engine.FullSync(ctx)
		}
		fmt.Println()

		if err != nil {
			if errors.Is(err, sync.ErrOffline) {
				fmt.Fprintf(os.Stderr, "%s Link lost mid-pass; remaining items stay queued\n", ui.RenderWarn("⚠"))
			} else {
				fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Processed: %d\n", run.ItemsProcessed)
		fmt.Printf("   Failed: %d\n", run.ItemsFailed)
		if run.ConflictsFound > 0 {
			fmt.Printf("   Conflicts: %d (run 'cropguard resolve' for any pending)\n", run.ConflictsFound)
		}
	},
}

func init() {
	syncCmd.Flags().Bool("incremental", false, "Only sync items captured since the last pass")
	rootCmd.AddCommand(syncCmd)
}
