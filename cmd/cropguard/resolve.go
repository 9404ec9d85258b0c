package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Yheng/CropGuard-sub000/internal/sync"
	"github.com/Yheng/CropGuard-sub000/internal/ui"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [conflict-id]",
	Short: "Resolve conflicts that need manual review",
	Long: `Resolve a sync conflict the engine could not settle automatically.

Without arguments, lists pending conflicts and prompts for one. With a
conflict ID and --choice, resolves non-interactively (for scripts).

Choices:
  keep_local      Resubmit the local version with override
  keep_remote     Accept the server's version and drop the local edit
  merged_payload  Resubmit a hand-merged payload (requires --merged-file)

Example usage:
  cropguard resolve
  cropguard resolve 3f2a... --choice keep_remote
  cropguard resolve 3f2a... --choice merged_payload --merged-file merged.json`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		choiceFlag, _ := cmd.Flags().GetString("choice")
		mergedFile, _ := cmd.Flags().GetString("merged-file")

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		rt, err := openRuntime(cfg, newLogger(cfg, "[resolve] "))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.Close()

		ctx := context.Background()

		pending, err := rt.db.ListConflicts(ctx, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing conflicts: %v\n", err)
			os.Exit(1)
		}
		if len(pending) == 0 {
			fmt.Println(ui.RenderPass("✓") + " No pending conflicts")
			return
		}

		var rec *sync.ConflictRecord
		if len(args) == 1 {
			for _, p := range pending {
				if p.ID == args[0] {
					rec = p
					break
				}
			}
			if rec == nil {
				fmt.Fprintf(os.Stderr, "Error: no pending conflict with ID %s\n", args[0])
				os.Exit(1)
			}
		}

		interactive := term.IsTerminal(int(os.Stdin.Fd()))

		var choice sync.Choice
		if choiceFlag != "" {
			choice = sync.Choice(choiceFlag)
			if rec == nil {
				fmt.Fprintln(os.Stderr, "Error: --choice requires a conflict ID")
				os.Exit(1)
			}
		} else {
			if !interactive {
				fmt.Fprintln(os.Stderr, "Error: no TTY; pass a conflict ID and --choice")
				os.Exit(1)
			}
			if rec, choice, err = promptResolution(pending, rec); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		var merged []byte
		if choice == sync.ChoiceMergedPayload {
			if mergedFile == "" {
				fmt.Fprintln(os.Stderr, "Error: merged_payload requires --merged-file")
				os.Exit(1)
			}
			if merged, err = os.ReadFile(mergedFile); err != nil {
				fmt.Fprintf(os.Stderr, "Error reading merged payload: %v\n", err)
				os.Exit(1)
			}
		}

		if err := rt.engine.ResolveConflict(ctx, rec.ID, choice, merged); err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving conflict: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Conflict %s resolved (%s)\n", ui.RenderPass("✓"), rec.ID, choice)
		if choice != sync.ChoiceKeepRemote {
			fmt.Println("   Item requeued; it syncs with override on the next pass")
		}
	},
}

// promptResolution walks the user through picking a conflict (when none was
// named on the command line) and a resolution choice.
func promptResolution(pending []*sync.ConflictRecord, rec *sync.ConflictRecord) (*sync.ConflictRecord, sync.Choice, error) {
	if rec == nil {
		options := make([]huh.Option[string], 0, len(pending))
		for _, p := range pending {
			label := fmt.Sprintf("%s  item %s  detected %s",
				p.ID[:8], p.WorkItemID, p.DetectedAt.Local().Format("2006-01-02 15:04"))
			options = append(options, huh.NewOption(label, p.ID))
		}

		var selected string
		pick := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title("Pending conflicts").
				Options(options...).
				Value(&selected),
		))
		if err := pick.Run(); err != nil {
			return nil, "", err
		}
		for _, p := range pending {
			if p.ID == selected {
				rec = p
				break
			}
		}
	}

	fmt.Printf("\n%s Conflict %s\n", ui.RenderWarn("⚠"), rec.ID)
	fmt.Printf("   Local:  %s (edited %s)\n", rec.Local.Status, rec.Local.CreatedAt.Local().Format("15:04:05"))
	fmt.Printf("   Remote: %s (edited %s)\n", rec.Remote.Status, rec.Remote.CreatedAt.Local().Format("15:04:05"))
	for _, d := range rec.Diffs {
		fmt.Printf("   %s: %s -> %s (%s)\n", d.Field, d.Local, d.Remote, d.Severity)
	}
	fmt.Println()

	var picked string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Resolution").
			Options(
				huh.NewOption("Keep local (override server)", string(sync.ChoiceKeepLocal)),
				huh.NewOption("Keep remote (drop local edit)", string(sync.ChoiceKeepRemote)),
				huh.NewOption("Merged payload (from --merged-file)", string(sync.ChoiceMergedPayload)),
			).
			Value(&picked),
	))
	if err := form.Run(); err != nil {
		return nil, "", err
	}
	return rec, sync.Choice(picked), nil
}

func init() {
	resolveCmd.Flags().String("choice", "", "Resolution: keep_local, keep_remote, merged_payload")
	resolveCmd.Flags().String("merged-file", "", "File holding the merged payload")
	rootCmd.AddCommand(resolveCmd)
}
