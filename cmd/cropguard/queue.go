package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Yheng/CropGuard-sub000/internal/capture"
	"github.com/Yheng/CropGuard-sub000/internal/sync"
	"github.com/Yheng/CropGuard-sub000/internal/ui"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and add to the offline queue",
}

var queueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue an upload or recorded action",
	Long: `Queue work for the next sync pass.

An upload carries an image plus capture metadata. An action replays an
API call verbatim when the link returns.

Example usage:
  cropguard queue add --image leaf.jpg --field f-12 --crop tomato
  cropguard queue add --image blight.jpg --field f-03 --crop potato --priority urgent
  cropguard queue add --method POST --target /api/v1/treatments --body '{"field":"f-12"}'`,
	Run: func(cmd *cobra.Command, args []string) {
		image, _ := cmd.Flags().GetString("image")
		fieldID, _ := cmd.Flags().GetString("field")
		crop, _ := cmd.Flags().GetString("crop")
		notes, _ := cmd.Flags().GetString("notes")
		priorityName, _ := cmd.Flags().GetString("priority")
		method, _ := cmd.Flags().GetString("method")
		target, _ := cmd.Flags().GetString("target")
		body, _ := cmd.Flags().GetString("body")

		priority, err := sync.ParsePriority(priorityName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		rt, err := openRuntime(cfg, newLogger(cfg, "[queue] "))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.Close()

		ctx := context.Background()

		var item *sync.WorkItem
		switch {
		case image != "":
			if fieldID == "" || crop == "" {
				fmt.Fprintln(os.Stderr, "Error: --field and --crop are required with --image")
				os.Exit(1)
			}
			data, err := os.ReadFile(image)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading image: %v\n", err)
				os.Exit(1)
			}
			f := capture.New(fieldID, crop, image)
			f.Notes = notes
			item = sync.NewUpload(data, f.Metadata(), priority)
		case method != "" && target != "":
			item = sync.NewAction(method, target, []byte(body), priority)
		default:
			fmt.Fprintln(os.Stderr, "Error: provide --image (upload) or --method and --target (action)")
			os.Exit(1)
		}

		if err := item.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := rt.db.Enqueue(ctx, item); err != nil {
			fmt.Fprintf(os.Stderr, "Error queueing item: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Queued %s %s (priority %s)\n", ui.RenderPass("✓"), item.Kind, item.ID, item.Priority)
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued work",
	Long: `List items in the offline queue.

Example usage:
  cropguard queue list
  cropguard queue list --status failed`,
	Run: func(cmd *cobra.Command, args []string) {
		statusFilter, _ := cmd.Flags().GetString("status")

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		rt, err := openRuntime(cfg, newLogger(cfg, "[queue] "))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.Close()

		ctx := context.Background()

		var statuses []sync.Status
		if statusFilter != "" {
			statuses = append(statuses, sync.Status(statusFilter))
		}

		items, err := rt.db.List(ctx, statuses...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing queue: %v\n", err)
			os.Exit(1)
		}

		if len(items) == 0 {
			fmt.Println(ui.RenderMuted("Queue is empty"))
			return
		}

		for _, it := range items {
			marker := ui.RenderMuted("•")
			switch it.Status {
			case sync.StatusSucceeded:
				marker = ui.RenderPass("✓")
			case sync.StatusFailed:
				marker = ui.RenderFail("✗")
			case sync.StatusConflicted:
				marker = ui.RenderWarn("⚠")
			}
			fmt.Printf("%s %s  %-6s  %-7s  %-10s  %s\n",
				marker, it.ID, it.Kind, it.Priority, it.Status, it.CreatedAt.Local().Format("2006-01-02 15:04"))
			if it.LastError != "" {
				fmt.Printf("     %s\n", ui.RenderMuted(it.LastError))
			}
		}
	},
}

func init() {
	queueAddCmd.Flags().String("image", "", "Image file to upload")
	queueAddCmd.Flags().String("field", "", "Field identifier for the capture")
	queueAddCmd.Flags().String("crop", "", "Crop type for the capture")
	queueAddCmd.Flags().String("notes", "", "Free-form capture notes")
	queueAddCmd.Flags().String("priority", "normal", "Priority: urgent, high, normal, low")
	queueAddCmd.Flags().String("method", "", "HTTP method for a recorded action")
	queueAddCmd.Flags().String("target", "", "API path for a recorded action")
	queueAddCmd.Flags().String("body", "", "Request body for a recorded action")
	queueListCmd.Flags().String("status", "", "Only show items with this status")

	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueListCmd)
	rootCmd.AddCommand(queueCmd)
}
