package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	redisclient "github.com/vietddude/reconciler/internal/infra/redis"
)

var queueCmd = &cobra.Command{
	Use:   "queue [stats|pause|resume|clear]",
	Short: "Inspect or control the polling job queue",
	Args:  cobra.ExactArgs(1),
	Run:   runQueue,
}

func init() {
	rootCmd.AddCommand(queueCmd)
}

func runQueue(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	ctx := context.Background()
	q := redisclient.NewQueue(client, redisclient.DefaultQueueConfig())

	switch args[0] {
	case "stats":
		stats, err := q.Stats(ctx)
		if err != nil {
			slog.Error("Failed to read queue stats", "error", err)
			os.Exit(1)
		}
		fmt.Printf("waiting:   %d\n", stats.Waiting)
		fmt.Printf("delayed:   %d\n", stats.Delayed)
		fmt.Printf("active:    %d\n", stats.Active)
		fmt.Printf("completed: %d\n", stats.Completed)
		fmt.Printf("failed:    %d\n", stats.Failed)
		fmt.Printf("paused:    %v\n", stats.Paused)
	case "pause":
		if err := q.Pause(ctx); err != nil {
			slog.Error("Failed to pause queue", "error", err)
			os.Exit(1)
		}
		fmt.Println("queue paused")
	case "resume":
		if err := q.Resume(ctx); err != nil {
			slog.Error("Failed to resume queue", "error", err)
			os.Exit(1)
		}
		fmt.Println("queue resumed")
	case "clear":
		if err := q.Clear(ctx); err != nil {
			slog.Error("Failed to clear queue", "error", err)
			os.Exit(1)
		}
		fmt.Println("queue cleared")
	default:
		fmt.Printf("unknown subcommand %q\n", args[0])
		os.Exit(1)
	}
}
