package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/engine/queue"
	redisclient "github.com/vietddude/reconciler/internal/infra/redis"
	"github.com/vietddude/reconciler/internal/infra/storage/postgres"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger [tx-id]",
	Short: "Enqueue an immediate high-priority poll for one transaction",
	Args:  cobra.ExactArgs(1),
	Run:   runTrigger,
}

func init() {
	rootCmd.AddCommand(triggerCmd)
}

func runTrigger(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	id := args[0]

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	repo := postgres.NewTxRepo(db)
	tx, err := repo.GetByID(ctx, id)
	if err != nil {
		slog.Error("Failed to load transaction", "tx", id, "error", err)
		os.Exit(1)
	}
	if tx.Status.IsTerminal() {
		fmt.Printf("transaction %s is already %s\n", id, tx.Status)
		os.Exit(1)
	}

	q := redisclient.NewQueue(client, redisclient.DefaultQueueConfig())
	job := &domain.PollingJob{
		TransactionID: tx.ID,
		ChainTxID:     tx.ChainTxID,
		RetryCount:    tx.RetryCount,
		LastCheckedAt: tx.LastCheckedAt,
	}
	err = q.Enqueue(ctx, job, queue.Options{Priority: domain.PriorityHigh})
	if errors.Is(err, queue.ErrDuplicateJob) {
		fmt.Printf("transaction %s already has a queued job\n", id)
		return
	}
	if err != nil {
		slog.Error("Failed to enqueue job", "tx", id, "error", err)
		os.Exit(1)
	}

	fmt.Printf("high-priority poll queued for %s\n", id)
}
