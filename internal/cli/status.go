package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show transaction counts by status and the currently stuck set",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	repo := postgres.NewTxRepo(db)

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		slog.Error("Failed to count transactions", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, status := range []domain.TxStatus{
		domain.TxStatusPending,
		domain.TxStatusBroadcast,
		domain.TxStatusConfirming,
		domain.TxStatusConfirmed,
		domain.TxStatusFailed,
		domain.TxStatusCancelled,
	} {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
	}
	_ = w.Flush()

	cutoff := time.Now().Add(-cfg.Engine.StuckThreshold)
	stuck, err := repo.FindStuck(ctx, domain.TxStatusConfirming, cutoff)
	if err != nil {
		slog.Error("Failed to list stuck transactions", "error", err)
		os.Exit(1)
	}

	if len(stuck) > 0 {
		fmt.Println()
		sw := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(sw, "STUCK TX\tCHAIN TX\tCONFIRMATIONS\tSTUCK FOR")
		for _, tx := range stuck {
			_, _ = fmt.Fprintf(sw, "%s\t%s\t%d/%d\t%s\n",
				tx.ID, tx.ChainTxID, tx.Confirmations, tx.RequiredConfirmations,
				time.Since(tx.UpdatedAt).Round(time.Minute))
		}
		_ = sw.Flush()
	}
}
