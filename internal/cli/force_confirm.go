package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/infra/storage/postgres"
)

var forceConfirmCmd = &cobra.Command{
	Use:   "force-confirm [tx-id]",
	Short: "Force a stuck transaction to confirmed (last resort)",
	Args:  cobra.ExactArgs(1),
	Run:   runForceConfirm,
}

func init() {
	rootCmd.AddCommand(forceConfirmCmd)
}

func runForceConfirm(cmd *cobra.Command, args []string) {
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

	repo := postgres.NewTxRepo(db)

	tx, changed, err := repo.UpdateStatus(ctx, id, domain.StatusUpdate{
		Status: domain.TxStatusConfirmed,
		Metadata: map[string]any{
			domain.MetaForcedConfirmation: true,
			"reason":                      domain.ReasonForcedConfirmation,
			"operator":                    true,
		},
	})
	if err != nil {
		slog.Error("Failed to force-confirm", "tx", id, "error", err)
		os.Exit(1)
	}
	if !changed {
		fmt.Printf("transaction %s is already %s, nothing to do\n", id, tx.Status)
		os.Exit(1)
	}

	slog.Warn("Forced confirmation applied by operator", "tx", id)
	fmt.Printf("transaction %s forced to confirmed\n", id)
}
