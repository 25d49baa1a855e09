package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AddisonGoolsbee/thebutton/internal/dbconfig"
)

// Deletes ledger rows older than the rate-limit window and verification
// records older than the verification window. Neither is needed for
// correctness once its window has passed; this only caps table growth.
func main() {
	rateWindow := flag.Duration("rate-window", time.Minute, "rate limit window; ledger rows older than this go")
	verifyWindow := flag.Duration("verify-window", 10*time.Minute, "verification window; older records go")
	margin := flag.Duration("margin", time.Minute, "extra slack kept beyond each window")
	dryRun := flag.Bool("dry-run", false, "count instead of delete")
	flag.Parse()

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	now := time.Now().UTC()
	batchCutoff := now.Add(-*rateWindow - *margin)
	verifyCutoff := now.Add(-*verifyWindow - *margin)

	if *dryRun {
		var batches, verifications int64
		if err := pool.QueryRow(context.Background(), `
			SELECT COUNT(*) FROM click_batches WHERE created_at < $1
		`, batchCutoff).Scan(&batches); err != nil {
			fmt.Fprintf(os.Stderr, "count batches: %v\n", err)
			os.Exit(1)
		}
		if err := pool.QueryRow(context.Background(), `
			SELECT COUNT(*) FROM verifications WHERE verified_at < $1
		`, verifyCutoff).Scan(&verifications); err != nil {
			fmt.Fprintf(os.Stderr, "count verifications: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Would prune %d ledger rows and %d verification records\n", batches, verifications)
		return
	}

	batchTag, err := pool.Exec(context.Background(), `
		DELETE FROM click_batches WHERE created_at < $1
	`, batchCutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prune batches: %v\n", err)
		os.Exit(1)
	}

	verifyTag, err := pool.Exec(context.Background(), `
		DELETE FROM verifications WHERE verified_at < $1
	`, verifyCutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prune verifications: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf(
		"Prune complete: %d ledger rows, %d verification records\n",
		batchTag.RowsAffected(), verifyTag.RowsAffected(),
	)
}
