// Command transferdemo is a small CLI wiring config, logging, a
// Postgres pool, the event store, the command executors, and the
// balance projection runner for the account/transfer example.
//
// Usage:
//
//	transferdemo open-account -id acct-1 -owner alice -opening 100
//	transferdemo transfer -from acct-1 -to acct-2 -amount 40
//	transferdemo run-projection
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/go-dcb/runtime/command"
	"github.com/go-dcb/runtime/envelope"
	"github.com/go-dcb/runtime/eventstore/postgres"
	"github.com/go-dcb/runtime/examples/transfer"
	"github.com/go-dcb/runtime/internal/config"
	"github.com/go-dcb/runtime/internal/logger"
	projpg "github.com/go-dcb/runtime/projection/postgres"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: transferdemo <open-account|transfer|run-projection> [flags]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.L()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := ensureSchema(ctx, pool); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	store := postgres.New(pool, "")

	switch os.Args[1] {
	case "open-account":
		runOpenAccount(ctx, store, os.Args[2:])
	case "transfer":
		runTransfer(ctx, store, os.Args[2:])
	case "run-projection":
		runProjection(ctx, store, pool, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(2)
	}
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{
		postgres.CreateSchemaSQL(""),
		projpg.CreateSchemaSQL(""),
		transfer.CreateBalancesSchemaSQL(""),
	} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func runOpenAccount(ctx context.Context, store *postgres.Store, args []string) {
	fs := flag.NewFlagSet("open-account", flag.ExitOnError)
	id := fs.String("id", "", "account id")
	owner := fs.String("owner", "", "owner name")
	opening := fs.Int64("opening", 0, "opening balance")
	fs.Parse(args)

	ex := transfer.NewOpenAccountExecutor(store)
	result, err := command.ExecuteWithRetry[transfer.OpenAccountInput](
		ctx, ex,
		transfer.OpenAccountInput{AccountID: *id, Owner: *owner, Opening: *opening},
		envelope.NewUserInitiated(),
		command.RetryPolicy{},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open-account failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("opened %s at position %d\n", *id, result.Position)
}

func runTransfer(ctx context.Context, store *postgres.Store, args []string) {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	id := fs.String("transfer-id", "", "transfer id")
	from := fs.String("from", "", "source account id")
	to := fs.String("to", "", "destination account id")
	amount := fs.Int64("amount", 0, "amount to transfer")
	fs.Parse(args)

	ex := transfer.NewTransferExecutor(store)
	result, err := command.ExecuteWithRetry[transfer.TransferInput](
		ctx, ex,
		transfer.TransferInput{TransferID: *id, From: *from, To: *to, Amount: *amount},
		envelope.NewUserInitiated(),
		command.RetryPolicy{},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transfer failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("transferred %d from %s to %s, new head %d\n", *amount, *from, *to, result.Position)
}

func runProjection(ctx context.Context, store *postgres.Store, pool *pgxpool.Pool, cfg *config.Config) {
	checkpoint := projpg.NewCheckpoint(pool, "")
	transactor := projpg.NewTransactor(pool)
	runner := transfer.NewBalanceRunner(store, checkpoint, transactor, logger.L())
	if err := runner.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "run-projection stopped: %v\n", err)
		os.Exit(1)
	}
}

