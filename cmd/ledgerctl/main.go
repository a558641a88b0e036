// Command ledgerctl is the operator tool for the event ledger: schema
// migrations, inspection of recorded events and replay of failed events
// through the replay queue.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"payhook/internal/app"
	"payhook/internal/config"
	"payhook/internal/db"
	"payhook/internal/ledger"
	"payhook/internal/replay"
)

// ledgerReader is the operator side of the ledger used by list, show and replay.
type ledgerReader interface {
	Lookup(ctx context.Context, eventID string) (*ledger.Record, error)
	ledger.Archive
}

type migrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
	Close() error
}

type enqueuer interface {
	Enqueue(ctx context.Context, eventIDs []string, reason string) (int, error)
}

// deps opens backends lazily so that --help and flag errors never touch the
// network.
type deps struct {
	out           io.Writer
	openLedger    func(ctx context.Context) (ledgerReader, func(), error)
	openMigrator  func() (migrator, error)
	openPublisher func(ctx context.Context) (enqueuer, error)
}

func main() {
	if err := newRootCmd(realDeps()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(d *deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect and maintain the webhook event ledger",
		Version:       config.NewBuildInfo().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(d.out)

	root.AddCommand(migrateCmd(d))
	root.AddCommand(listCmd(d))
	root.AddCommand(showCmd(d))
	root.AddCommand(replayCmd(d))
	return root
}

func realDeps() *deps {
	var (
		cfg    *config.Config
		logger *slog.Logger
	)
	load := func() (*config.Config, error) {
		if cfg != nil {
			return cfg, nil
		}
		c, err := config.Load(config.RoleTool)
		if err != nil {
			return nil, err
		}
		cfg = c
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
			lvl = slog.LevelInfo
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
		return cfg, nil
	}

	return &deps{
		out: os.Stdout,
		openLedger: func(ctx context.Context) (ledgerReader, func(), error) {
			c, err := load()
			if err != nil {
				return nil, nil, err
			}
			pool, err := app.OpenPool(ctx, c.Database)
			if err != nil {
				return nil, nil, err
			}
			return db.NewLedgerRepo(pool), pool.Close, nil
		},
		openMigrator: func() (migrator, error) {
			c, err := load()
			if err != nil {
				return nil, err
			}
			return db.NewMigrator(c.Database.URL.Unmask(), logger)
		},
		openPublisher: func(ctx context.Context) (enqueuer, error) {
			c, err := load()
			if err != nil {
				return nil, err
			}
			if err := c.RequireReplayQueue(); err != nil {
				return nil, err
			}
			awsCfg, err := c.AWS.LoadAWS(ctx)
			if err != nil {
				return nil, err
			}
			return replay.NewPublisher(sqs.NewFromConfig(awsCfg), c.AWS.ReplayQueueURL, logger), nil
		},
	}
}
