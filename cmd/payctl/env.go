package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"payflow.app/resolver/common/id"
	"payflow.app/resolver/common/logger"
	"payflow.app/resolver/core/config"
	"payflow.app/resolver/core/db"
	"payflow.app/resolver/internal/app"
)

// env holds the connections a command asked for. Commands that only touch
// Redis never open a database pool.
type env struct {
	cfg   config.Config
	db    *db.DB
	redis *redis.Client
}

type needs struct {
	db    bool
	redis bool
}

func openEnv(ctx context.Context, n needs) (*env, error) {
	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		return nil, err
	}

	// Command output goes to stdout; logs stay on stderr.
	slog.SetDefault(slog.New(logger.NewTraceHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))))

	if err := id.Init(id.NodeCLI); err != nil {
		return nil, fmt.Errorf("initializing id generator: %w", err)
	}

	e := &env{cfg: cfg}
	if n.db {
		e.db, err = db.New(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
	}
	if n.redis {
		e.redis, err = app.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

func (e *env) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
