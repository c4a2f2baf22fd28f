package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/JoelPallero/Church-Center-sub001/internal/migrate"
	"github.com/JoelPallero/Church-Center-sub001/internal/obs"
	"github.com/JoelPallero/Church-Center-sub001/internal/store/pg"
)

func main() {
	_ = godotenv.Load()
	var (
		dsn            = flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Directory of SQL migrations (default: bundled)")
		seedsPath      = flag.String("seeds", "", "Directory of SQL seeds (default: bundled)")
		retention      = flag.Duration("retention", 7*24*time.Hour, "purge-sessions: keep sessions expired less than this long ago")
		timeout        = flag.Duration("timeout", 60*time.Second, "Overall command timeout")
	)
	flag.Parse()

	logger, err := obs.NewLogger("development", os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		logger.Fatal("usage: migrate [up|down|seed|status|purge-sessions]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), dirOr(*migrationsPath, migrate.Migrations()), dirOr(*seedsPath, migrate.Seeds()))

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		logger.Info("migrations applied", zap.Strings("files", applied))
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			logger.Info("migration rolled back", zap.String("file", name))
		}
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		logger.Info("seeds applied", zap.Strings("files", applied))
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	case "purge-sessions":
		var n int64
		cutoff := time.Now().Add(-*retention)
		n, err = store.PurgeExpiredSessions(ctx, cutoff)
		if err == nil {
			logger.Info("expired sessions purged", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
		}
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
}

func dirOr(path string, bundled fs.FS) fs.FS {
	if path == "" {
		return bundled
	}
	return os.DirFS(path)
}
