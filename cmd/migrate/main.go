package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"

	"github.com/farmlink/farmlink-backend/pkg/config"
	"github.com/farmlink/farmlink-backend/pkg/db"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/migrate"
)

const serviceKind = "migrate"

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

// step runs one goose operation against an open database.
type step func(ctx context.Context, pool *sql.DB, opts options) error

var steps = map[string]step{
	"up":     gooseStep("up"),
	"down":   gooseStep("down"),
	"redo":   gooseStep("redo"),
	"status": gooseStep("status"),
	"version": func(ctx context.Context, pool *sql.DB, opts options) error {
		if opts.version == "" {
			return errors.New("missing -version for version command")
		}
		return migrate.MigrateToVersion(ctx, pool, opts.dir, opts.version)
	},
}

func gooseStep(command string) step {
	return func(ctx context.Context, pool *sql.DB, opts options) error {
		return migrate.Run(ctx, pool, opts.dir, command)
	}
}

func main() {
	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: up|down|redo|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "migrations directory; the default runs the embedded set")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	if done, err := runOffline(opts); done {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	run, ok := steps[opts.cmd]
	if !ok {
		known := make([]string, 0, len(steps))
		for k := range steps {
			known = append(known, k)
		}
		slices.Sort(known)
		fmt.Fprintf(os.Stderr, "unknown -cmd value %q (want %s, create or validate)\n", opts.cmd, strings.Join(known, ", "))
		os.Exit(2)
	}

	if err := runOnline(opts, run); err != nil {
		os.Exit(1)
	}
}

// runOffline handles the commands that only touch migration files. It reports
// whether opts.cmd was one of them.
func runOffline(opts options) (bool, error) {
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return true, errors.New("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return true, fmt.Errorf("create migration: %w", err)
		}
		fmt.Println("created migration:", path)
		return true, nil
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return true, fmt.Errorf("migration validation failed: %w", err)
		}
		fmt.Println("migration validation passed")
		return true, nil
	}
	return false, nil
}

func runOnline(opts options, run step) error {
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "load config", err)
		return err
	}
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": opts.cmd, "dir": opts.dir})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "open database", err)
		return err
	}
	defer client.Close()

	pool, err := client.DB().DB()
	if err != nil {
		logg.Error(ctx, "open sql pool", err)
		return err
	}

	if err := run(ctx, pool, opts); err != nil {
		logg.Error(ctx, "migration command failed", err)
		return err
	}
	logg.Info(ctx, "migration command completed")
	return nil
}
