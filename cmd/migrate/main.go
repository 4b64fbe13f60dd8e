package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"

	"github.com/i474232898/ski-conditions/internal/storage"
	"github.com/i474232898/ski-conditions/migrations"
)

func main() {
	dsn := flag.String("db", envOrDefault("DATABASE_URL", "sqlite://data/ski.db"), "database DSN (sqlite:// or postgres://)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-db dsn] <command>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  up          Migrate to the latest version")
		fmt.Fprintln(os.Stderr, "  up-one      Migrate one version up")
		fmt.Fprintln(os.Stderr, "  down        Roll back one version")
		fmt.Fprintln(os.Stderr, "  status      Show migration status")
		fmt.Fprintln(os.Stderr, "  version     Show current version")
		fmt.Fprintln(os.Stderr, "  mode        Show the detected table layout")
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, *dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = store.Close() }()

	mode, err := store.ResolveSchemaMode(ctx)
	if err != nil {
		log.Fatalf("resolve schema mode: %v", err)
	}

	cmd := args[0]
	if cmd == "mode" {
		fmt.Println(mode)
		return
	}
	if mode == storage.ModeB {
		log.Fatalf("legacy table layout detected; migrations only manage the current layout")
	}

	if err := migrations.Setup(store.GooseDialect()); err != nil {
		log.Fatalf("%v", err)
	}

	db := store.DB()
	switch cmd {
	case "up":
		err = goose.UpContext(ctx, db, ".")
	case "up-one":
		err = goose.UpByOneContext(ctx, db, ".")
	case "down":
		err = goose.DownContext(ctx, db, ".")
	case "status":
		err = goose.StatusContext(ctx, db, ".")
	case "version":
		err = goose.VersionContext(ctx, db, ".")
	default:
		log.Fatalf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
