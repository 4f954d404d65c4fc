package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"keyed-auth/internal/config"
	"keyed-auth/internal/db"
)

func main() {
	target := flag.Int64("to", 0, "version objetivo para down (0 = solo la ultima)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [-to N] up|down|status\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewExample()
	defer logger.Sync()

	mig, err := db.NewMigrator(cfg.DatabaseURL, logger)
	if err != nil {
		log.Fatal(err)
	}

	err = run(context.Background(), mig, flag.Arg(0), *target)
	if errors.Is(err, errUnknownCommand) {
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
}

var errUnknownCommand = errors.New("unknown command")

type migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context, target int64) error
	Status(ctx context.Context) error
}

func run(ctx context.Context, m migrator, command string, target int64) error {
	switch command {
	case "up":
		return m.Up(ctx)
	case "down":
		return m.Down(ctx, target)
	case "status":
		return m.Status(ctx)
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, command)
	}
}
