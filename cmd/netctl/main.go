// netctl is the operator tool for a networld deployment.
//
// Usage:
//
//	go run ./cmd/netctl <command> [flags]
//
// Commands: recent, prune, hashkey
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/l1jgo/networld/internal/config"
	"github.com/l1jgo/networld/internal/persist"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func printUsage() {
	fmt.Println("Usage: netctl <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  recent   Print the most recent archived actions of a world")
	fmt.Println("  prune    Delete archived actions older than a cutoff")
	fmt.Println("  hashkey  Print the bcrypt hash of a world access key")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	worldName := fs.String("world", "", "world name (defaults to world.name from config)")
	limit := fs.Int("n", 20, "number of actions to print")
	olderThan := fs.Duration("older-than", 7*24*time.Hour, "prune cutoff age")
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	_ = fs.Parse(os.Args[2:])

	var err error
	switch cmd {
	case "hashkey":
		err = hashKey(fs.Arg(0), *cost)
	case "recent", "prune":
		err = withArchive(*worldName, func(ctx context.Context, repo *persist.HistoryRepo, world string) error {
			if cmd == "recent" {
				return printRecent(ctx, repo, world, *limit)
			}
			n, err := repo.Prune(ctx, world, time.Now().Add(-*olderThan))
			if err == nil {
				fmt.Printf("pruned %d actions from %s\n", n, world)
			}
			return err
		})
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR [%s]: %v\n", cmd, err)
		os.Exit(1)
	}
}

func hashKey(key string, cost int) error {
	if key == "" {
		return fmt.Errorf("missing access key argument")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}

func withArchive(worldName string, fn func(context.Context, *persist.HistoryRepo, string) error) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	if worldName == "" {
		worldName = cfg.World.Name
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := persist.Open(ctx, cfg.Database, zap.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, persist.NewHistoryRepo(db), worldName)
}

func printRecent(ctx context.Context, repo *persist.HistoryRepo, world string, limit int) error {
	rows, err := repo.Recent(ctx, world, limit)
	if err != nil {
		return err
	}
	for _, r := range rows {
		fmt.Printf("%s  tick %-8d %-28s %s -> %s  %s\n",
			r.RecordedAt.Format(time.RFC3339), r.Tick, r.Type, r.From, r.To, r.Body)
	}
	if len(rows) == 0 {
		fmt.Printf("no archived actions for %s\n", world)
	}
	return nil
}
