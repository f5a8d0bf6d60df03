package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l1jgo/networld/internal/config"
	coresys "github.com/l1jgo/networld/internal/core/system"
	"github.com/l1jgo/networld/internal/data"
	"github.com/l1jgo/networld/internal/handler"
	gonet "github.com/l1jgo/networld/internal/net"
	"github.com/l1jgo/networld/internal/persist"
	"github.com/l1jgo/networld/internal/scripting"
	"github.com/l1jgo/networld/internal/system"
	"github.com/l1jgo/networld/internal/world"
	"github.com/pkg/profile"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName, worldName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              networld  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(world: %s)\033[0m\n\n", serverName, worldName)
}

func printSection(title string) {
	lineLen := max(46-len(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-len(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	switch cfg.Server.Profile {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printBanner(cfg.Server.Name, cfg.World.Name)

	// 3. Action-history archive (optional)
	printSection("archive")
	archiver, closeArchive, err := openArchive(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeArchive()
	fmt.Println()

	// 4. Load data and scripts
	printSection("data")
	var spawns handler.SpawnPoints
	if cfg.Data.SpawnPoints != "" {
		tbl, err := data.LoadSpawnTable(cfg.Data.SpawnPoints)
		if err != nil {
			return fmt.Errorf("spawn points: %w", err)
		}
		spawns = tbl
		printStat("spawn points", tbl.Count())
	}

	w, err := world.New(world.Options{
		Name:         cfg.World.Name,
		TickRate:     cfg.World.TickRate,
		LongFrame:    cfg.World.LongFrame,
		HistoryLimit: cfg.World.HistoryLimit,
		Log:          log,
	})
	if err != nil {
		return fmt.Errorf("world: %w", err)
	}

	if cfg.Scripting.Dir != "" {
		engine, err := scripting.NewEngine(cfg.Scripting.Dir, log)
		if err != nil {
			return fmt.Errorf("scripting: %w", err)
		}
		defer engine.Close()
		engine.Install(w)
		printStat("lua handlers", len(engine.Handlers()))
	}
	fmt.Println()

	// 5. Host handlers
	var policy handler.DuplicatePolicy = handler.RejectNewcomer
	if cfg.World.DuplicatePolicy == "evict" {
		policy = handler.EvictExisting
	}
	invites := handler.NewInviteBook()
	host := handler.NewHost(handler.Deps{
		World:         w,
		Spawns:        spawns,
		Invites:       invites,
		AccessKeyHash: []byte(cfg.World.AccessKeyHash),
		Policy:        policy,
		Log:           log,
	})

	// 6. Create network server
	srv, err := gonet.NewServer(cfg.Network.BindAddress, serverOptions(cfg), log)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go func() {
		if err := srv.Serve(); err != nil {
			log.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()
	store := gonet.NewSessionStore(log)
	w.SetOutbox(store)

	// 7. Register systems
	input := system.NewInputSystem(srv, store, host, invites, cfg.Network.MaxMessagesPerTick, log)
	if err := w.RegisterSystem(coresys.StageUpdate, "input", coresys.Static[*world.World](input)); err != nil {
		return err
	}
	if archiver != nil {
		if err := w.RegisterSystem(coresys.StagePostRender, "archive", system.NewArchiveSystem(archiver, log)); err != nil {
			return err
		}
	}
	if cfg.World.StaleAfter > 0 {
		stale := system.NewStaleReportSystem(host, cfg.World.StaleAfter, log)
		if err := w.RegisterSystem(coresys.StagePostRender, "stale", coresys.Static[*world.World](stale)); err != nil {
			return err
		}
	}

	// 8. Run the tick loop until a signal arrives
	printSection("ready")
	printReady(fmt.Sprintf("listening on ws://%s%s", srv.Addr(), cfg.Network.Path))
	printReady(fmt.Sprintf("tick loop started (tick: %s)", cfg.World.TickRate))
	fmt.Println()

	world.NewLoop(cfg.World.TickRate, log, w).Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

// openArchive connects the history database and starts the archive writer.
// With no DSN configured it returns a nil archiver.
func openArchive(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*persist.Archiver, func(), error) {
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := persist.Open(openCtx, cfg, log)
	if errors.Is(err, persist.ErrDisabled) {
		printOK("archive disabled (no dsn)")
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	printOK("PostgreSQL connected, migrations applied")

	archiver := persist.NewArchiver(persist.NewHistoryRepo(db), cfg.ArchiveQueue, log)
	runCtx, stopRun := context.WithCancel(context.Background())
	go archiver.Run(runCtx)

	return archiver, func() {
		stopRun()
		archiver.Wait()
		if n := archiver.Dropped(); n > 0 {
			log.Warn("archive batches dropped", zap.Int("count", n))
		}
		db.Close()
	}, nil
}

func serverOptions(cfg *config.Config) gonet.ServerOptions {
	opts := gonet.ServerOptions{
		Path: cfg.Network.Path,
		Session: gonet.SessionOptions{
			InQueueSize:    cfg.Network.InQueueSize,
			OutQueueSize:   cfg.Network.OutQueueSize,
			MaxMessageSize: cfg.Network.MaxMessageSize,
			WriteTimeout:   cfg.Network.WriteTimeout,
			ReadTimeout:    cfg.Network.ReadTimeout,
		},
	}
	if cfg.RateLimit.Enabled {
		opts.MessagesPerSecond = cfg.RateLimit.MessagesPerSecond
		opts.Burst = cfg.RateLimit.Burst
	}
	return opts
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
