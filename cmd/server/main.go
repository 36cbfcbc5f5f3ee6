package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/liondadev/fileserve/config"
	"github.com/liondadev/fileserve/gate"
	"github.com/liondadev/fileserve/logger"
	"github.com/liondadev/fileserve/server"
	"github.com/liondadev/fileserve/store"
	"go.uber.org/zap"

	_ "github.com/glebarez/go-sqlite"
)

func main() {
	configPath := flag.String("config", os.Getenv("FILESERVE_CONFIG_FILE"), "path to the config file")
	flag.Parse()
	if *configPath == "" {
		*configPath = "config.json"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// the logger is configured from the file, so this one goes to stderr
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Log)
	if err != nil {
		os.Stderr.WriteString("setup logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	// Sqlite connection
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal("failed to open sqlite driver", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.New(db)
	if err := st.ApplyMigrations(ctx); err != nil {
		log.Fatal("failed to apply database migrations", zap.Error(err))
	}

	g := gate.New(st, st, gate.Options{
		Lookup:            gate.LookupMode(cfg.Lookup),
		IgnoredUserAgents: cfg.IgnoredUserAgents,
		Validity:          cfg.TokenValidity(),
	})

	svr := server.New(cfg, g, log)
	if err := svr.SetupHTTP(); err != nil {
		log.Fatal("setup http", zap.Error(err))
	}

	log.Info("starting fileserve",
		zap.String("lookup", cfg.Lookup),
		zap.Duration("token_validity", cfg.TokenValidity()),
		zap.Strings("ignored_user_agents", cfg.IgnoredUserAgents),
	)

	if err := svr.Run(ctx, cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server stopped", zap.Error(err))
	}

	log.Info("server stopped")
}
