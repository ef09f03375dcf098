package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/drug-speak/internal/catalog"
	"github.com/drug-speak/internal/client"
	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/learner"
)

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "drugspeak", "session.json")
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	apiURL := flag.String("api", os.Getenv("DRUG_SPEAK_API"), "Service base URL (overrides config)")
	sessionPath := flag.String("session", defaultSessionPath(), "Session file; empty keeps the session in memory")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen}))

	if err := run(*configPath, *apiURL, *sessionPath, flag.Args(), logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, apiURL, sessionPath string, args []string, logger *slog.Logger) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if apiURL != "" {
		cfg.Client.BaseURL = apiURL
	}

	drugs, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	session, err := openSession(sessionPath)
	if err != nil {
		return err
	}

	api, err := client.New(&cfg.Client, session, logger)
	if err != nil {
		return err
	}

	l := learner.New(api, &cfg.Sync, logger)
	defer l.Close()

	if user, snapshot := session.user(); user != nil && l.Restore(*user) {
		if snapshot != nil {
			l.Hydrate(*snapshot)
		}
		logger.Debug("session restored", "user_id", user.ID)
	}

	sh := &shell{learner: l, catalog: drugs, session: session, out: os.Stdout}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// one-shot mode: drugspeak learn paracetamol
	if len(args) > 0 {
		err := sh.exec(ctx, strings.Join(args, " "))
		if errors.Is(err, errQuit) {
			err = nil
		}
		// flush a scheduled sync before exiting
		if _, ok := l.UserID(); ok && err == nil {
			if _, serr := l.Sync(ctx); serr != nil {
				logger.Warn("final sync failed", "error", serr)
			}
		}
		return err
	}

	if user := l.User(); user != nil {
		fmt.Printf("signed in as %s\n", user.Username)
	}
	fmt.Println(`Drug Speak, type "help" for commands`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		err := sh.exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			break
		}
		if err != nil {
			fmt.Println("error:", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if _, ok := l.UserID(); ok {
		syncCtx, cancel := context.WithTimeout(context.Background(), cfg.Sync.PushTimeout)
		defer cancel()
		if _, err := l.Sync(syncCtx); err != nil {
			logger.Warn("final sync failed", "error", err)
		}
	}
	return scanner.Err()
}
