package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/brandon/mailview/internal/account"
	"github.com/brandon/mailview/internal/cache"
	"github.com/brandon/mailview/internal/commands"
	"github.com/brandon/mailview/internal/config"
	"github.com/brandon/mailview/internal/email"
	"github.com/brandon/mailview/internal/folders"
	"github.com/brandon/mailview/internal/host"
	"github.com/brandon/mailview/internal/panels"
	"github.com/brandon/mailview/internal/refresh"
	"github.com/brandon/mailview/internal/tree"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "mailview",
		Usage:   "Mail viewer backend for editor hosts",
		Version: version,
		Action:  serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the editor host over stdio",
				Action: serve,
			},
			{
				Name:   "test-connection",
				Usage:  "Log in to an account's IMAP server and report the result",
				Flags:  []cli.Flag{accountFlag()},
				Action: testConnection,
			},
			{
				Name:   "set-password",
				Usage:  "Store an account password read from stdin in the keyring",
				Flags:  []cli.Flag{accountFlag()},
				Action: setPassword,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func accountFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "account",
		Usage:    "Account name",
		Required: true,
	}
}

// app is the part of the composition every subcommand shares
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	accounts *account.ConfigStore
	manager  *email.Manager
}

func setup() (*app, error) {
	// stdout carries the protocol
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	var secrets account.Secrets
	ring, err := account.OpenKeyring(filepath.Join(filepath.Dir(cfg.CachePath), "keyring"))
	if err != nil {
		logger.WithError(err).Warn("Keyring unavailable, using configured passwords only")
	} else {
		secrets = ring
	}

	accounts := account.NewConfigStore(cfg, secrets, logger)
	manager := email.NewManager(accounts, email.NewIMAPDialer(logger), logger)

	return &app{cfg: cfg, logger: logger, accounts: accounts, manager: manager}, nil
}

func serve(ctx context.Context, _ *cli.Command) error {
	a, err := setup()
	if err != nil {
		return err
	}
	logger := a.logger
	logger.WithField("version", version).Info("Starting mailview")
	defer a.manager.Close()

	db, err := cache.NewCache(a.cfg.CachePath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer db.Close()

	store := cache.NewStore(db, logger)
	for _, acc := range a.accounts.ListAccounts() {
		if err := store.UpsertAccount(acc); err != nil {
			logger.WithError(err).WithField("account", acc.ID()).Warn("Failed to cache account")
		}
	}

	folderCache := folders.NewCache(a.manager, logger)
	folderCache.SetSnapshotter(store)

	server := host.NewServer(os.Stdin, os.Stdout, version, logger)

	coordinator := refresh.New(folderCache, a.accounts, server, logger,
		time.Duration(a.cfg.RefreshInterval)*time.Second)
	coordinator.SetSnapshot(store)

	registry := panels.NewRegistry(server, panels.NewSessionLoader(a.manager), logger, panels.Options{
		Mode:        a.cfg.DisplayMode,
		PageSize:    a.cfg.PageSize,
		Invalidator: coordinator,
	})
	provider := tree.NewProvider(a.accounts, a.manager, folderCache, logger)
	provider.SetSnapshots(store)

	cmds := commands.NewRegistry(commands.Deps{
		Mail:     commands.NewSessionMailer(a.manager),
		Panels:   registry,
		Tree:     provider,
		Accounts: a.accounts,
		Folders:  folderCache,
		Badge:    coordinator,
	}, logger)
	server.Bind(cmds, provider, registry)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	coordinator.Start(ctx)
	defer coordinator.Stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			logger.WithError(err).Error("Host bridge error")
		}
	}

	logger.Info("Shutting down mailview")
	cancel()
	server.Drain()
	return nil
}

func testConnection(ctx context.Context, cmd *cli.Command) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.manager.Close()

	id := cmd.String("account")
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if err := a.manager.TestAccount(ctx, id); err != nil {
		return fmt.Errorf("account %s: %w", id, err)
	}
	fmt.Printf("account %s: connection OK\n", id)
	return nil
}

func setPassword(_ context.Context, cmd *cli.Command) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.manager.Close()

	id := cmd.String("account")
	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}

	if err := a.accounts.SetPassword(id, password); err != nil {
		return fmt.Errorf("account %s: %w", id, err)
	}
	fmt.Printf("account %s: password stored\n", id)
	return nil
}
