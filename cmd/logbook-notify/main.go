// Command logbook-notify is a terminal client for logbook notifications.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/logbook-notify/internal/app"
	"github.com/nhle/logbook-notify/internal/credential"
	"github.com/nhle/logbook-notify/internal/delivery"
	"github.com/nhle/logbook-notify/internal/logging"
	"github.com/nhle/logbook-notify/internal/metrics"
	"github.com/nhle/logbook-notify/internal/model"
	"github.com/nhle/logbook-notify/internal/session"
	"github.com/nhle/logbook-notify/internal/store"
	"github.com/nhle/logbook-notify/internal/ui/toast"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "logbook-notify",
	Short:         "Live logbook notifications in your terminal",
	Long:          `Shows logbook, leave and supervision notifications as they happen, with a polling fallback when the live channel is down.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runApp,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/logbook-notify/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return model.DefaultConfigPath()
}

func openCredentials() (*credential.Store, error) {
	return credential.Open(filepath.Join(model.ConfigDir(), "credentials"))
}

func runApp(cmd *cobra.Command, _ []string) error {
	cfg, err := model.LoadConfig(configPath())
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	creds, err := openCredentials()
	if err != nil {
		return err
	}
	token, err := creds.Token()
	if errors.Is(err, credential.ErrNotFound) {
		return errors.New("not signed in: run `logbook-notify login` first")
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache store.Store
	if cfg.Inbox.CachePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Inbox.CachePath), 0o700); err != nil {
			return fmt.Errorf("creating cache directory: %w", err)
		}
		db, err := store.NewSQLiteStore(cfg.Inbox.CachePath)
		if err != nil {
			// The client still works without a cache.
			logger.Warn("inbox cache unavailable", zap.Error(err))
		} else {
			defer db.Close()
			cache = db
		}
	}

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen); err != nil {
				logger.Warn("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	sess := session.New(token, logger)
	bridge := toast.NewBridge(16)
	client, err := delivery.New(*cfg, sess, delivery.Deps{
		Toaster: bridge,
		Cache:   cache,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return err
	}
	defer client.Stop()

	root := app.New(client, app.Options{
		Toasts: bridge,
		Logout: func() error {
			if err := creds.DeleteToken(); err != nil {
				return err
			}
			return purgeCache(cfg.Inbox.CachePath)
		},
	})
	defer root.Close()

	logger.Info("starting", zap.String("server", cfg.Server.BaseURL))
	p := tea.NewProgram(root,
		tea.WithAltScreen(),
		tea.WithReportFocus(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running terminal ui: %w", err)
	}
	sess.End(session.ReasonShutdown)
	return nil
}

// purgeCache removes the inbox cache and its WAL side files.
func purgeCache(path string) error {
	if path == "" {
		return nil
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}

// withTimeout is shared by the one-shot subcommands.
func withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, requestTimeout)
}
