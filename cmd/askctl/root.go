package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/app"
	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
	"github.com/ekaya-inc/ekaya-ask/pkg/profiles"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "askctl",
	Short: "Ask questions of your databases in plain language",
	Long: `askctl turns questions into native queries for relational, document,
key-value and wide-column stores, validates them as read-only and runs them.

Save a connection once with "askctl profile save", then ask away.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "engine configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")
}

// session is an engine plus the profiles it was built to serve.
type session struct {
	rt     *app.Runtime
	store  *profiles.Store
	logger *zap.Logger
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.LoadFile(configPath, Version)
	if err != nil {
		return nil, err
	}
	logger := zap.NewNop()
	if verbose {
		if logger, err = logging.NewLogger(cfg.Env); err != nil {
			return nil, err
		}
	}
	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &session{rt: rt, logger: logger}, nil
}

// connect registers the named profile with the engine and returns its connection id.
func (s *session) connect(ctx context.Context, profile string) (string, error) {
	if s.store == nil {
		store, err := profiles.Open()
		if err != nil {
			return "", err
		}
		s.store = store
	}
	desc, err := s.store.Get(profile)
	if err != nil {
		return "", err
	}
	id, err := s.rt.Engine.Connect(ctx, desc)
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", profile, err)
	}
	return id, nil
}

func (s *session) Close() {
	_ = s.rt.Close(context.Background())
	_ = s.logger.Sync()
}
