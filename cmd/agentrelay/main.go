package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/runframe/agentrelay/internal/auth"
	"github.com/runframe/agentrelay/internal/config"
	"github.com/runframe/agentrelay/internal/database"
	"github.com/runframe/agentrelay/internal/handlers"
	"github.com/runframe/agentrelay/internal/logger"
	"github.com/runframe/agentrelay/internal/mockagent"
	"github.com/runframe/agentrelay/internal/scheduler"
	"github.com/runframe/agentrelay/internal/server"
)

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var mock bool

	root := &cobra.Command{
		Use:           "agentrelay",
		Short:         "WebSocket relay between UI clients and a single agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), mock)
		},
	}
	root.Flags().BoolVar(&mock, "mock", false, "answer UI clients with the built-in mock agent instead of routing")

	root.AddCommand(newServeCmd(), newMockAgentCmd(), newTokenCmd(), newHashKeyCmd(), newSecretCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var mock bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), mock)
		},
	}
	cmd.Flags().BoolVar(&mock, "mock", false, "answer UI clients with the built-in mock agent instead of routing")
	return cmd
}

func runServe(parent context.Context, mock bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)
	logger.Banner(version)
	handlers.AppVersion = version

	var db *database.DB
	if cfg.Journal {
		db, err = database.New(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()

		sched := scheduler.New(db, cfg.JournalRetentionDays)
		if err := sched.Schedule(cfg.RetentionSchedule); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
		logger.Info("Journal retention %dd, next prune %s", cfg.JournalRetentionDays, sched.Next().Format(time.RFC3339))
	}

	authService := auth.NewService(cfg.JWTSecret)
	if authService.Enabled() {
		logger.Info("Token authentication enabled")
	}

	srvCfg := server.Config{
		DB:              db,
		Auth:            authService,
		Path:            cfg.Path,
		Port:            cfg.Port,
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}
	if v := auth.NewAgentVerifier(cfg.AgentKeyHash); v != nil {
		srvCfg.Verifier = v
		logger.Info("Agent key required")
	}
	if mock {
		srvCfg.Factory = mockagent.NewFactory(mockagent.NewResponder(), mockagent.DefaultDelay)
		logger.Warn("Mock mode: UI clients are answered locally, no agent routing")
	}
	srv := server.New(srvCfg)
	defer srv.Close()

	if cfg.BindAddress != "127.0.0.1" && cfg.BindAddress != "localhost" {
		logger.Warn("Binding to %s, reachable from the network. Set RELAY_BIND=127.0.0.1 for localhost only.", cfg.BindAddress)
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Listen(cfg.Addr(), cfg.URL(), cfg.Port, cfg.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Shutdown("Shutting down relay...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Stop accepting handshakes before closing the sockets already upgraded.
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return srv.Relay.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Bye()
	return nil
}

func newMockAgentCmd() *cobra.Command {
	var (
		url   string
		key   string
		token string
		delay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mock-agent",
		Short: "Connect to a relay as a scripted agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			header := http.Header{}
			if token != "" {
				header.Set("Authorization", "Bearer "+token)
			}
			err := mockagent.RunAgent(ctx, url, mockagent.NewResponder(), mockagent.AgentOptions{
				Key:    key,
				Header: header,
				Delay:  delay,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8080/", "relay WebSocket URL")
	cmd.Flags().StringVar(&key, "key", "", "agent key sent in IDENTIFY")
	cmd.Flags().StringVar(&token, "token", "", "relay access token")
	cmd.Flags().DurationVar(&delay, "delay", mockagent.DefaultDelay, "pause between scripted replies")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		label string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a relay access token signed with RELAY_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			svc := auth.NewService(cfg.JWTSecret)
			if !svc.Enabled() {
				return errors.New("RELAY_JWT_SECRET is not set")
			}
			token, err := svc.GenerateTokenWithTTL(label, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "client", "label recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <key>",
		Short: "Print the bcrypt hash to use as RELAY_AGENT_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashAgentKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret",
		Short: "Print a random secret for RELAY_JWT_SECRET or an agent key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := auth.GenerateSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}
