package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PChat/global/bootstrap"
	"PChat/global/config"
	"PChat/logger"
	"PChat/service/mgo"
	"PChat/service/nacos"
	"PChat/tools/security"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// loadConfig 文件 -> 环境变量 -> nacos，并按配置初始化日志
func loadConfig() (*config.Config, error) {
	cfg, err := config.Loader{File: configPath, Remote: fetchNacos}.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fetchNacos(c nacos.Config) (string, error) {
	cli, err := nacos.NewConfigClient(c)
	if err != nil {
		return "", err
	}
	return nacos.NewSource(cli, c.DataID, c.Group).Fetch()
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the websocket gateway, REST API and delivery workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap.New(ctx, cfg)
			if err != nil {
				return err
			}
			logger.Info("[app] starting",
				zap.String("state", cfg.Backends.State),
				zap.String("repo", cfg.Backends.Repo),
				zap.String("push", cfg.Push.Backend))
			return app.Run(ctx)
		},
	}
}

func buildDLQCmd() *cobra.Command {
	var (
		limit    int64
		archived bool
	)
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List dead-lettered messages (oldest first)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if archived {
				if !cfg.Mongo.Enabled() {
					return fmt.Errorf("mongo is not configured")
				}
				m := mgo.NewManager(&cfg.Mongo)
				m.StartAsync(ctx)
				if err := m.WaitReady(ctx); err != nil {
					return fmt.Errorf("mongo: %w", err)
				}
				docs, err := mgo.NewArchive(m).List(ctx, limit)
				if err != nil {
					return err
				}
				return enc.Encode(docs)
			}

			st, closeStore, err := bootstrap.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			msgs, err := st.PeekDeadLetters(ctx, limit)
			if err != nil {
				return err
			}
			return enc.Encode(msgs)
		},
	}
	cmd.Flags().Int64VarP(&limit, "limit", "n", 50, "max entries")
	cmd.Flags().BoolVar(&archived, "archived", false, "read the Mongo archive instead of the live partition")
	return cmd
}

func buildTokenCmd() *cobra.Command {
	var (
		user   string
		scopes []string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("auth.secret is required")
			}
			opts := security.Options{Secret: []byte(cfg.Auth.Secret), Alg: cfg.Auth.Alg, TTL: cfg.Auth.TTL}
			if ttl > 0 {
				opts.TTL = ttl
			}
			token, exp, err := security.Generate(opts, user, scopes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires %s\n", token, exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id (required)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "token scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "override auth.ttl")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
