package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HanTheDev/devops-agent-gateway/internal/auth"
	"github.com/HanTheDev/devops-agent-gateway/internal/cache"
	"github.com/HanTheDev/devops-agent-gateway/internal/clock"
	"github.com/HanTheDev/devops-agent-gateway/internal/config"
	"github.com/HanTheDev/devops-agent-gateway/internal/history"
	"github.com/HanTheDev/devops-agent-gateway/internal/store"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the /admin routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AdminJWTSecret == "" {
				return errors.New("ADMIN_JWT_SECRET is not set")
			}
			token, err := auth.GenerateToken(subject, cfg.AdminJWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// withStore loads config, opens the configured store and runs fn against it.
func withStore(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, s store.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return fn(ctx, cfg, s)
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or clear a user's conversation history",
	}

	var user string
	var limit int
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the most recent conversations as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, s store.Store) error {
				h := history.NewStore(s, clock.Real(), newLogger(cfg), history.Options{
					MaxEntries: cfg.HistoryMaxEntries,
					TTL:        cfg.HistoryTTL,
				})
				conversations, err := h.List(ctx, user, limit)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(conversations)
			})
		},
	}
	show.Flags().StringVar(&user, "user", "", "user id")
	show.Flags().IntVar(&limit, "limit", 10, "number of conversations")
	show.MarkFlagRequired("user")

	var clearUser string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all history for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, s store.Store) error {
				h := history.NewStore(s, clock.Real(), newLogger(cfg), history.Options{})
				if err := h.Clear(ctx, clearUser); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared history for %s\n", clearUser)
				return nil
			})
		},
	}
	clearCmd.Flags().StringVar(&clearUser, "user", "", "user id")
	clearCmd.MarkFlagRequired("user")

	cmd.AddCommand(show, clearCmd)
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached responses",
	}

	var message string
	evict := &cobra.Command{
		Use:   "evict",
		Short: "Remove the cached response for an exact message",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, s store.Store) error {
				c := cache.NewResponseCache(s, clock.Real(), newLogger(cfg))
				if err := c.Evict(ctx, message); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "evicted %s\n", cache.Key(message))
				return nil
			})
		},
	}
	evict.Flags().StringVar(&message, "message", "", "exact message text")
	evict.MarkFlagRequired("message")

	cmd.AddCommand(evict)
	return cmd
}
