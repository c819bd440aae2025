package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"stupify/pkg/domain"
	"stupify/pkg/store"
	"stupify/pkg/usage"
)

type globalOptions struct {
	databaseURL string
	redisAddr   string
	redisTLS    bool
}

type backends struct {
	store   store.Store
	revoker store.UserRevoker
	close   func()
}

type backendOpener func(ctx context.Context, opts globalOptions) (backends, error)

func newRootCmd(open backendOpener) *cobra.Command {
	var opts globalOptions
	root := &cobra.Command{
		Use:           "stupifyctl",
		Short:         "Operator tasks for the Stupify backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
	root.PersistentFlags().StringVar(&opts.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "Redis address, needed by revoke-tokens")
	redisTLS, _ := strconv.ParseBool(os.Getenv("REDIS_TLS"))
	root.PersistentFlags().BoolVar(&opts.redisTLS, "redis-tls", redisTLS, "connect to Redis over TLS")

	withBackends := func(fn func(cmd *cobra.Command, args []string, b backends) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			b, err := open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if b.close != nil {
				defer b.close()
			}
			return fn(cmd, args, b)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema",
			Args:  cobra.NoArgs,
			RunE: withBackends(func(cmd *cobra.Command, _ []string, _ backends) error {
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "show-user <user-id>",
			Short: "Print a user's profile and remaining allowance",
			Args:  cobra.ExactArgs(1),
			RunE: withBackends(func(cmd *cobra.Command, args []string, b backends) error {
				return showUser(cmd, b.store, args[0])
			}),
		},
		&cobra.Command{
			Use:   "grant-tier <user-id> <free|starter|premium>",
			Short: "Set a user's tier without going through Stripe",
			Args:  cobra.ExactArgs(2),
			RunE: withBackends(func(cmd *cobra.Command, args []string, b backends) error {
				return grantTier(cmd, b.store, args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "reset-usage <user-id>",
			Short: "Zero a user's daily and monthly question counters",
			Args:  cobra.ExactArgs(1),
			RunE: withBackends(func(cmd *cobra.Command, args []string, b backends) error {
				if _, err := lookupProfile(cmd, b.store, args[0]); err != nil {
					return err
				}
				if err := b.store.ResetUsage(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("reset usage: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "usage reset for %s\n", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "revoke-tokens <user-id>",
			Short: "Reject every access token issued to a user until now",
			Args:  cobra.ExactArgs(1),
			RunE: withBackends(func(cmd *cobra.Command, args []string, b backends) error {
				if b.revoker == nil {
					return errors.New("redis address required (--redis-addr or REDIS_ADDR)")
				}
				if err := b.revoker.RevokeUser(cmd.Context(), args[0], time.Now()); err != nil {
					return fmt.Errorf("revoke tokens: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tokens revoked for %s\n", args[0])
				return nil
			}),
		},
	)
	return root
}

func lookupProfile(cmd *cobra.Command, s store.Store, userID string) (domain.Profile, error) {
	p, err := s.GetProfile(cmd.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		return p, fmt.Errorf("user %s not found", userID)
	}
	if err != nil {
		return p, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

func grantTier(cmd *cobra.Command, s store.Store, userID, rawTier string) error {
	tier, ok := domain.ParseTier(rawTier)
	if !ok {
		return fmt.Errorf("unknown tier %q", rawTier)
	}
	p, err := lookupProfile(cmd, s, userID)
	if err != nil {
		return err
	}
	previous := p.Tier
	p.Tier = tier
	p.UpdatedAt = time.Now().UTC()
	if err := s.SaveProfile(cmd.Context(), p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", userID, previous, tier)
	return nil
}

func showUser(cmd *cobra.Command, s store.Store, userID string) error {
	p, err := lookupProfile(cmd, s, userID)
	if err != nil {
		return err
	}
	rec, err := s.GetUsage(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("load usage: %w", err)
	}
	out := map[string]any{
		"profile":   p,
		"usage":     rec,
		"allowance": usage.Remaining(usage.DefaultLimits(), p.Tier, rec, time.Now().UTC()),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
