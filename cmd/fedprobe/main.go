// Command fedprobe resolves federated identities into profile records.
//
// Usage:
//
//	fedprobe probe alice@friendica.example
//	fedprobe probe https://mastodon.example/@bob --network stat
//	fedprobe migrate --database-url postgres://localhost/fedprobe
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/fedprobe/pkg/cache"
	"github.com/codeGROOVE-dev/fedprobe/pkg/fetch"
	"github.com/codeGROOVE-dev/fedprobe/pkg/mail"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
	"github.com/codeGROOVE-dev/fedprobe/pkg/resolver"
	"github.com/codeGROOVE-dev/fedprobe/pkg/store"
)

type options struct {
	debug       bool
	databaseURL string
	cacheDir    string
	cacheTTL    time.Duration
	timeout     time.Duration
	budget      time.Duration
	network     string
	mailUser    int64
	noCache     bool
	avatar      string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1) //nolint:gocritic // exitAfterDefer is acceptable in main
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "fedprobe",
		Short:         "Resolve federated social identities",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("FEDPROBE_DATABASE_URL"),
		"PostgreSQL directory DSN (env FEDPROBE_DATABASE_URL)")

	root.AddCommand(newProbeCmd(opts), newMigrateCmd(opts))
	return root
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func newProbeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <identifier>",
		Short: "Resolve a URL, handle or email address and print the profile as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), opts, args[0])
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.network, "network", "", "only accept this network (dfrn, dspr, stat, pump, feed, mail)")
	f.Int64Var(&opts.mailUser, "mail-user", 0, "local user whose mailbox is searched for email addresses")
	f.BoolVar(&opts.noCache, "no-cache", false, "bypass the result cache")
	f.StringVar(&opts.cacheDir, "cache-dir", os.Getenv("FEDPROBE_CACHE_DIR"), "result cache directory (env FEDPROBE_CACHE_DIR)")
	f.DurationVar(&opts.cacheTTL, "cache-ttl", cache.DefaultTTL, "result cache time-to-live")
	f.DurationVar(&opts.timeout, "timeout", envDuration("FEDPROBE_TIMEOUT", fetch.DefaultTimeout),
		"per-request timeout (env FEDPROBE_TIMEOUT)")
	f.DurationVar(&opts.budget, "budget", resolver.DefaultBudget, "upper bound for a whole resolution")
	f.StringVar(&opts.avatar, "default-avatar", "", "photo used when none was discovered")
	return cmd
}

func runProbe(ctx context.Context, opts *options, input string) error {
	logger := newLogger(opts.debug)

	network, ok := profile.ParseNetwork(opts.network)
	if !ok {
		return fmt.Errorf("unknown network %q", opts.network)
	}

	ropts := []resolver.Option{
		resolver.WithLogger(logger),
		resolver.WithBudget(opts.budget),
		resolver.WithDefaultAvatar(opts.avatar),
		resolver.WithFetcher(fetch.New(fetch.WithTimeout(opts.timeout), fetch.WithLogger(logger))),
	}

	if !opts.noCache {
		c, err := openCache(opts)
		if err != nil {
			logger.Warn("failed to initialize cache, continuing without cache", "error", err)
		} else {
			defer func() {
				if err := c.Close(); err != nil {
					logger.Warn("failed to close cache", "error", err)
				}
			}()
			ropts = append(ropts, resolver.WithCache(c))
		}
	}

	mailOpts := []mail.Option{mail.WithLogger(logger)}
	if opts.databaseURL != "" {
		st, err := store.Open(ctx, opts.databaseURL, logger)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck // process exit
		ropts = append(ropts, resolver.WithDirectory(st))
		mailOpts = append(mailOpts, mail.WithAccounts(st))
	}
	ropts = append(ropts, resolver.WithMailProber(mail.New(mailOpts...)))

	var callOpts []resolver.ResolveOption
	if network != "" {
		callOpts = append(callOpts, resolver.ForNetwork(network))
	}
	if opts.mailUser != 0 {
		callOpts = append(callOpts, resolver.ForMailUser(opts.mailUser))
	}
	if opts.noCache {
		callOpts = append(callOpts, resolver.NoCache())
	}

	p := resolver.New(ropts...).Resolve(ctx, input, callOpts...)
	return outputJSON(p)
}

func openCache(opts *options) (*cache.Cache, error) {
	if opts.cacheDir != "" {
		return cache.NewWithPath(opts.cacheTTL, opts.cacheDir)
	}
	return cache.New(opts.cacheTTL)
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the directory schema to the PostgreSQL database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.databaseURL == "" {
				return errors.New("--database-url or FEDPROBE_DATABASE_URL is required")
			}
			logger := newLogger(opts.debug)
			st, err := store.Open(cmd.Context(), opts.databaseURL, logger)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck // process exit
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
