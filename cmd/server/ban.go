package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirelobby-server/internal/ban"
	"github.com/vovakirdan/wirelobby-server/internal/core"
	"github.com/vovakirdan/wirelobby-server/internal/store/sqlite"
)

const cliIssuer = "cli"

// withBans opens the ban table of the configured database.
func withBans(ctx context.Context, opts *rootOptions, fn func(context.Context, *ban.Manager) error) error {
	cfg, _, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	m := ban.NewManager(st, logger)
	if err := m.Load(ctx); err != nil {
		return fmt.Errorf("load bans: %w", err)
	}
	return fn(ctx, m)
}

func newBanCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ban",
		Short: "Inspect and edit the ban list offline",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active bans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBans(cmd.Context(), opts, func(_ context.Context, m *ban.Manager) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PATTERN\tISSUER\tEXPIRES\tREASON")
				for _, b := range m.List() {
					expires := "never"
					if b.ExpiresAt != nil {
						expires = b.ExpiresAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Pattern, b.Issuer, expires, b.Reason)
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <ip-pattern> <duration|permanent> <reason...>",
		Short: "Ban an address, CIDR block or glob",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			duration, err := core.ParseBanDuration(args[1])
			if err != nil {
				return err
			}
			reason := strings.Join(args[2:], " ")
			return withBans(cmd.Context(), opts, func(ctx context.Context, m *ban.Manager) error {
				b, err := m.Add(ctx, args[0], reason, cliIssuer, duration)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "banned %s\n", b.Pattern)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <ip-pattern>",
		Short: "Lift a ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBans(cmd.Context(), opts, func(ctx context.Context, m *ban.Manager) error {
				if err := m.Remove(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}
