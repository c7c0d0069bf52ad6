package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/client"
	"github.com/keygate/keygate/internal/license"
)

func newLicenseCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Manage licenses (requires login)",
	}

	cmd.AddCommand(
		newLicenseCreateCmd(opts),
		newLicenseMutateCmd(opts, "ban", "Deactivate a license", (*client.Client).BanLicense, "Banned"),
		newLicenseMutateCmd(opts, "unban", "Reactivate a license and clear its device binding", (*client.Client).UnbanLicense, "Unbanned"),
		newLicenseMutateCmd(opts, "delete", "Delete a license", (*client.Client).DeleteLicense, "Deleted"),
		newLicenseListCmd(opts),
		newStatsCmd(opts),
	)

	return cmd
}

func newLicenseCreateCmd(opts *globalOptions) *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:   "create [key]",
		Short: "Create a license; a key is generated when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := adminClient(opts)
			if err != nil {
				return err
			}
			var key string
			if len(args) == 1 {
				key = args[0]
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			created, err := c.CreateLicense(ctx, key, label)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created license %s\n", created.License.KeyID)
			if created.Key != "" {
				fmt.Fprintf(out, "Key: %s\n", created.Key)
				fmt.Fprintln(out, "Store this key now. It cannot be shown again.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Free-form label, e.g. the customer name")
	return cmd
}

func newLicenseMutateCmd(opts *globalOptions, use, short string, op func(*client.Client, context.Context, string) error, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := adminClient(opts)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			if err := op(c, ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s license %s\n", done, license.ShortID(license.HashKey(args[0])))
			return nil
		},
	}
}

func newLicenseListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List licenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := adminClient(opts)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			listing, err := c.ListLicenses(ctx)
			if err != nil {
				return err
			}
			printListing(cmd.OutOrStdout(), listing)
			return nil
		},
	}
}

func newStatsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show license counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := adminClient(opts)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			stats, err := c.Stats(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total:  %d\n", stats.Total)
			fmt.Fprintf(out, "Active: %d\n", stats.Active)
			fmt.Fprintf(out, "Bound:  %d\n", stats.Bound)
			fmt.Fprintf(out, "Online: %d\n", stats.Online)
			return nil
		},
	}
}

func printListing(out io.Writer, listing *license.Listing) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY ID\tLABEL\tSTATE\tONLINE\tHWID\tLAST SEEN\tCREATED")
	for _, l := range listing.Licenses {
		state := "active"
		if !l.Active {
			state = "banned"
		}
		online := "no"
		if l.Online {
			online = "yes"
		}
		hwid := "-"
		if l.HWID != nil {
			hwid = truncate(*l.HWID, 16)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.KeyID, dash(l.Label), state, online, hwid, formatTime(l.LastSeen), l.CreatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d licenses, %d online\n", len(listing.Licenses), listing.OnlineCount)
}

func adminClient(opts *globalOptions) (*client.Client, error) {
	st, err := opts.load()
	if err != nil {
		return nil, err
	}
	if !st.cfg.IsLoggedIn() {
		return nil, client.ErrUnauthorized
	}
	return st.client()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
