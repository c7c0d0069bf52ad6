package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/updates"
)

func newUpdateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check or publish application updates",
	}

	cmd.AddCommand(
		newUpdateLatestCmd(opts),
		newUpdatePublishCmd(opts),
	)

	return cmd
}

func newUpdateLatestCmd(opts *globalOptions) *cobra.Command {
	var current string

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the latest published update",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.load()
			if err != nil {
				return err
			}
			c, err := st.client()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			info, err := c.LatestUpdate(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !info.Update {
				fmt.Fprintln(out, "No update published")
				return nil
			}
			fmt.Fprintf(out, "Version: %s\n", info.Version)
			fmt.Fprintf(out, "URL:     %s\n", info.URL)
			fmt.Fprintf(out, "SHA256:  %s\n", info.SHA256)
			if current != "" {
				if updates.IsNewer(info.Version, current) {
					fmt.Fprintf(out, "Update available (you have %s)\n", current)
				} else {
					fmt.Fprintln(out, "Up to date")
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&current, "current", "", "Installed version to compare against")
	return cmd
}

func newUpdatePublishCmd(opts *globalOptions) *cobra.Command {
	var version, url, sha256 string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a new update pointer (requires login)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := adminClient(opts)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			p, err := c.PublishUpdate(ctx, version, url, sha256)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s (#%d)\n", p.Version, p.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Release version (required)")
	cmd.Flags().StringVar(&url, "url", "", "Download URL (required)")
	cmd.Flags().StringVar(&sha256, "sha256", "", "SHA-256 of the download, hex encoded (required)")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("sha256")

	return cmd
}
