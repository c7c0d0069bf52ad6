// Package main is the entrypoint for keygatectl, the keygate command line
// client for validation and license administration.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/client"
	"github.com/keygate/keygate/internal/config"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// requestTimeout bounds a single CLI call.
const requestTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	serverURL  string
}

// state is the loaded CLI configuration and where it came from.
type state struct {
	cfg  *config.CLIConfig
	path string
}

func (o *globalOptions) load() (*state, error) {
	path := o.configPath
	if path == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.serverURL != "" {
		cfg.ServerURL = strings.TrimSuffix(o.serverURL, "/")
	}
	return &state{cfg: cfg, path: path}, nil
}

func (s *state) save() error {
	return s.cfg.Save(s.path)
}

// client returns an API client for the configured server.
func (s *state) client() (*client.Client, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w (use --server or run 'keygatectl login --server URL')", err)
	}
	return client.New(s.cfg.ServerURL, s.cfg.SessionToken), nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "keygatectl",
		Short: "keygate license client and admin tool",
		Long: `keygatectl talks to a keygate license server.

Clients use 'validate' and 'heartbeat' to check a license key for this
machine. Administrators use 'login' and then the 'license' and 'update'
commands to manage licenses and publish updates.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default ~/.keygate/config.yml)")
	rootCmd.PersistentFlags().StringVar(&opts.serverURL, "server", "", "keygate server URL")

	rootCmd.AddCommand(
		newVersionCmd(),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newLicenseCmd(opts),
		newUpdateCmd(opts),
		newValidateCmd(opts),
		newHeartbeatCmd(opts),
		newFingerprintCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "keygatectl %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newLoginCmd(opts *globalOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Start an admin session",
		Long: `Start an admin session on the keygate server.

The password is read from --password, KEYGATE_ADMIN_PASSWORD, or prompted
for. The session token is stored in the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.load()
			if err != nil {
				return err
			}
			if opts.serverURL != "" {
				if err := checkServerURL(opts.serverURL); err != nil {
					return err
				}
			}
			c, err := st.client()
			if err != nil {
				return err
			}

			if password == "" {
				password = os.Getenv("KEYGATE_ADMIN_PASSWORD")
			}
			if password == "" {
				password, err = prompt(cmd, "Admin password: ")
				if err != nil {
					return err
				}
			}
			if password == "" {
				return errors.New("password cannot be empty")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			result, err := c.Login(ctx, password)
			if err != nil {
				return err
			}

			st.cfg.SessionToken = result.Token
			if err := st.save(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s (session expires %s)\n",
				st.cfg.ServerURL, result.ExpiresAt.Local().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Admin password")
	return cmd
}

func newLogoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the admin session",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.load()
			if err != nil {
				return err
			}
			if !st.cfg.IsLoggedIn() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			c, err := st.client()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			// An expired session is already gone on the server.
			if err := c.Logout(ctx); err != nil && !errors.Is(err, client.ErrUnauthorized) {
				return err
			}

			st.cfg.SessionToken = ""
			if err := st.save(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print this machine's hardware id",
		RunE: func(cmd *cobra.Command, args []string) error {
			hwid, err := client.Fingerprint()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hwid)
			return nil
		},
	}
}

func checkServerURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("server URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return errors.New("server URL must include a host")
	}
	return nil
}

func prompt(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), label)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
