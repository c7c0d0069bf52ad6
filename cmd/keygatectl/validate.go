package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/client"
	"github.com/keygate/keygate/internal/license"
)

// RejectedError is returned when the server answers with a non-ok outcome.
type RejectedError struct {
	Status license.Status
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("license rejected: %s", e.Status)
}

type identityFlags struct {
	key  string
	hwid string
	save bool
}

func (f *identityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.key, "key", "", "License key (default from config)")
	cmd.Flags().StringVar(&f.hwid, "hwid", "", "Hardware id (default from config or host fingerprint)")
	cmd.Flags().BoolVar(&f.save, "save", false, "Store the key and hardware id in the config file")
}

// resolve picks the key and HWID from flags, then config, then the host.
func (f *identityFlags) resolve(st *state) (string, string, error) {
	key := f.key
	if key == "" {
		key = st.cfg.LicenseKey
	}
	if key == "" {
		return "", "", errors.New("no license key: use --key or store one with --save")
	}

	hwid := f.hwid
	if hwid == "" {
		hwid = st.cfg.HWID
	}
	if hwid == "" {
		fp, err := client.Fingerprint()
		if err != nil {
			return "", "", err
		}
		hwid = fp
	}

	if f.save {
		st.cfg.LicenseKey = key
		st.cfg.HWID = hwid
		if err := st.save(); err != nil {
			return "", "", fmt.Errorf("save config: %w", err)
		}
	}
	return key, hwid, nil
}

func newValidateCmd(opts *globalOptions) *cobra.Command {
	var ids identityFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a license key for this machine",
		Long: `Validate a license key for this machine.

The first successful validation binds the key to this machine's hardware id.
Exits non-zero unless the server answers "ok".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.load()
			if err != nil {
				return err
			}
			c, err := st.client()
			if err != nil {
				return err
			}
			key, hwid, err := ids.resolve(st)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			status, err := c.Validate(ctx, key, hwid)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			if status != license.StatusOK {
				return &RejectedError{Status: status}
			}
			return nil
		},
	}

	ids.register(cmd)
	return cmd
}

func newHeartbeatCmd(opts *globalOptions) *cobra.Command {
	var ids identityFlags
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Validate periodically until the license is rejected",
		Long: `Validate the license now and then on every interval, keeping this
machine's presence fresh on the server.

Transient failures are logged and retried on the next tick. The command stops
when the server answers banned, invalid or hwid_mismatch, or on Ctrl+C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval < time.Second {
				return errors.New("--interval must be at least 1s")
			}
			st, err := opts.load()
			if err != nil {
				return err
			}
			c, err := st.client()
			if err != nil {
				return err
			}
			key, hwid, err := ids.resolve(st)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			hb := &heartbeat{
				client: c,
				key:    key,
				hwid:   hwid,
				out:    cmd.OutOrStdout(),
				logger: logger,
			}
			return hb.run(ctx, interval)
		},
	}

	ids.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", 60*time.Second, "Time between validations")
	return cmd
}

// validatorClient is the subset of the API client the heartbeat needs.
type validatorClient interface {
	Validate(ctx context.Context, key, hwid string) (license.Status, error)
}

type heartbeat struct {
	client validatorClient
	key    string
	hwid   string
	out    io.Writer
	logger zerolog.Logger
}

// run validates immediately and then on a cron schedule until a non-ok
// outcome or ctx is done.
func (h *heartbeat) run(ctx context.Context, interval time.Duration) error {
	if done, err := h.check(ctx); done {
		return err
	}

	result := make(chan error, 1)
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if done, err := h.check(ctx); done {
			select {
			case result <- err:
			default:
			}
		}
	}); err != nil {
		return fmt.Errorf("schedule heartbeat: %w", err)
	}
	c.Start()
	defer c.Stop()

	h.logger.Info().Dur("interval", interval).Msg("heartbeat running")

	select {
	case <-ctx.Done():
		return nil
	case err := <-result:
		return err
	}
}

// check performs one validation. done is true when the heartbeat must stop.
func (h *heartbeat) check(ctx context.Context) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	status, err := h.client.Validate(reqCtx, h.key, h.hwid)
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		h.logger.Warn().Err(err).Msg("heartbeat failed, retrying on next tick")
		return false, nil
	}

	if status != license.StatusOK {
		fmt.Fprintln(h.out, status)
		return true, &RejectedError{Status: status}
	}
	h.logger.Debug().Msg("heartbeat ok")
	return false, nil
}
