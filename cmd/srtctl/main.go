// Command srtctl performs one-shot operations on a qp mount.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/w1xm/qpdrive/internal/config"
	"github.com/w1xm/qpdrive/qp"
	"github.com/w1xm/qpdrive/rotator"
)

// connect is replaced in tests.
var connect = qp.Connect

type options struct {
	drive   config.Drive
	wait    bool
	timeout time.Duration
	frame   string
	track   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{drive: config.Load()}
	rootCmd := &cobra.Command{
		Use:          "srtctl",
		Short:        "Control a qp alt-az mount",
		SilenceUsage: true,
	}
	opts.drive.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolVar(&opts.wait, "wait", false, "wait for the mount to finish moving")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "how long to wait")

	gotoCmd := &cobra.Command{
		Use:   "goto AZ ALT | goto RA DEC | goto L B",
		Short: "Point the mount at a coordinate, in degrees",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := opts.coordinate(args)
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, c *qp.Controller) error {
				return c.Goto(ctx, coord, opts.track)
			})
		},
	}
	gotoCmd.Flags().StringVar(&opts.frame, "frame", "horizontal", "coordinate frame: horizontal, equatorial or galactic")
	gotoCmd.Flags().BoolVar(&opts.track, "track", false, "keep following the coordinate until interrupted")

	rootCmd.AddCommand(
		gotoCmd,
		opts.simple("home", "Send the mount to its home position", (*qp.Controller).Home),
		opts.simple("stow", "Send the mount to its stow position", (*qp.Controller).Stow),
		opts.simple("panic", "Stop all motion", (*qp.Controller).Panic),
		opts.simple("start", "Set time and site, calibrate and home", (*qp.Controller).Start),
		&cobra.Command{
			Use:   "calibrate [A B]",
			Short: "Apply a calibration profile, or run a calibration",
			Args:  cobra.MaximumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				values := ""
				if len(args) == 2 {
					values = args[0] + " " + args[1]
				} else if len(args) == 1 {
					values = args[0]
				}
				return opts.run(cmd, func(ctx context.Context, c *qp.Controller) error {
					cal, err := c.Calibrate(ctx, values)
					if err != nil {
						return err
					}
					if _, perr := qp.ParseCalibration(values); perr != nil && !opts.drive.Simulate {
						// The measured profile arrives with ">c".
						if !opts.wait {
							fmt.Fprintln(cmd.OutOrStdout(), "calibration running")
							return nil
						}
						waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
						defer cancel()
						if err := c.WaitFor(waitCtx, func(s qp.Status) bool { return !s.Calibrating }); err != nil {
							return fmt.Errorf("waiting: %w", err)
						}
						cal = c.Status().Calibration
					}
					fmt.Fprintln(cmd.OutOrStdout(), cal)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:       "park snow|wind",
			Short:     "Park for the weather: snow homes the dish, wind stows it",
			Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
			ValidArgs: []string{"snow", "wind"},
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(cmd, func(ctx context.Context, c *qp.Controller) error {
					if args[0] == "snow" {
						return c.Home(ctx)
					}
					return c.Stow(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "raw LETTERS [PARAM...]",
			Short: "Send a raw firmware command",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				params := make([]float64, 0, len(args)-1)
				for _, a := range args[1:] {
					v, err := strconv.ParseFloat(a, 64)
					if err != nil {
						return fmt.Errorf("parameter %q: %w", a, err)
					}
					params = append(params, v)
				}
				return opts.run(cmd, func(ctx context.Context, c *qp.Controller) error {
					return c.Command(ctx, args[0], params...)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the mount's status once it reports a position",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(cmd, func(ctx context.Context, c *qp.Controller) error {
					if opts.drive.Simulate {
						return nil
					}
					ctx, cancel := context.WithTimeout(ctx, opts.timeout)
					defer cancel()
					return c.WaitFor(ctx, func(s qp.Status) bool { return !s.Position.ObservedAt.IsZero() })
				})
			},
		},
	)
	return rootCmd
}

func (o *options) coordinate(args []string) (rotator.Coordinate, error) {
	var v [2]float64
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", a, err)
		}
		v[i] = f
	}
	switch o.frame {
	case "horizontal":
		return rotator.Horizontal{Azimuth: v[0], Altitude: v[1]}, nil
	case "equatorial":
		return rotator.Equatorial{RA: v[0], Dec: v[1]}, nil
	case "galactic":
		return rotator.Galactic{L: v[0], B: v[1]}, nil
	}
	return nil, fmt.Errorf("unknown frame %q", o.frame)
}

func (o *options) simple(use, short string, op func(*qp.Controller, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, c *qp.Controller) error {
				return op(c, ctx)
			})
		},
	}
}

// run connects, performs op, optionally waits, and prints the final status.
func (o *options) run(cmd *cobra.Command, op func(context.Context, *qp.Controller) error) error {
	ctx := cmd.Context()
	c, err := connect(ctx, o.drive.QP())
	if err != nil {
		return err
	}
	defer c.Close()

	if err := op(ctx, c); err != nil {
		return err
	}
	if o.track {
		// Keep correcting until interrupted.
		<-ctx.Done()
		return nil
	}
	if o.wait && !o.drive.Simulate {
		waitCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()
		if err := c.WaitIdle(waitCtx); err != nil {
			return fmt.Errorf("waiting: %w", err)
		}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(c.Status())
}
