package qp

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// listen reads status lines until ctx is done. Nothing read from the device
// stops it: bad lines are logged and skipped, and read errors are retried
// after a pause.
func (c *Controller) listen(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Wait for context to be canceled, then close connection.
		<-ctx.Done()
		return c.t.Close()
	})
	g.Go(func() error {
		for {
			line, err := c.t.ReadLine()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				c.log.Printf("reading port: %v", err)
				c.metrics.IncStatusLine("read_error")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(1 * time.Second):
				}
				continue
			}
			if line == "" {
				continue
			}
			c.handleLine(line)
		}
	})
	return g.Wait()
}

// Inject applies line as though the device had sent it.
func (c *Controller) Inject(line string) {
	c.handleLine(line)
}

func (c *Controller) handleLine(line string) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Printf("handling %q: %v", line, r)
			c.metrics.IncStatusLine("panic")
		}
	}()
	ev := ParseStatus(line)
	c.metrics.IncStatusLine(eventKind(ev))
	if err := c.apply(ev); err != nil {
		c.log.Printf("parsing %q: %v", line, err)
	}
}

// apply folds one event into the session.
func (c *Controller) apply(ev StatusEvent) error {
	now := c.now()
	switch ev := ev.(type) {
	case PositionUpdate:
		c.setPosition(func(p *Position) {
			p.Azimuth, p.Altitude = ev.Azimuth, ev.Altitude
		}, now)
	case AxisUpdate:
		c.setPosition(func(p *Position) {
			if ev.Axis == AxisAzimuth {
				p.Azimuth = ev.Angle
			} else {
				p.Altitude = ev.Angle
			}
		}, now)
	case CalibrationComplete:
		c.state.update(func(s *Status) {
			s.Calibrating = false
			if ev.Valid {
				s.Calibration = ev.Calibration
			}
		})
		if !ev.Valid {
			return fmt.Errorf("calibration profile %q not understood", ev.Profile)
		}
		c.log.Printf("calibration complete: %v", ev.Calibration)
	case ErrorReported:
		c.log.Printf("device error: %s", ev.Text)
		c.state.update(func(s *Status) { s.LastDeviceError = ev.Text })
	case Informational:
		c.log.Printf("device: %s", ev.Text)
	case StatusBlock:
		if ev.Target != nil {
			c.state.update(func(s *Status) { s.DeviceTarget = ev.Target })
		}
	case Acknowledged:
		switch ev.Kind {
		case AckArrived:
			c.state.update(func(s *Status) {
				s.Slewing = false
				s.Homing = false
			})
		case AckEndstop:
			c.log.Printf("warning: endstop reached (%q)", ev.Text)
		}
	case Unrecognized:
		return fmt.Errorf("%w: %s", ErrParseIgnored, ev.Reason)
	}
	return nil
}

// setPosition records a new position and ends the current slew if it is
// now within tolerance of the target.
func (c *Controller) setPosition(fn func(*Position), now time.Time) {
	site := *c.cfg.Site
	var pos Position
	c.state.update(func(s *Status) {
		fn(&s.Position)
		s.Position.ObservedAt = now
		pos = s.Position
		if s.Target == nil || (!s.Slewing && !s.Homing) {
			return
		}
		hor, err := s.Target.Coordinate.Horizontal(now, site)
		if err == nil && c.within(hor, s.Position) {
			s.Slewing = false
			s.Homing = false
		}
	})
	c.metrics.SetPosition(pos.Azimuth, pos.Altitude)
}
