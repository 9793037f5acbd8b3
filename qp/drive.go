// Package qp drives an alt-azimuth mount running the qp firmware over a
// serial link.
package qp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/w1xm/qpdrive/internal/observability"
	"github.com/w1xm/qpdrive/rotator"
	"github.com/w1xm/qpdrive/transport"
)

// Transport is a line-oriented link to the device. *transport.Port and
// *transport.Simulated implement it.
type Transport interface {
	WriteLine(line string) error
	// ReadLine returns "" and no error when nothing arrived in time.
	ReadLine() (string, error)
	Close() error
}

// Controller implements rotator.Rotator for a qp mount.
type Controller struct {
	cfg     Config
	t       Transport
	log     *log.Logger
	metrics *observability.DriveCollector
	now     func() time.Time

	state   *session
	tracker *tracker

	// opMu serializes writes to the transport.
	opMu sync.Mutex

	cancel    context.CancelFunc
	listening chan struct{}
	closeOnce sync.Once
}

var _ rotator.Rotator = (*Controller)(nil)
var _ rotator.Driver = (*Controller)(nil)

// Connect opens the configured device, or a simulated link when
// cfg.Simulate is set, and returns a controller for it.
func Connect(ctx context.Context, cfg Config) (*Controller, error) {
	var t Transport
	if cfg.Simulate {
		t = transport.NewSimulated()
	} else {
		p, err := transport.Open(transport.Config{
			Device:      cfg.Device,
			Baud:        cfg.Baud,
			ReadTimeout: cfg.withDefaults().ReadTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		t = p
	}
	return New(ctx, cfg, t), nil
}

// New returns a controller using t. Unless cfg.Simulate is set, a listener
// reads status lines from t until ctx is done or Close is called.
func New(ctx context.Context, cfg Config, t Transport) *Controller {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		cfg:       cfg,
		t:         t,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		now:       time.Now,
		cancel:    cancel,
		listening: make(chan struct{}),
	}
	c.state = newSession(c.notifyStatus)
	c.tracker = newTracker(ctx, cfg.TrackInterval, c.correctTracking, c.setTracking)
	go c.tracker.run()
	if cfg.Simulate {
		close(c.listening)
		return c
	}
	go func() {
		defer close(c.listening)
		if err := c.listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Printf("listener: %v", err)
		}
	}()
	return c
}

func (c *Controller) notifyStatus(status Status) {
	c.metrics.SetInFlight(status.Homing, status.Slewing, status.Calibrating, status.Tracking)
	if c.cfg.StatusCallback != nil {
		c.cfg.StatusCallback(status)
	}
}

// Close stops the tracking loop and the listener and releases the transport.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.cfg.Simulate {
			err = c.t.Close()
			return
		}
		select {
		case <-c.listening:
		case <-time.After(2 * time.Second):
			c.log.Printf("listener did not exit; closing transport")
			err = c.t.Close()
		}
	})
	return err
}

func (c *Controller) Status() Status {
	return c.state.snapshot()
}

func (c *Controller) Position() Position {
	return c.state.snapshot().Position
}

func (c *Controller) Flags() Flags {
	return c.state.snapshot().Flags()
}

func (c *Controller) Site() rotator.Site {
	return *c.cfg.Site
}

// WaitFor blocks until pred holds for the controller's status.
func (c *Controller) WaitFor(ctx context.Context, pred func(Status) bool) error {
	return c.state.waitFor(ctx, pred)
}

// WaitIdle blocks until no slew, homing or calibration is in progress.
func (c *Controller) WaitIdle(ctx context.Context) error {
	return c.WaitFor(ctx, func(s Status) bool { return s.busy() == "" })
}

// write sends a validated line. Callers hold opMu.
func (c *Controller) write(label string, line CommandLine) error {
	if err := c.t.WriteLine(string(line)); err != nil {
		c.metrics.IncCommandError("transport")
		return fmt.Errorf("%w: writing %q: %w", ErrTransport, line, err)
	}
	c.metrics.IncCommand(label)
	return nil
}

// transact applies mutate, then sends line. If the send fails, the operation
// fields are put back as they were.
func (c *Controller) transact(op Op, line CommandLine, mutate func(*Status)) error {
	var prior Status
	c.state.update(func(s *Status) {
		prior = *s
		if mutate != nil {
			mutate(s)
		}
	})
	if err := c.write(op.String(), line); err != nil {
		c.state.update(func(s *Status) {
			s.Target = prior.Target
			s.Homing = prior.Homing
			s.Slewing = prior.Slewing
			s.Calibrating = prior.Calibrating
			s.Tracking = prior.Tracking
			s.Calibration = prior.Calibration
		})
		return err
	}
	return nil
}

func (c *Controller) encode(op Op, params ...interface{}) (CommandLine, error) {
	line, err := Encode(op, params...)
	if err != nil {
		c.metrics.IncCommandError("malformed")
	}
	return line, err
}

func (c *Controller) fault(format string, args ...interface{}) error {
	c.metrics.IncCommandError("fault")
	return fmt.Errorf("%w: %s", ErrControllerFault, fmt.Sprintf(format, args...))
}

// Goto points the mount at coord as seen from the site now. With track set
// the direction is re-derived and re-sent every TrackInterval.
func (c *Controller) Goto(ctx context.Context, coord rotator.Coordinate, track bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if coord == nil {
		return fmt.Errorf("%w: no coordinate", ErrInvalidCoordinate)
	}
	now := c.now()
	hor, err := coord.Horizontal(now, *c.cfg.Site)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCoordinate, err)
	}
	if op := c.state.raw().busy(); op == "homing" || op == "calibrating" {
		return c.fault("goto while %s", op)
	}
	resume := c.pauseTracking()

	c.opMu.Lock()
	err = c.pointLocked(OriginGoto, coord, hor, now)
	c.opMu.Unlock()
	if err != nil {
		resume()
		return err
	}
	if track {
		c.tracker.start()
	}
	return nil
}

// pointLocked replaces the target and sends the goto command.
func (c *Controller) pointLocked(origin Origin, coord rotator.Coordinate, hor rotator.Horizontal, now time.Time) error {
	if op := c.state.raw().busy(); op == "homing" || op == "calibrating" {
		return c.fault("goto while %s", op)
	}
	line, err := c.encode(OpGotoHorizontal, deg2rad(hor.Azimuth), deg2rad(hor.Altitude))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrControllerFault, err)
	}
	target := &Target{Coordinate: coord, Horizontal: hor, Origin: origin, IssuedAt: now}
	return c.transact(OpGotoHorizontal, line, func(s *Status) {
		s.Target = target
		s.Homing = false
		s.Slewing = true
	})
}

// Home sends the mount to its reference position. It does not wait for
// arrival.
func (c *Controller) Home(ctx context.Context) error {
	return c.park(ctx, OpHome, OriginHome, c.cfg.home())
}

// Stow sends the mount to its resting position just short of the zenith.
func (c *Controller) Stow(ctx context.Context) error {
	return c.park(ctx, OpStow, OriginStow, stowPosition)
}

func (c *Controller) park(ctx context.Context, op Op, origin Origin, dest rotator.Horizontal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.state.raw().Calibrating {
		return c.fault("%v while calibrating", op)
	}
	line, err := c.encode(op)
	if err != nil {
		return err
	}
	resume := c.pauseTracking()

	c.opMu.Lock()
	err = c.parkLocked(op, origin, dest, line)
	c.opMu.Unlock()
	if err != nil {
		resume()
	}
	return err
}

func (c *Controller) parkLocked(op Op, origin Origin, dest rotator.Horizontal, line CommandLine) error {
	if c.state.raw().Calibrating {
		return c.fault("%v while calibrating", op)
	}
	target := &Target{Coordinate: dest, Horizontal: dest, Origin: origin, IssuedAt: c.now()}
	return c.transact(op, line, func(s *Status) {
		s.Target = target
		s.Homing = op == OpHome
		s.Slewing = op != OpHome
	})
}

// Calibrate applies values if they form a calibration profile, and
// otherwise asks the device to run a calibration. A run returns a zero
// profile: on a live mount the measured one arrives later in Status, while a
// simulated controller keeps the zero profile.
func (c *Controller) Calibrate(ctx context.Context, values string) (Calibration, error) {
	if err := ctx.Err(); err != nil {
		return Calibration{}, err
	}
	cal, perr := ParseCalibration(values)
	if perr == nil {
		line, err := c.encode(OpCalibrateSet, cal.A, cal.B)
		if err != nil {
			return Calibration{}, err
		}
		c.opMu.Lock()
		defer c.opMu.Unlock()
		if err := c.transact(OpCalibrateSet, line, func(s *Status) { s.Calibration = cal }); err != nil {
			return Calibration{}, err
		}
		return cal, nil
	}
	if values != "" {
		c.log.Printf("calibration %q: %v; running calibration instead", values, perr)
	}
	if c.cfg.Simulate {
		c.state.update(func(s *Status) { s.Calibration = Calibration{} })
		return Calibration{}, nil
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if op := c.state.raw().busy(); op != "" {
		return Calibration{}, c.fault("calibrate while %s", op)
	}
	line, err := c.encode(OpCalibrateRun)
	if err != nil {
		return Calibration{}, err
	}
	if err := c.transact(OpCalibrateRun, line, func(s *Status) { s.Calibrating = true }); err != nil {
		return Calibration{}, err
	}
	return Calibration{}, nil
}

// Panic stops the mount immediately, whatever it is doing.
func (c *Controller) Panic(ctx context.Context) error {
	line, err := c.encode(OpPanic)
	if err != nil {
		return err
	}
	resume := c.pauseTracking()
	c.opMu.Lock()
	err = c.write(OpPanic.String(), line)
	if err == nil {
		c.state.update(func(s *Status) {
			s.Slewing = false
			s.Homing = false
			s.Tracking = false
		})
	}
	c.opMu.Unlock()
	if err != nil {
		resume()
	}
	return err
}

// Track starts the tracking loop on the current target.
func (c *Controller) Track(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := c.state.raw().Target
	if target == nil || target.Coordinate == nil {
		return c.fault("track without a target")
	}
	c.tracker.start()
	return nil
}

// StopTrack stops the tracking loop. When it returns no correction is
// running or pending.
func (c *Controller) StopTrack() {
	c.tracker.stop()
}

// pauseTracking stops the tracking loop and returns a func that re-arms it if
// it was armed. Callers must not hold opMu when calling either.
func (c *Controller) pauseTracking() (resume func()) {
	armed := c.state.raw().Tracking
	c.tracker.stop()
	return func() {
		if armed {
			c.tracker.start()
		}
	}
}

func (c *Controller) setTracking(on bool) {
	c.state.update(func(s *Status) { s.Tracking = on })
}

// correctTracking re-derives the target direction and re-sends it. It is
// only called from the tracking loop.
func (c *Controller) correctTracking() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	st := c.state.raw()
	if op := st.busy(); op != "" {
		c.log.Printf("tracking: skipping correction while %s", op)
		return
	}
	if st.Target == nil || st.Target.Coordinate == nil {
		return
	}
	now := c.now()
	hor, err := st.Target.Coordinate.Horizontal(now, *c.cfg.Site)
	if err != nil {
		c.log.Printf("tracking: %v", err)
		return
	}
	if err := c.pointLocked(OriginGoto, st.Target.Coordinate, hor, now); err != nil {
		c.log.Printf("tracking: %v", err)
	}
}

// SlewSuccess reports whether the mount is within the slew tolerance of
// target as seen from the site now.
func (c *Controller) SlewSuccess(target rotator.Coordinate) bool {
	if target == nil {
		return false
	}
	hor, err := target.Horizontal(c.now(), *c.cfg.Site)
	if err != nil {
		return false
	}
	return c.within(hor, c.state.raw().Position)
}

// within compares in the reported domain: positions arrive with altitude
// wrapped into [0,90), so a home below the horizon must be wrapped too.
func (c *Controller) within(hor rotator.Horizontal, pos Position) bool {
	hor = rotator.Horizontal{
		Azimuth:  NormalizeAzimuth(hor.Azimuth),
		Altitude: NormalizeAltitude(hor.Altitude),
	}
	return rotator.Separation(hor, pos.Horizontal()) < c.cfg.SlewTolerance
}

// SetTime sets the device clock to the current UTC time.
func (c *Controller) SetTime(ctx context.Context) error {
	t := c.now().UTC()
	sec := float64(t.Second()) + float64(t.Nanosecond())/1e9
	line, err := c.encode(OpSetTime, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), sec)
	if err != nil {
		return err
	}
	return c.send(ctx, OpSetTime, line)
}

// SetSite sends the site, offsets and home direction, then the azimuth span
// if one is configured.
func (c *Controller) SetSite(ctx context.Context) error {
	site := c.cfg.Site
	line, err := c.encode(OpSetSite, site.Latitude, site.Longitude,
		c.cfg.LatitudeOffset, c.cfg.LongitudeOffset, c.cfg.HomeAzimuth, c.cfg.HomeAltitude)
	if err != nil {
		return err
	}
	if err := c.send(ctx, OpSetSite, line); err != nil {
		return err
	}
	if c.cfg.Span <= 0 {
		return nil
	}
	line, err = c.encode(OpSetSpan, c.cfg.Span)
	if err != nil {
		return err
	}
	return c.send(ctx, OpSetSpan, line)
}

// SetStatusCadence sets how many status reports the device sends per
// second.
func (c *Controller) SetStatusCadence(ctx context.Context, perSecond int) error {
	line, err := c.encode(OpStatusCadence, perSecond)
	if err != nil {
		return err
	}
	return c.send(ctx, OpStatusCadence, line)
}

// SetTrackSpeed sets the azimuth tracking rate in radians per second.
func (c *Controller) SetTrackSpeed(ctx context.Context, radPerSec float64) error {
	line, err := c.encode(OpTrackSpeed, radPerSec)
	if err != nil {
		return err
	}
	return c.send(ctx, OpTrackSpeed, line)
}

// Drive starts a continuous move. Panic stops it.
func (c *Controller) Drive(ctx context.Context, dir rotator.Direction) error {
	op, ok := map[rotator.Direction]Op{
		rotator.Up:    OpDriveUp,
		rotator.Down:  OpDriveDown,
		rotator.Left:  OpDriveLeft,
		rotator.Right: OpDriveRight,
	}[dir]
	if !ok {
		return fmt.Errorf("%w: unknown direction %v", ErrMalformedCommand, dir)
	}
	line, err := c.encode(op)
	if err != nil {
		return err
	}
	return c.sendPaused(ctx, op, line)
}

// Nudge moves the mount by a small offset, in degrees.
func (c *Controller) Nudge(ctx context.Context, dAz, dAlt float64) error {
	line, err := c.encode(OpNudge, deg2rad(dAz), deg2rad(dAlt))
	if err != nil {
		return err
	}
	return c.sendPaused(ctx, OpNudge, line)
}

// Command sends a raw command built from letters and params.
func (c *Controller) Command(ctx context.Context, letters string, params ...float64) error {
	line, err := Compose(letters, params...)
	if err != nil {
		c.metrics.IncCommandError("malformed")
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.write("RAW", line)
}

// sendPaused sends a manual move with the tracking loop stopped. The loop is
// left stopped only if the move went out.
func (c *Controller) sendPaused(ctx context.Context, op Op, line CommandLine) error {
	resume := c.pauseTracking()
	if err := c.send(ctx, op, line); err != nil {
		resume()
		return err
	}
	return nil
}

func (c *Controller) send(ctx context.Context, op Op, line CommandLine) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.write(op.String(), line)
}

// Start runs the startup sequence: clock, site, status cadence,
// calibration, then homing. The controller is ready once it completes.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.SetTime(ctx); err != nil {
		return fmt.Errorf("setting time: %w", err)
	}
	if err := c.SetSite(ctx); err != nil {
		return fmt.Errorf("setting site: %w", err)
	}
	if c.cfg.StatusCadence > 0 {
		if err := c.SetStatusCadence(ctx, c.cfg.StatusCadence); err != nil {
			return fmt.Errorf("setting status cadence: %w", err)
		}
	}
	if _, err := c.Calibrate(ctx, c.cfg.Calibration); err != nil {
		return fmt.Errorf("calibrating: %w", err)
	}
	if err := c.WaitIdle(ctx); err != nil {
		return fmt.Errorf("waiting for calibration: %w", err)
	}
	if err := c.Home(ctx); err != nil {
		return fmt.Errorf("homing: %w", err)
	}
	if !c.cfg.Simulate {
		if err := c.WaitIdle(ctx); err != nil {
			return fmt.Errorf("waiting for home: %w", err)
		}
	}
	c.state.update(func(s *Status) { s.Ready = true })
	return nil
}
