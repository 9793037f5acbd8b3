package qp

import (
	"context"
	"sync"
	"time"

	"github.com/w1xm/qpdrive/rotator"
)

type Origin string

const (
	OriginGoto Origin = "goto"
	OriginHome Origin = "home"
	OriginStow Origin = "stow"
)

// Target is the direction the mount was last asked to point at. Targets are
// replaced, never modified.
type Target struct {
	// Coordinate is kept so the direction can be re-derived later.
	Coordinate rotator.Coordinate `json:"-"`
	Horizontal rotator.Horizontal `json:"horizontal"`
	Origin     Origin             `json:"origin"`
	IssuedAt   time.Time          `json:"issued_at"`
}

type Position struct {
	Azimuth    float64   `json:"azimuth"`
	Altitude   float64   `json:"altitude"`
	ObservedAt time.Time `json:"observed_at"`
}

func (p Position) Horizontal() rotator.Horizontal {
	return rotator.Horizontal{Azimuth: p.Azimuth, Altitude: p.Altitude}
}

// Flags are the controller's operation flags.
type Flags struct {
	Ready       bool `json:"ready"`
	Slewing     bool `json:"slewing"`
	Homing      bool `json:"homing"`
	Calibrating bool `json:"calibrating"`
	Tracking    bool `json:"tracking"`
}

// Status is a snapshot of the session.
type Status struct {
	Position Position `json:"position"`
	Target   *Target  `json:"target,omitempty"`
	// DeviceTarget is the goal last reported by the device in a ">S" block.
	DeviceTarget *rotator.Horizontal `json:"device_target,omitempty"`

	Homing      bool `json:"homing"`
	Slewing     bool `json:"slewing"`
	Calibrating bool `json:"calibrating"`
	Tracking    bool `json:"tracking"`
	Ready       bool `json:"ready"`

	Calibration     Calibration `json:"calibration"`
	LastDeviceError string      `json:"last_device_error,omitempty"`
}

var _ rotator.Status = Status{}

func (s Status) AzimuthPosition() float64 {
	return s.Position.Azimuth
}

func (s Status) ElevationPosition() float64 {
	return s.Position.Altitude
}

func (s Status) Flags() Flags {
	return Flags{
		Ready:       s.Ready,
		Slewing:     s.Slewing,
		Homing:      s.Homing,
		Calibrating: s.Calibrating,
		Tracking:    s.Tracking,
	}
}

// busy reports the operation in flight, if any.
func (s Status) busy() string {
	switch {
	case s.Homing:
		return "homing"
	case s.Slewing:
		return "slewing"
	case s.Calibrating:
		return "calibrating"
	}
	return ""
}

// report is the view handed to callers. The tracking loop stays armed during
// its own corrective slews, but is only reported while the mount is settled.
func (s Status) report() Status {
	s.Tracking = s.Tracking && !s.Slewing
	return s
}

type StatusCallback func(status Status)

// session guards the controller's Status. Every change closes the current
// changed channel, waking waiters, and is passed to the callback. Callbacks
// run one at a time in the order the changes were made, so they must not call
// back into the controller.
type session struct {
	notifyMu sync.Mutex
	mu       sync.Mutex
	status   Status
	changed  chan struct{}
	callback StatusCallback
}

func newSession(cb StatusCallback) *session {
	return &session{changed: make(chan struct{}), callback: cb}
}

func (s *session) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.report()
}

// raw returns the status without the tracking view applied.
func (s *session) raw() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// update applies fn under the lock and notifies if anything changed.
func (s *session) update(fn func(*Status)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	old := s.status
	fn(&s.status)
	cur := s.status
	var changed chan struct{}
	if cur != old {
		changed = s.changed
		s.changed = make(chan struct{})
	}
	s.mu.Unlock()
	if changed == nil {
		return
	}
	close(changed)
	if s.callback != nil {
		s.callback(cur.report())
	}
}

// waitFor blocks until pred holds for the reported status.
func (s *session) waitFor(ctx context.Context, pred func(Status) bool) error {
	for {
		s.mu.Lock()
		st, changed := s.status.report(), s.changed
		s.mu.Unlock()
		if pred(st) {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
