package qp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/w1xm/qpdrive/qp/simulator"
	"github.com/w1xm/qpdrive/rotator"
	"github.com/w1xm/qpdrive/transport"
)

func waitFor(t *testing.T, c *Controller, what string, pred func(Status) bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.WaitFor(ctx, pred); err != nil {
		t.Fatalf("waiting for %s: %v (status %+v)", what, err, c.Status())
	}
}

func TestListenerSurvivesGarbage(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := New(context.Background(), Config{}, transport.New(a, 50*time.Millisecond))
	defer c.Close()

	for _, line := range []string{
		"",
		"garbage",
		"s 1,x,y",
		"s 1,1e999,0",
		">c what",
		"!fault",
		"az,1,2,3",
		"s 0,1.5708,0.0",
	} {
		if _, err := fmt.Fprintf(b, "%s\n", line); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, c, "position", func(s Status) bool { return s.Position.Azimuth > 89 })
	require.Equal(t, "fault", c.Status().LastDeviceError)
}

func TestListenerKeepsPartialLines(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := New(context.Background(), Config{}, transport.New(a, 20*time.Millisecond))
	defer c.Close()

	fmt.Fprint(b, "s 0,3.14")
	time.Sleep(100 * time.Millisecond)
	fmt.Fprint(b, "15927,0.0\n")
	waitFor(t, c, "position", func(s Status) bool { return math.Abs(s.Position.Azimuth-180) < 1e-3 })
}

// flaky fails its first read, then serves lines.
type flaky struct {
	mu     sync.Mutex
	failed bool
	lines  chan string
	closed chan struct{}
	once   sync.Once
}

func (f *flaky) WriteLine(string) error { return nil }

func (f *flaky) ReadLine() (string, error) {
	f.mu.Lock()
	if !f.failed {
		f.failed = true
		f.mu.Unlock()
		return "", errors.New("device disconnected")
	}
	f.mu.Unlock()
	select {
	case l := <-f.lines:
		return l, nil
	case <-f.closed:
		return "", net.ErrClosed
	}
}

func (f *flaky) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func TestListenerRetriesAfterReadError(t *testing.T) {
	f := &flaky{lines: make(chan string, 1), closed: make(chan struct{})}
	c := New(context.Background(), Config{}, f)
	defer c.Close()

	f.lines <- "s 0,0.5236,0.5236"
	waitFor(t, c, "position", func(s Status) bool { return s.Position.Altitude > 29 })
}

func TestCloseStopsListener(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := New(context.Background(), Config{}, transport.New(a, time.Hour))

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}
	select {
	case <-c.listening:
	default:
		t.Error("listener still running after Close")
	}
}

func TestSimulatedDevice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sim, conn := simulator.New(rotator.Horizontal{})
	go sim.Run(ctx)

	c := New(ctx, Config{SlewTolerance: 0.5}, transport.New(conn, 100*time.Millisecond))
	defer c.Close()

	require.NoError(t, c.Goto(ctx, rotator.Horizontal{Azimuth: 30, Altitude: 20}, false))
	waitFor(t, c, "arrival", func(s Status) bool {
		return !s.Slewing &&
			math.Abs(s.Position.Azimuth-29.79) < 0.05 &&
			math.Abs(s.Position.Altitude-20.05) < 0.05
	})
	require.True(t, c.SlewSuccess(rotator.Horizontal{Azimuth: 30, Altitude: 20}))

	cal, err := c.Calibrate(ctx, "")
	require.NoError(t, err)
	require.Equal(t, Calibration{}, cal)
	waitFor(t, c, "calibration", func(s Status) bool { return !s.Calibrating })

	require.NoError(t, c.Stow(ctx))
	waitFor(t, c, "stow", func(s Status) bool {
		return !s.Slewing && math.Abs(s.Position.Altitude-89) < 0.05
	})
}
