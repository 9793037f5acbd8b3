package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/w1xm/qpdrive/qp"
	"github.com/w1xm/qpdrive/rotator"
	"github.com/w1xm/qpdrive/transport"
)

func testServer(t *testing.T) (*Server, *qp.Controller, *transport.Simulated) {
	t.Helper()
	s := NewServer()
	st := transport.NewSimulated()
	d := qp.New(context.Background(), qp.Config{Simulate: true, StatusCallback: s.statusCallback}, st)
	t.Cleanup(func() { d.Close() })
	s.d = d
	return s, d, st
}

type rotctldClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialRotctld(t *testing.T, s *Server) *rotctldClient {
	t.Helper()
	a, b := net.Pipe()
	go s.handleRotctld(context.Background(), a)
	t.Cleanup(func() { b.Close() })
	return &rotctldClient{t: t, conn: b, r: bufio.NewReader(b)}
}

// roundTrip sends cmd and reads n response lines.
func (c *rotctldClient) roundTrip(cmd string, n int) []string {
	c.t.Helper()
	if _, err := fmt.Fprintf(c.conn, "%s\n", cmd); err != nil {
		c.t.Fatal(err)
	}
	var lines []string
	for i := 0; i < n; i++ {
		line, err := c.r.ReadString('\n')
		if err != nil {
			c.t.Fatalf("%s: reading reply: %v", cmd, err)
		}
		lines = append(lines, strings.TrimSuffix(line, "\n"))
	}
	return lines
}

func TestRotctldGetPos(t *testing.T) {
	s, d, _ := testServer(t)
	d.Inject("s 0,4.71238898,0.52359878")
	c := dialRotctld(t, s)

	require.Equal(t, []string{"-90.000000", "30.000000"}, c.roundTrip("p", 2))
	require.Equal(t, []string{
		"get_pos:",
		"Azimuth: -90.000000",
		"Elevation: 30.000000",
		"RPRT 0",
	}, c.roundTrip(`+\get_pos`, 4))
}

func TestRotctldSetPos(t *testing.T) {
	s, d, st := testServer(t)
	c := dialRotctld(t, s)

	require.Equal(t, []string{"RPRT 0"}, c.roundTrip("P -90 30", 1))
	require.Equal(t, "gh 4.71 0.52", st.Last())
	status := d.Status()
	require.NotNil(t, status.Target)
	require.Equal(t, rotator.Horizontal{Azimuth: 270, Altitude: 30}, status.Target.Horizontal)

	for _, cmd := range []string{"P", "P 1", "P x 2", "P 1 y"} {
		require.Equal(t, []string{"RPRT -22"}, c.roundTrip(cmd, 1), cmd)
	}
	require.Equal(t, []string{"RPRT -22"}, c.roundTrip("P 10 95", 1))
}

func TestRotctldBusy(t *testing.T) {
	s, d, _ := testServer(t)
	c := dialRotctld(t, s)

	require.NoError(t, d.Home(context.Background()))
	require.Equal(t, []string{"RPRT -16"}, c.roundTrip("P 10 10", 1))
}

func TestRotctldMoveStopPark(t *testing.T) {
	s, _, st := testServer(t)
	c := dialRotctld(t, s)

	for _, tc := range []struct {
		cmd  string
		want string
	}{
		{"M 2 50", "u"},
		{"M 4 50", "d"},
		{"M 8 50", "l"},
		{"M 16 50", "r"},
		{"S", "x"},
		{"K", "X"},
	} {
		require.Equal(t, []string{"RPRT 0"}, c.roundTrip(tc.cmd, 1), tc.cmd)
		require.Equal(t, tc.want, st.Last(), tc.cmd)
	}
	require.Equal(t, []string{"RPRT -22"}, c.roundTrip("M 3 50", 1))
	require.Equal(t, []string{"RPRT -22"}, c.roundTrip("M 2", 1))
	require.Equal(t, []string{"stop:", "RPRT 0"}, c.roundTrip(`+\stop`, 2))
}

func TestRotctldUnknown(t *testing.T) {
	s, _, _ := testServer(t)
	c := dialRotctld(t, s)

	require.Equal(t, []string{"RPRT -1"}, c.roundTrip("z", 1))
	caps := c.roundTrip("1", 14)
	require.Equal(t, "Rot type: Az-El", caps[2])
}

type fixedStatus struct{ az, el float64 }

func (f fixedStatus) AzimuthPosition() float64   { return f.az }
func (f fixedStatus) ElevationPosition() float64 { return f.el }

func TestWritePosition(t *testing.T) {
	for _, tc := range []struct {
		status   rotator.Status
		extended bool
		want     string
	}{
		{fixedStatus{az: 180, el: 10}, false, "180.000000\n10.000000\n"},
		{fixedStatus{az: 181, el: 10}, false, "-179.000000\n10.000000\n"},
		{fixedStatus{az: 0, el: 89.5}, true, "Azimuth: 0.000000\nElevation: 89.500000\n"},
		{qp.Status{Position: qp.Position{Azimuth: 350, Altitude: 20}}, false, "-10.000000\n20.000000\n"},
	} {
		var b strings.Builder
		writePosition(&b, tc.status, tc.extended)
		require.Equal(t, tc.want, b.String())
	}
}
