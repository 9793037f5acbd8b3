package simulator

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/w1xm/qpdrive/rotator"
)

// readUntil reads lines from conn until one has the given prefix.
func readUntil(t *testing.T, conn net.Conn, prefix string) []string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	scanner := bufio.NewScanner(conn)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if strings.HasPrefix(scanner.Text(), prefix) {
			return lines
		}
	}
	t.Fatalf("no %q line: %v (read %q)", prefix, scanner.Err(), lines)
	return nil
}

func start(t *testing.T, home rotator.Horizontal) (*Simulator, net.Conn) {
	t.Helper()
	sim, conn := New(home)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		conn.Close()
		<-done
	})
	return sim, conn
}

func TestGotoArrives(t *testing.T) {
	sim, conn := start(t, rotator.Horizontal{})
	if _, err := fmt.Fprintf(conn, "gh 0.52 0.35\n"); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, ">g A")
	pos := sim.Position()
	if math.Abs(pos.Azimuth-29.79) > 0.01 || math.Abs(pos.Altitude-20.05) > 0.01 {
		t.Errorf("position after goto = %v, want az 29.79 alt 20.05", pos)
	}
}

func TestTelemetry(t *testing.T) {
	_, conn := start(t, rotator.Horizontal{Azimuth: 90})
	lines := readUntil(t, conn, "s ")
	fields := strings.Split(strings.TrimPrefix(lines[len(lines)-1], "s "), ",")
	if len(fields) != 3 {
		t.Fatalf("telemetry %q: want 3 fields", lines[len(lines)-1])
	}
	if fields[1] != "1.570796" || fields[2] != "0.000000" {
		t.Errorf("telemetry az,alt = %s,%s, want 1.570796,0.000000", fields[1], fields[2])
	}
}

func TestCalibrationReply(t *testing.T) {
	_, conn := start(t, rotator.Horizontal{})
	if _, err := fmt.Fprintf(conn, "c 450.000 650.000\n"); err != nil {
		t.Fatal(err)
	}
	lines := readUntil(t, conn, ">c")
	if got := lines[len(lines)-1]; got != ">c 450 650" {
		t.Errorf("calibration reply = %q, want %q", got, ">c 450 650")
	}
}

func TestUnknownCommand(t *testing.T) {
	_, conn := start(t, rotator.Horizontal{})
	if _, err := fmt.Fprintf(conn, "q 1\n"); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, "!unknown command q")
}
