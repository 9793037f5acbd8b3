// Package simulator emulates a qp mount on the far end of a net.Pipe.
package simulator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/w1xm/qpdrive/rotator"
	"golang.org/x/sync/errgroup"
)

const (
	// Slew rate in degrees/second
	maxVel = 30
	// Drive is stopped at these altitudes, in degrees
	minAlt = -10
	maxAlt = 90
	// Discrete simulation step size
	stepSize = 25 * time.Millisecond
	// Default interval between telemetry lines
	reportInterval = 100 * time.Millisecond
)

type Simulator struct {
	conn  io.ReadWriteCloser
	home  rotator.Horizontal
	start time.Time

	mu sync.Mutex
	// Position and target, in degrees.
	az, alt             float64
	targetAz, targetAlt float64
	moving              bool
	// Continuous drive rate, in degrees/second.
	driveAz, driveAlt float64
	calibration       [2]float64
	cadence           time.Duration
	lastReport        time.Time
}

// New returns a simulator resting at home, and the controller's end of the
// link.
func New(home rotator.Horizontal) (*Simulator, net.Conn) {
	a, b := net.Pipe()
	return &Simulator{
		conn:    a,
		home:    home,
		az:      home.Azimuth,
		alt:     home.Altitude,
		cadence: reportInterval,
	}, b
}

var cmdRE = regexp.MustCompile(`^([A-Za-z]{1,2}) ?(.*)$`)

// Azimuth and altitude rates for the manual drive commands.
var driveRates = map[string][2]float64{
	"u": {0, maxVel},
	"d": {0, -maxVel},
	"l": {-maxVel, 0},
	"r": {maxVel, 0},
}

func (s *Simulator) parseInput(input string) error {
	parts := cmdRE.FindStringSubmatch(input)
	if parts == nil {
		s.send("!unrecognized command")
		return fmt.Errorf("unrecognized command %q", input)
	}
	cmd := parts[1]
	var args []float64
	for _, f := range strings.Fields(parts[2]) {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			s.send("!bad argument %s", f)
			return err
		}
		args = append(args, v)
	}
	switch {
	case cmd == "gh" && len(args) == 2:
		s.moveTo(rad2deg(args[0]), rad2deg(args[1]))
	case cmd == "gH" && len(args) == 0:
		s.moveTo(s.home.Azimuth, s.home.Altitude)
	case cmd == "X" && len(args) == 0:
		s.moveTo(0, 89)
	case cmd == "x" && len(args) == 0:
		s.moving = false
		s.driveAz, s.driveAlt = 0, 0
		return s.send("#stopped")
	case cmd == "n" && len(args) == 2:
		s.moveTo(s.az+rad2deg(args[0]), s.alt+rad2deg(args[1]))
	case len(cmd) == 1 && strings.Contains("udlr", cmd) && len(args) == 0:
		s.moving = false
		rate := driveRates[cmd]
		s.driveAz, s.driveAlt = rate[0], rate[1]
	case cmd == "c" && len(args) == 2:
		s.calibration = [2]float64{args[0], args[1]}
		return s.send(">c %03.0f %03.0f", args[0], args[1])
	case cmd == "c" && len(args) == 0:
		return s.send(">c %03.0f %03.0f", s.calibration[0], s.calibration[1])
	case cmd == "s" && len(args) == 1:
		if args[0] > 0 {
			s.cadence = time.Duration(float64(time.Second) / args[0])
		}
	case cmd == "T" || cmd == "O" || cmd == "Z" || cmd == "ta":
	default:
		s.send("!unknown command %s", cmd)
		return fmt.Errorf("unknown command %q %v", cmd, args)
	}
	return s.send("#ok %s", cmd)
}

func (s *Simulator) moveTo(az, alt float64) {
	s.targetAz = math.Mod(math.Mod(az, 360)+360, 360)
	s.targetAlt = alt
	s.driveAz, s.driveAlt = 0, 0
	s.moving = true
}

func (s *Simulator) Run(ctx context.Context) error {
	defer s.conn.Close()
	s.start = time.Now()
	t := time.NewTicker(stepSize)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case now := <-t.C:
				if err := s.step(now); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		// Wait for context to be canceled, then close connection.
		<-ctx.Done()
		return s.conn.Close()
	})
	g.Go(s.reader)
	return g.Wait()
}

func (s *Simulator) reader() error {
	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		log.Printf("srv->sim: %s", input)
		s.mu.Lock()
		err := s.parseInput(input)
		s.mu.Unlock()
		if err != nil {
			log.Printf("parsing %q: %v", input, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading port: %w", err)
	}
	return nil
}

// approach moves cur toward target by at most max.
func approach(cur, target, max float64) (float64, bool) {
	delta := target - cur
	if math.Abs(delta) <= max {
		return target, true
	}
	return cur + math.Copysign(max, delta), false
}

func (s *Simulator) step(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := maxVel * stepSize.Seconds()

	if s.moving {
		// Take the short way round in azimuth.
		dAz := math.Remainder(s.targetAz-s.az, 360)
		az, azDone := approach(0, dAz, limit)
		alt, altDone := approach(s.alt, s.targetAlt, limit)
		s.az = math.Mod(s.az+az+360, 360)
		s.alt = alt
		if azDone && altDone {
			s.moving = false
			if err := s.send(">g A"); err != nil {
				return err
			}
		}
	} else {
		s.az = math.Mod(s.az+s.driveAz*stepSize.Seconds()+360, 360)
		s.alt += s.driveAlt * stepSize.Seconds()
	}
	if s.alt < minAlt || s.alt > maxAlt {
		s.alt = math.Max(minAlt, math.Min(maxAlt, s.alt))
		s.moving = false
		s.driveAz, s.driveAlt = 0, 0
		if err := s.send(">g E"); err != nil {
			return err
		}
	}

	if now.Sub(s.lastReport) >= s.cadence {
		s.lastReport = now
		ms := now.Sub(s.start).Milliseconds()
		return s.send("s %d,%.6f,%.6f", ms, deg2rad(s.az), deg2rad(s.alt))
	}
	return nil
}

// Position returns the simulated position in degrees.
func (s *Simulator) Position() rotator.Horizontal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rotator.Horizontal{Azimuth: s.az, Altitude: s.alt}
}

func (s *Simulator) send(cmd string, fields ...interface{}) error {
	if len(fields) > 0 {
		cmd = fmt.Sprintf(cmd, fields...)
	}
	log.Printf("sim->srv: %s", cmd)
	_, err := fmt.Fprintf(s.conn, "%s\n", cmd)
	return err
}

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}
