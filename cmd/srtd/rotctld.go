package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"

	"github.com/w1xm/qpdrive/qp"
	"github.com/w1xm/qpdrive/rotator"
)

// Hamlib error codes.
const (
	rigOK      = 0
	rigEInval  = -22
	rigEIO     = -5
	rigEBusy   = -16
	rigEUnknwn = -1
)

func (s *Server) ListenRotctld(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing rotctld socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Printf("failed to accept: %v", err)
				continue
			}
			go s.handleRotctld(ctx, conn)
		}
	}()
	return nil
}

func rprtFor(err error) int {
	switch {
	case err == nil:
		return rigOK
	case errors.Is(err, qp.ErrInvalidCoordinate), errors.Is(err, qp.ErrMalformedCommand):
		return rigEInval
	case errors.Is(err, qp.ErrControllerFault):
		return rigEBusy
	}
	return rigEIO
}

// writePosition reports status in rotctld's -180..180 azimuth convention.
func writePosition(w io.Writer, status rotator.Status, extended bool) {
	az := status.AzimuthPosition()
	if az > 180 {
		az -= 360
	}
	if extended {
		fmt.Fprintf(w, "Azimuth: %.6f\nElevation: %.6f\n", az, status.ElevationPosition())
	} else {
		fmt.Fprintf(w, "%.6f\n%.6f\n", az, status.ElevationPosition())
	}
}

func parseFloats(args []string, n int) ([]float64, bool) {
	if len(args) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (s *Server) handleRotctld(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log.Printf("accepted connection from %v", conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by command name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Fields(cmd)
			cmd = parts[0][2:]
			args = parts[1:]
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else {
			// Space after command is optional.
			if len(cmd) > 1 {
				args = strings.Fields(cmd[1:])
			}
			cmd = string(cmd[0])
		}
		log.Printf("%v command: %q args: %#v", conn.RemoteAddr(), cmd, args)
		rprt := rigEUnknwn
		switch cmd {
		case "1", "dump_caps":
			fmt.Fprint(conn, `Model name: qp
Mfg name: W1XM
Rot type: Az-El
Min Azimuth: -180.00
Max Azimuth: 180.00
Min Elevation: 0.00
Max Elevation: 90.00
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Park: Y
Can Reset: N
Can Move: Y
Can get Info: Y
`)
			rprt = rigOK
		case "_", "get_info":
			site := s.d.Site()
			fmt.Fprintf(conn, "qp alt-az mount at %.4f %.4f\n", site.Latitude, site.Longitude)
			rprt = rigOK
		case "S", "stop":
			extended = true // always print RPRT
			rprt = rprtFor(s.d.Panic(ctx))
		case "K", "park":
			extended = true // always print RPRT
			rprt = rprtFor(s.d.Stow(ctx))
		case "P", "set_pos":
			extended = true // always print RPRT
			v, ok := parseFloats(args, 2)
			if !ok {
				rprt = rigEInval
				break
			}
			az := v[0]
			if az < 0 {
				az += 360
			}
			rprt = rprtFor(s.d.Goto(ctx, rotator.Horizontal{Azimuth: az, Altitude: v[1]}, false))
		case "M", "move":
			extended = true // always print RPRT
			if len(args) != 2 {
				rprt = rigEInval
				break
			}
			// The speed argument is accepted but the mount only drives at one rate.
			dir, err := strconv.Atoi(args[0])
			if err != nil {
				rprt = rigEInval
				break
			}
			if _, err := strconv.Atoi(args[1]); err != nil {
				rprt = rigEInval
				break
			}
			d, ok := map[int]rotator.Direction{
				2:  rotator.Up,
				4:  rotator.Down,
				8:  rotator.Left,
				16: rotator.Right,
			}[dir]
			if !ok {
				rprt = rigEInval
				break
			}
			rprt = rprtFor(s.d.Drive(ctx, d))
		case "p", "get_pos":
			s.statusMu.RLock()
			status := s.status
			s.statusMu.RUnlock()
			writePosition(conn, status, extended)
			rprt = rigOK
		}
		if extended || rprt != rigOK {
			fmt.Fprintf(conn, "RPRT %d\n", rprt)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading from %v: %v", conn.RemoteAddr(), err)
	}
}
