package qp

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/w1xm/qpdrive/rotator"
)

// StatusEvent is the decoded form of one line from the device. The concrete
// types below are the only implementations.
type StatusEvent interface {
	statusEvent()
}

// PositionUpdate is a live telemetry line ("s t,az,alt"), in degrees.
type PositionUpdate struct {
	Azimuth  float64
	Altitude float64
}

type Axis int

const (
	AxisAzimuth Axis = iota
	AxisAltitude
)

func (a Axis) String() string {
	if a == AxisAzimuth {
		return "azimuth"
	}
	return "altitude"
}

// AxisUpdate is a single-axis encoder report ("az,ticks,rad" or "al,ticks,rad").
type AxisUpdate struct {
	Axis  Axis
	Ticks float64
	// Angle is in degrees, normalized for the axis.
	Angle float64
}

// CalibrationComplete carries the profile reported by ">c".
type CalibrationComplete struct {
	Profile     string
	Calibration Calibration
	// Valid is false when Profile did not parse as two numbers.
	Valid bool
}

// ErrorReported is a "!" line.
type ErrorReported struct {
	Text string
}

// Informational is a "#" line.
type Informational struct {
	Text string
}

// StatusBlock is a ">S k=v ..." report. Target is set when the block carries
// the device's current goal.
type StatusBlock struct {
	Fields map[string]string
	Target *rotator.Horizontal
}

type AckKind int

const (
	AckOther AckKind = iota
	// AckArrived is ">g A": the device reached its commanded position.
	AckArrived
	// AckEndstop is ">g E": a move stopped on an endstop.
	AckEndstop
)

func (k AckKind) String() string {
	switch k {
	case AckArrived:
		return "arrived"
	case AckEndstop:
		return "endstop"
	}
	return "ack"
}

// Acknowledged is any other ">" line.
type Acknowledged struct {
	Kind AckKind
	Text string
}

// Unrecognized is an empty line or one that matched no known shape.
type Unrecognized struct {
	Line   string
	Reason string
}

func (PositionUpdate) statusEvent()      {}
func (AxisUpdate) statusEvent()          {}
func (CalibrationComplete) statusEvent() {}
func (ErrorReported) statusEvent()       {}
func (Informational) statusEvent()       {}
func (StatusBlock) statusEvent()         {}
func (Acknowledged) statusEvent()        {}
func (Unrecognized) statusEvent()        {}

// eventKind names an event for logs and metrics.
func eventKind(ev StatusEvent) string {
	switch ev := ev.(type) {
	case PositionUpdate:
		return "position"
	case AxisUpdate:
		return "axis"
	case CalibrationComplete:
		return "calibration"
	case ErrorReported:
		return "error"
	case Informational:
		return "comment"
	case StatusBlock:
		return "status"
	case Acknowledged:
		return ev.Kind.String()
	}
	return "unrecognized"
}

// ParseStatus classifies a line by its leading marker. It never panics and
// never fails: lines it cannot use come back as Unrecognized.
func ParseStatus(line string) StatusEvent {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Unrecognized{Line: line, Reason: "empty line"}
	}
	switch line[0] {
	case '>':
		return parseReply(line, line[1:])
	case 's':
		return parseTelemetry(line)
	case 'a':
		if len(line) > 1 && (line[1] == 'z' || line[1] == 'l') {
			return parseAxis(line)
		}
	case '!':
		return ErrorReported{Text: strings.TrimSpace(line[1:])}
	case '#':
		return Informational{Text: strings.TrimSpace(line[1:])}
	}
	return Unrecognized{Line: line, Reason: "unknown marker"}
}

func parseReply(line, rest string) StatusEvent {
	switch {
	case strings.HasPrefix(rest, "S"):
		block := StatusBlock{Fields: map[string]string{}}
		for _, tok := range strings.Fields(rest[1:]) {
			k, v, ok := strings.Cut(tok, "=")
			if !ok {
				continue
			}
			block.Fields[k] = v
		}
		az, aerr := ParseNumber(block.Fields["az"])
		alt, lerr := ParseNumber(block.Fields["alt"])
		if aerr == nil && lerr == nil {
			block.Target = &rotator.Horizontal{
				Azimuth:  NormalizeAzimuth(rad2deg(az)),
				Altitude: NormalizeAltitude(rad2deg(alt)),
			}
		}
		return block
	case strings.HasPrefix(rest, "c"):
		profile := strings.TrimSpace(rest[1:])
		cal, err := ParseCalibration(profile)
		return CalibrationComplete{Profile: profile, Calibration: cal, Valid: err == nil}
	case strings.HasPrefix(rest, "g A"):
		return Acknowledged{Kind: AckArrived, Text: line}
	case strings.HasPrefix(rest, "g E"):
		return Acknowledged{Kind: AckEndstop, Text: line}
	}
	return Acknowledged{Kind: AckOther, Text: line}
}

func parseTelemetry(line string) StatusEvent {
	fields := strings.Split(strings.TrimSpace(line[1:]), ",")
	if len(fields) < 3 {
		return Unrecognized{Line: line, Reason: "truncated telemetry"}
	}
	az, err := ParseNumber(fields[1])
	if err != nil {
		return Unrecognized{Line: line, Reason: fmt.Sprintf("azimuth: %v", err)}
	}
	alt, err := ParseNumber(fields[2])
	if err != nil {
		return Unrecognized{Line: line, Reason: fmt.Sprintf("altitude: %v", err)}
	}
	return PositionUpdate{
		Azimuth:  NormalizeAzimuth(rad2deg(az)),
		Altitude: NormalizeAltitude(rad2deg(alt)),
	}
}

func parseAxis(line string) StatusEvent {
	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		return Unrecognized{Line: line, Reason: "truncated axis report"}
	}
	ticks, err := ParseNumber(fields[1])
	if err != nil {
		return Unrecognized{Line: line, Reason: fmt.Sprintf("ticks: %v", err)}
	}
	angle, err := ParseNumber(fields[2])
	if err != nil {
		return Unrecognized{Line: line, Reason: fmt.Sprintf("angle: %v", err)}
	}
	if strings.TrimSpace(fields[0]) == "az" {
		return AxisUpdate{Axis: AxisAzimuth, Ticks: ticks, Angle: NormalizeAzimuth(rad2deg(angle))}
	}
	if strings.TrimSpace(fields[0]) == "al" {
		return AxisUpdate{Axis: AxisAltitude, Ticks: ticks, Angle: NormalizeAltitude(rad2deg(angle))}
	}
	return Unrecognized{Line: line, Reason: "unknown axis"}
}

var errNotFinite = errors.New("not a finite number")

// ParseNumber parses the firmware's number format. The exponent after "e" may
// itself be fractional ("1.5e0.5"), which strconv cannot read, so mantissa and
// exponent are parsed separately.
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	mantissa, exponent, found := strings.Cut(strings.ToLower(s), "e")
	m, err := strconv.ParseFloat(mantissa, 64)
	if err != nil {
		return 0, err
	}
	f := m
	if found {
		e, err := strconv.ParseFloat(exponent, 64)
		if err != nil {
			return 0, err
		}
		f = m * math.Pow(10, e)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q: %w", s, errNotFinite)
	}
	return f, nil
}

// NormalizeAzimuth wraps deg into [0, 360).
func NormalizeAzimuth(deg float64) float64 {
	return wrap(deg, 360)
}

// NormalizeAltitude wraps deg into [0, 90).
// TODO: confirm against qp firmware whether negative altitudes below the
// horizon should wrap or be reported signed.
func NormalizeAltitude(deg float64) float64 {
	return wrap(deg, 90)
}

func wrap(x, span float64) float64 {
	x = math.Mod(x, span)
	if x < 0 {
		x += span
	}
	if x >= span {
		x = 0
	}
	return x
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}
