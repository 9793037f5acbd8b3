package qp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Op is a semantic drive operation.
type Op int

const (
	OpDriveUp Op = iota
	OpDriveDown
	OpDriveLeft
	OpDriveRight
	OpNudge
	OpGotoHorizontal
	OpHome
	OpStow
	OpPanic
	OpCalibrateSet
	OpCalibrateRun
	OpSetTime
	OpSetSite
	OpSetSpan
	OpStatusCadence
	OpTrackSpeed
)

type template struct {
	name   string
	format string
	params int
}

// vocabulary maps each operation onto the qp firmware's command text.
// Angles sent to the device are radians, except the site command which takes
// degrees.
var vocabulary = map[Op]template{
	OpDriveUp:        {"DRIVE_UP", "u", 0},
	OpDriveDown:      {"DRIVE_DOWN", "d", 0},
	OpDriveLeft:      {"DRIVE_LEFT", "l", 0},
	OpDriveRight:     {"DRIVE_RIGHT", "r", 0},
	OpNudge:          {"NUDGE", "n %.4f %.4f", 2},
	OpGotoHorizontal: {"GOTO_HOR", "gh %.2f %.2f", 2},
	OpHome:           {"HOME", "gH", 0},
	OpStow:           {"STOW", "X", 0},
	OpPanic:          {"PANIC", "x", 0},
	OpCalibrateSet:   {"CALIBRATE_SET", "c %.3f %.3f", 2},
	OpCalibrateRun:   {"CALIBRATE", "c", 0},
	OpSetTime:        {"SET_TIME", "T %d %d %d %d %d %.4f", 6},
	OpSetSite:        {"SET_SITE", "O %.4f %.4f %.4f %.4f %.2f %.2f", 6},
	OpSetSpan:        {"SET_SPAN", "Z %.2f", 1},
	OpStatusCadence:  {"STATUS_CADENCE", "s %d", 1},
	OpTrackSpeed:     {"TRACK_SPEED", "ta %.4f", 1},
}

func (op Op) String() string {
	if t, ok := vocabulary[op]; ok {
		return t.name
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// CommandLine is a line that has passed ValidateCommand.
type CommandLine string

// Encode renders op with params and validates the result.
func Encode(op Op, params ...interface{}) (CommandLine, error) {
	t, ok := vocabulary[op]
	if !ok {
		return "", fmt.Errorf("%w: unknown operation %v", ErrMalformedCommand, op)
	}
	if len(params) != t.params {
		return "", fmt.Errorf("%w: %v takes %d parameters, got %d", ErrMalformedCommand, op, t.params, len(params))
	}
	line := t.format
	if len(params) > 0 {
		line = fmt.Sprintf(t.format, params...)
	}
	if err := ValidateCommand(line); err != nil {
		return "", err
	}
	return CommandLine(line), nil
}

// Compose builds a command from raw letters and numbers.
func Compose(letters string, params ...float64) (CommandLine, error) {
	parts := []string{letters}
	for _, p := range params {
		parts = append(parts, strconv.FormatFloat(p, 'f', -1, 64))
	}
	line := strings.Join(parts, " ")
	if err := ValidateCommand(line); err != nil {
		return "", err
	}
	return CommandLine(line), nil
}

const maxParams = 6

var (
	commandHead   = regexp.MustCompile(`^[A-Za-z]{1,2}`)
	commandNumber = regexp.MustCompile(`^ ?[-+]?(\d{1,4}(\.\d{0,8})?|\.\d{1,8})`)
)

// ValidateCommand checks line against the general command shape: one or two
// letters, an optional space, then up to six signed decimals with at most four
// integer and eight fractional digits, optionally space separated.
func ValidateCommand(line string) error {
	head := commandHead.FindString(line)
	if head == "" {
		return fmt.Errorf("%w: %q: no command letters", ErrMalformedCommand, line)
	}
	rest := line[len(head):]
	for n := 0; rest != ""; n++ {
		if n == maxParams {
			return fmt.Errorf("%w: %q: more than %d parameters", ErrMalformedCommand, line, maxParams)
		}
		num := commandNumber.FindString(rest)
		if num == "" {
			return fmt.Errorf("%w: %q: bad parameter at %q", ErrMalformedCommand, line, rest)
		}
		rest = rest[len(num):]
		if rest != "" && rest[0] >= '0' && rest[0] <= '9' {
			return fmt.Errorf("%w: %q: parameter %q has too many digits", ErrMalformedCommand, line, num)
		}
	}
	return nil
}

// Calibration is the pair of offsets the device reports after a calibration
// run.
type Calibration struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// String formats the profile so that ParseCalibration reads it back exactly.
func (c Calibration) String() string {
	return strconv.FormatFloat(c.A, 'f', -1, 64) + " " + strconv.FormatFloat(c.B, 'f', -1, 64)
}

var calibrationRE = regexp.MustCompile(`^\s*([-+]?\d{1,4}(?:\.\d{0,8})?)\s+([-+]?\d{1,4}(?:\.\d{0,8})?)\s*$`)

// ParseCalibration parses a profile of the form "nnn nnn".
func ParseCalibration(values string) (Calibration, error) {
	m := calibrationRE.FindStringSubmatch(values)
	if m == nil {
		return Calibration{}, fmt.Errorf("calibration %q: want two numbers", values)
	}
	a, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Calibration{}, err
	}
	b, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Calibration{}, err
	}
	return Calibration{A: a, B: b}, nil
}
