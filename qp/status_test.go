package qp

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/w1xm/qpdrive/rotator"
)

func TestParseStatus(t *testing.T) {
	for _, test := range []struct {
		line string
		want StatusEvent
	}{
		{"s 0,1.5708,0.0", PositionUpdate{Azimuth: 90.0002, Altitude: 0}},
		{"s 12,-1.5708,0.7854\r\n", PositionUpdate{Azimuth: 269.9998, Altitude: 45.0001}},
		{"s 1,1.5e0,2e-1", PositionUpdate{Azimuth: 85.9437, Altitude: 11.4592}},
		{"s 1,3.0e-0.5,0", PositionUpdate{Azimuth: 54.3555, Altitude: 0}},
		{"s 1,7.0,-0.5", PositionUpdate{Azimuth: 41.0705, Altitude: 61.3521}},
		{">S az=1.5708 alt=0.7854 mode=track", StatusBlock{
			Fields: map[string]string{"az": "1.5708", "alt": "0.7854", "mode": "track"},
			Target: &rotator.Horizontal{Azimuth: 90.0002, Altitude: 45.0001},
		}},
		{">S mode=idle junk", StatusBlock{Fields: map[string]string{"mode": "idle"}}},
		{">c 450 650", CalibrationComplete{Profile: "450 650", Calibration: Calibration{A: 450, B: 650}, Valid: true}},
		{">c garbage", CalibrationComplete{Profile: "garbage"}},
		{">g A", Acknowledged{Kind: AckArrived, Text: ">g A"}},
		{">g E az", Acknowledged{Kind: AckEndstop, Text: ">g E az"}},
		{">ok", Acknowledged{Kind: AckOther, Text: ">ok"}},
		{"az,1200,3.14159265", AxisUpdate{Axis: AxisAzimuth, Ticks: 1200, Angle: 180}},
		{"al,-40,-0.1", AxisUpdate{Axis: AxisAltitude, Ticks: -40, Angle: 84.2704}},
		{"!limit switch", ErrorReported{Text: "limit switch"}},
		{"# booted", Informational{Text: "booted"}},
		{"", Unrecognized{Line: "", Reason: "empty line"}},
		{"  ", Unrecognized{Line: "  ", Reason: "empty line"}},
		{"zzz", Unrecognized{Line: "zzz", Reason: "unknown marker"}},
		{"a", Unrecognized{Line: "a", Reason: "unknown marker"}},
		{"s 1,2", Unrecognized{Line: "s 1,2", Reason: "truncated telemetry"}},
		{"az,1", Unrecognized{Line: "az,1", Reason: "truncated axis report"}},
	} {
		t.Run(test.line, func(t *testing.T) {
			got := ParseStatus(test.line)
			if diff := cmp.Diff(got, test.want, cmpopts.EquateApprox(0, 1e-4)); diff != "" {
				t.Errorf("unexpected event: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestParseStatusBadNumbers(t *testing.T) {
	for _, line := range []string{
		"s 1,x,2",
		"s 1,2,",
		"s 1,1e400,0",
		"s 1,nan,0",
		"s 1,1e,0",
		"az,1,e5",
		"al,q,1",
	} {
		if ev, ok := ParseStatus(line).(Unrecognized); !ok {
			t.Errorf("ParseStatus(%q) = %#v, want Unrecognized", line, ev)
		}
	}
}

func TestParseNumber(t *testing.T) {
	for _, test := range []struct {
		in   string
		want float64
	}{
		{"1.5e2", 150},
		{"1.5E2", 150},
		{"2e0.5", 6.324555},
		{"-3", -3},
		{" 4 ", 4},
		{"-1e-1", -0.1},
		{"+.5", 0.5},
	} {
		got, err := ParseNumber(test.in)
		if err != nil {
			t.Errorf("ParseNumber(%q): %v", test.in, err)
			continue
		}
		if math.Abs(got-test.want) > 1e-6 {
			t.Errorf("ParseNumber(%q) = %v, want %v", test.in, got, test.want)
		}
	}
	for _, in := range []string{"", "e5", "1e", "abc", "1e999", "inf", "NaN", "1e2e3"} {
		if got, err := ParseNumber(in); err == nil {
			t.Errorf("ParseNumber(%q) = %v, want error", in, got)
		}
	}
}

func TestNormalize(t *testing.T) {
	for _, test := range []struct {
		in, az, alt float64
	}{
		{0, 0, 0},
		{45, 45, 45},
		{90, 90, 0},
		{-8.5, 351.5, 81.5},
		{360, 0, 0},
		{-90, 270, 0},
		{720.5, 0.5, 0.5},
		{-1e-15, 0, 0},
	} {
		if got := NormalizeAzimuth(test.in); math.Abs(got-test.az) > 1e-9 {
			t.Errorf("NormalizeAzimuth(%v) = %v, want %v", test.in, got, test.az)
		}
		if got := NormalizeAltitude(test.in); math.Abs(got-test.alt) > 1e-9 {
			t.Errorf("NormalizeAltitude(%v) = %v, want %v", test.in, got, test.alt)
		}
	}
}

func TestTelemetryAlwaysNormalized(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		az := (rng.Float64() - 0.5) * 40
		alt := (rng.Float64() - 0.5) * 40
		var line string
		if i%2 == 0 {
			line = fmt.Sprintf("s %d,%g,%g", i, az, alt)
		} else {
			// Mantissa and exponent form.
			line = fmt.Sprintf("s %d,%.4fe%.2f,%.4fe0", i, az/10, 1.0, alt)
		}
		pos, ok := ParseStatus(line).(PositionUpdate)
		if !ok {
			t.Fatalf("ParseStatus(%q) = %#v, want PositionUpdate", line, ParseStatus(line))
		}
		if pos.Azimuth < 0 || pos.Azimuth >= 360 || pos.Altitude < 0 || pos.Altitude >= 90 {
			t.Errorf("ParseStatus(%q) = %+v, out of range", line, pos)
		}
	}
}
