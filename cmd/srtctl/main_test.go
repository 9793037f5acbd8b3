package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/qpdrive/qp"
	"github.com/w1xm/qpdrive/transport"
)

// execute runs srtctl against a simulated link and returns what was sent
// and printed.
func execute(t *testing.T, args ...string) ([]string, string, error) {
	t.Helper()
	st := transport.NewSimulated()
	old := connect
	connect = func(ctx context.Context, cfg qp.Config) (*qp.Controller, error) {
		return qp.New(ctx, cfg, st), nil
	}
	t.Cleanup(func() { connect = old })

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--simulate"}, args...))
	err := cmd.Execute()
	return st.Sent(), out.String(), err
}

func TestCommands(t *testing.T) {
	for _, test := range []struct {
		args []string
		want []string
	}{
		{[]string{"home"}, []string{"gH"}},
		{[]string{"stow"}, []string{"X"}},
		{[]string{"panic"}, []string{"x"}},
		{[]string{"park", "snow"}, []string{"gH"}},
		{[]string{"park", "wind"}, []string{"X"}},
		{[]string{"goto", "30", "20"}, []string{"gh 0.52 0.35"}},
		{[]string{"calibrate", "450", "650"}, []string{"c 450.000 650.000"}},
		{[]string{"raw", "ta", "0.5"}, []string{"ta 0.5"}},
	} {
		sent, _, err := execute(t, test.args...)
		if err != nil {
			t.Errorf("%v: %v", test.args, err)
			continue
		}
		if diff := cmp.Diff(sent, test.want); diff != "" {
			t.Errorf("%v: unexpected commands: got(-)/want(+):\n%s", test.args, diff)
		}
	}
}

func TestRejectedArguments(t *testing.T) {
	for _, args := range [][]string{
		{"park", "rain"},
		{"goto", "30"},
		{"goto", "north", "20"},
		{"goto", "--frame", "ecliptic", "30", "20"},
		{"goto", "30", "95"},
		{"raw", "ta", "fast"},
		{"raw", "q", "1", "2", "3", "4", "5", "6", "7"},
	} {
		sent, _, err := execute(t, args...)
		require.Error(t, err, "%v", args)
		require.Empty(t, sent, "%v", args)
	}
}

func TestPrintsStatus(t *testing.T) {
	_, out, err := execute(t, "goto", "--frame", "equatorial", "83.633", "22.0145")
	require.NoError(t, err)

	var status qp.Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.NotNil(t, status.Target)
	require.Equal(t, qp.OriginGoto, status.Target.Origin)
	require.True(t, status.Slewing)
}

func TestCalibrateSimulatedRun(t *testing.T) {
	sent, out, err := execute(t, "calibrate")
	require.NoError(t, err)
	require.Empty(t, sent)
	require.Contains(t, out, "0 0\n")
}

// executeLive runs srtctl against a non-simulated controller. report is
// injected as a device line once a calibration starts.
func executeLive(t *testing.T, report string, args ...string) ([]string, string, error) {
	t.Helper()
	t.Setenv("QP_SIMULATE", "false")
	st := transport.NewSimulated()
	old := connect
	connect = func(ctx context.Context, _ qp.Config) (*qp.Controller, error) {
		c := qp.New(ctx, qp.Config{}, st)
		go func() {
			if c.WaitFor(ctx, func(s qp.Status) bool { return s.Calibrating }) == nil {
				c.Inject(report)
			}
		}()
		return c, nil
	}
	t.Cleanup(func() { connect = old })

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return st.Sent(), out.String(), err
}

func TestCalibrateWaitPrintsMeasuredProfile(t *testing.T) {
	sent, out, err := executeLive(t, ">c 12.5 34", "--wait", "--timeout", "5s", "calibrate")
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, sent)
	require.True(t, strings.HasPrefix(out, "12.5 34\n"), out)
}
