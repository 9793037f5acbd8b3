// Package observability exposes the drive controller's Prometheus metrics.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DriveCollector bundles the controller's metrics. A nil *DriveCollector is
// valid and records nothing.
type DriveCollector struct {
	gatherer prometheus.Gatherer

	Commands      *prometheus.CounterVec
	CommandErrors *prometheus.CounterVec
	StatusLines   *prometheus.CounterVec
	Position      *prometheus.GaugeVec
	InFlight      *prometheus.GaugeVec
}

// NewDriveCollector registers the metrics against reg, defaulting to the
// global registry when nil.
func NewDriveCollector(reg prometheus.Registerer) (*DriveCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qp_commands_total",
		Help: "Commands written to the mount, labeled by operation.",
	}, []string{"op"}), "qp_commands_total")
	if err != nil {
		return nil, err
	}
	commandErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qp_command_errors_total",
		Help: "Commands that were rejected or failed to send, labeled by kind.",
	}, []string{"kind"}), "qp_command_errors_total")
	if err != nil {
		return nil, err
	}
	statusLines, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qp_status_lines_total",
		Help: "Status lines received from the mount, labeled by decoded kind.",
	}, []string{"kind"}), "qp_status_lines_total")
	if err != nil {
		return nil, err
	}
	position, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qp_position_degrees",
		Help: "Last reported mount position.",
	}, []string{"axis"}), "qp_position_degrees")
	if err != nil {
		return nil, err
	}
	inFlight, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qp_operation_in_flight",
		Help: "1 while the named operation is in progress.",
	}, []string{"operation"}), "qp_operation_in_flight")
	if err != nil {
		return nil, err
	}

	return &DriveCollector{
		gatherer:      gatherer,
		Commands:      commands,
		CommandErrors: commandErrors,
		StatusLines:   statusLines,
		Position:      position,
		InFlight:      inFlight,
	}, nil
}

func (c *DriveCollector) IncCommand(op string) {
	if c == nil || c.Commands == nil {
		return
	}
	c.Commands.WithLabelValues(op).Inc()
}

func (c *DriveCollector) IncCommandError(kind string) {
	if c == nil || c.CommandErrors == nil {
		return
	}
	c.CommandErrors.WithLabelValues(kind).Inc()
}

func (c *DriveCollector) IncStatusLine(kind string) {
	if c == nil || c.StatusLines == nil {
		return
	}
	c.StatusLines.WithLabelValues(kind).Inc()
}

func (c *DriveCollector) SetPosition(az, alt float64) {
	if c == nil || c.Position == nil {
		return
	}
	c.Position.WithLabelValues("azimuth").Set(az)
	c.Position.WithLabelValues("altitude").Set(alt)
}

// SetInFlight records which operations are running.
func (c *DriveCollector) SetInFlight(homing, slewing, calibrating, tracking bool) {
	if c == nil || c.InFlight == nil {
		return
	}
	for op, on := range map[string]bool{
		"homing":      homing,
		"slewing":     slewing,
		"calibrating": calibrating,
		"tracking":    tracking,
	} {
		v := 0.0
		if on {
			v = 1
		}
		c.InFlight.WithLabelValues(op).Set(v)
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *DriveCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
