package qp

import (
	"log"
	"time"

	"github.com/w1xm/qpdrive/internal/observability"
	"github.com/w1xm/qpdrive/rotator"
)

// Config is the controller's already-parsed configuration.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration

	// Site defaults to rotator.AcreRoad.
	Site *rotator.Site
	// Offsets sent to the device with the site.
	LatitudeOffset  float64
	LongitudeOffset float64
	// Home direction, in degrees.
	HomeAzimuth  float64
	HomeAltitude float64
	// Span is the device's usable azimuth span in degrees. Zero leaves the
	// device default.
	Span float64

	// Calibration is a "nnn nnn" profile applied at startup. Empty runs a
	// calibration.
	Calibration string

	// Simulate replaces the serial link with a transport that performs no I/O.
	Simulate bool

	// TrackInterval defaults to one minute.
	TrackInterval time.Duration
	// SlewTolerance is in degrees and defaults to 1.
	SlewTolerance float64
	// StatusCadence is sent at startup when non-zero.
	StatusCadence int

	Logger         *log.Logger
	Metrics        *observability.DriveCollector
	StatusCallback StatusCallback
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}
	if c.Site == nil {
		site := rotator.AcreRoad
		c.Site = &site
	}
	if c.TrackInterval == 0 {
		c.TrackInterval = time.Minute
	}
	if c.SlewTolerance == 0 {
		c.SlewTolerance = 1
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

func (c Config) home() rotator.Horizontal {
	return rotator.Horizontal{Azimuth: c.HomeAzimuth, Altitude: c.HomeAltitude}
}

// stowPosition is just short of the zenith.
var stowPosition = rotator.Horizontal{Azimuth: 0, Altitude: 89}
