// Package config reads drive settings for the command line tools from the
// environment (and a .env file), and binds them to flags.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/w1xm/qpdrive/qp"
	"github.com/w1xm/qpdrive/rotator"
)

// Drive holds the mount settings shared by srtd and srtctl.
type Drive struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration

	Latitude  float64
	Longitude float64
	Height    float64

	LatitudeOffset  float64
	LongitudeOffset float64
	HomeAzimuth     float64
	HomeAltitude    float64
	Span            float64
	Calibration     string

	Simulate      bool
	TrackInterval time.Duration
	SlewTolerance float64
	StatusCadence int
}

// Load reads .env, if present, and then the environment.
func Load() Drive {
	_ = godotenv.Load()

	return Drive{
		Device:      getEnv("QP_DEVICE", "/dev/ttyACM0"),
		Baud:        getEnvAsInt("QP_BAUD", 19200),
		ReadTimeout: getEnvAsDuration("QP_READ_TIMEOUT", time.Second),

		Latitude:  getEnvAsFloat("SITE_LATITUDE", rotator.AcreRoad.Latitude),
		Longitude: getEnvAsFloat("SITE_LONGITUDE", rotator.AcreRoad.Longitude),
		Height:    getEnvAsFloat("SITE_HEIGHT", rotator.AcreRoad.Height),

		LatitudeOffset:  getEnvAsFloat("QP_LATITUDE_OFFSET", 0),
		LongitudeOffset: getEnvAsFloat("QP_LONGITUDE_OFFSET", 0),
		HomeAzimuth:     getEnvAsFloat("QP_HOME_AZIMUTH", 0),
		HomeAltitude:    getEnvAsFloat("QP_HOME_ALTITUDE", 0),
		Span:            getEnvAsFloat("QP_SPAN", 0),
		Calibration:     getEnv("QP_CALIBRATION", ""),

		Simulate:      getEnvAsBool("QP_SIMULATE", false),
		TrackInterval: getEnvAsDuration("QP_TRACK_INTERVAL", time.Minute),
		SlewTolerance: getEnvAsFloat("QP_SLEW_TOLERANCE", 1),
		StatusCadence: getEnvAsInt("QP_STATUS_CADENCE", 0),
	}
}

// FlagSet is satisfied by both *flag.FlagSet and *pflag.FlagSet.
type FlagSet interface {
	StringVar(p *string, name string, value string, usage string)
	IntVar(p *int, name string, value int, usage string)
	Float64Var(p *float64, name string, value float64, usage string)
	BoolVar(p *bool, name string, value bool, usage string)
	DurationVar(p *time.Duration, name string, value time.Duration, usage string)
}

// RegisterFlags binds d's fields to flags, using the current values as
// defaults.
func (d *Drive) RegisterFlags(fs FlagSet) {
	fs.StringVar(&d.Device, "serial", d.Device, "serial port name")
	fs.IntVar(&d.Baud, "baud", d.Baud, "serial baud rate")
	fs.DurationVar(&d.ReadTimeout, "read_timeout", d.ReadTimeout, "serial read timeout")
	fs.Float64Var(&d.Latitude, "latitude", d.Latitude, "site latitude in degrees")
	fs.Float64Var(&d.Longitude, "longitude", d.Longitude, "site longitude in degrees east")
	fs.Float64Var(&d.Height, "height", d.Height, "site height in metres")
	fs.Float64Var(&d.LatitudeOffset, "latitude_offset", d.LatitudeOffset, "latitude offset sent to the mount")
	fs.Float64Var(&d.LongitudeOffset, "longitude_offset", d.LongitudeOffset, "longitude offset sent to the mount")
	fs.Float64Var(&d.HomeAzimuth, "home_azimuth", d.HomeAzimuth, "home azimuth in degrees")
	fs.Float64Var(&d.HomeAltitude, "home_altitude", d.HomeAltitude, "home altitude in degrees")
	fs.Float64Var(&d.Span, "span", d.Span, "azimuth span in degrees (0 keeps the mount's)")
	fs.StringVar(&d.Calibration, "calibration", d.Calibration, `calibration profile "nnn nnn" (empty runs a calibration)`)
	fs.BoolVar(&d.Simulate, "simulate", d.Simulate, "don't talk to a mount")
	fs.DurationVar(&d.TrackInterval, "track_interval", d.TrackInterval, "interval between tracking corrections")
	fs.Float64Var(&d.SlewTolerance, "slew_tolerance", d.SlewTolerance, "slew success tolerance in degrees")
	fs.IntVar(&d.StatusCadence, "status_cadence", d.StatusCadence, "status reports per second (0 keeps the mount's)")
}

// QP returns the controller configuration.
func (d Drive) QP() qp.Config {
	return qp.Config{
		Device:          d.Device,
		Baud:            d.Baud,
		ReadTimeout:     d.ReadTimeout,
		Site:            &rotator.Site{Latitude: d.Latitude, Longitude: d.Longitude, Height: d.Height},
		LatitudeOffset:  d.LatitudeOffset,
		LongitudeOffset: d.LongitudeOffset,
		HomeAzimuth:     d.HomeAzimuth,
		HomeAltitude:    d.HomeAltitude,
		Span:            d.Span,
		Calibration:     d.Calibration,
		Simulate:        d.Simulate,
		TrackInterval:   d.TrackInterval,
		SlewTolerance:   d.SlewTolerance,
		StatusCadence:   d.StatusCadence,
	}
}

// Env returns the value of key, or fallback when it is unset.
func Env(key, fallback string) string {
	return getEnv(key, fallback)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(name string, defaultValue int) int {
	valueStr := getEnv(name, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(name string, defaultValue float64) float64 {
	valueStr := getEnv(name, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(name string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(name, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	val, _ := strconv.ParseBool(value)
	return val
}
