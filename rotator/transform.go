package rotator

import (
	"errors"
	"fmt"
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// ErrUnresolvable is returned when a coordinate cannot be placed on the sky.
var ErrUnresolvable = errors.New("unresolvable coordinate")

// Site is an observatory location. Latitude and Longitude are in degrees
// (east positive), Height in metres.
type Site struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Height    float64 `json:"height"`
}

// AcreRoad is the default site when none is configured.
var AcreRoad = Site{Latitude: 55.9024278, Longitude: -4.307582, Height: 61}

// Coordinate is anything that can be converted to the horizontal frame for a
// given instant and site.
type Coordinate interface {
	Horizontal(t time.Time, site Site) (Horizontal, error)
}

// Horizontal is an azimuth/altitude direction in degrees. Azimuth is
// measured from north through east.
type Horizontal struct {
	Azimuth  float64 `json:"azimuth"`
	Altitude float64 `json:"altitude"`
}

func (h Horizontal) Horizontal(time.Time, Site) (Horizontal, error) {
	if !finite(h.Azimuth) || !finite(h.Altitude) || math.Abs(h.Altitude) > 90 {
		return Horizontal{}, fmt.Errorf("%w: az %v alt %v", ErrUnresolvable, h.Azimuth, h.Altitude)
	}
	return h, nil
}

func (h Horizontal) String() string {
	return fmt.Sprintf("az %.2f alt %.2f", h.Azimuth, h.Altitude)
}

// Equatorial is a right ascension/declination pair in degrees.
type Equatorial struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

func (e Equatorial) Horizontal(t time.Time, site Site) (Horizontal, error) {
	if !finite(e.RA) || !finite(e.Dec) || math.Abs(e.Dec) > 90 {
		return Horizontal{}, fmt.Errorf("%w: ra %v dec %v", ErrUnresolvable, e.RA, e.Dec)
	}
	ha := localSiderealTime(t, site) - deg2rad(e.RA)
	az, alt := equhor_rad(ha, deg2rad(e.Dec), deg2rad(site.Latitude))
	return Horizontal{Azimuth: rad2deg(az), Altitude: rad2deg(alt)}, nil
}

// Galactic is a galactic longitude/latitude pair in degrees.
type Galactic struct {
	L float64 `json:"l"`
	B float64 `json:"b"`
}

// J2000 orientation of the galactic frame.
const (
	ngpRA  = 192.85948
	ngpDec = 27.12825
	ncpL   = 122.93192
)

func (g Galactic) Equatorial() Equatorial {
	b, dl := deg2rad(g.B), deg2rad(ncpL-g.L)
	sd, cd := math.Sin(deg2rad(ngpDec)), math.Cos(deg2rad(ngpDec))
	dec := math.Asin(sd*math.Sin(b) + cd*math.Cos(b)*math.Cos(dl))
	ra := deg2rad(ngpRA) + math.Atan2(math.Cos(b)*math.Sin(dl), cd*math.Sin(b)-sd*math.Cos(b)*math.Cos(dl))
	return Equatorial{RA: math.Mod(rad2deg(ra)+360, 360), Dec: rad2deg(dec)}
}

func (g Galactic) Horizontal(t time.Time, site Site) (Horizontal, error) {
	if !finite(g.L) || !finite(g.B) || math.Abs(g.B) > 90 {
		return Horizontal{}, fmt.Errorf("%w: l %v b %v", ErrUnresolvable, g.L, g.B)
	}
	return g.Equatorial().Horizontal(t, site)
}

// localSiderealTime returns the local mean sidereal time in radians.
func localSiderealTime(t time.Time, site Site) float64 {
	t = t.UTC()
	jd := satellite.JDay(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	return satellite.ThetaG_JD(jd) + deg2rad(site.Longitude)
}

// equhor converts between azimuth/altitude and hour-angle/declination.
// Phi is the observer's latitude
// Arguments are in radians
// Algorithm from https://metacpan.org/dist/Astro-Montenbruck/source/lib/Astro/Montenbruck/CoCo.pm
func equhor_rad(x, y, phi float64) (float64, float64) {
	sx, sy, sphi := math.Sin(x), math.Sin(y), math.Sin(phi)
	cx, cy, cphi := math.Cos(x), math.Cos(y), math.Cos(phi)

	sq := (sy * sphi) + (cy * cphi * cx)
	q := math.Asin(clamp(sq))

	d := cphi * math.Cos(q)
	if math.Abs(d) < 1e-12 {
		// At the zenith or a pole azimuth is undefined.
		return 0, q
	}
	p := math.Acos(clamp((sy - (sphi * sq)) / d))
	if sx > 0 {
		p = 2*math.Pi - p
	}
	return p, q
}

// Separation returns the great-circle angle between two directions in degrees.
func Separation(a, b Horizontal) float64 {
	p1, p2 := deg2rad(a.Altitude), deg2rad(b.Altitude)
	dl := deg2rad(b.Azimuth - a.Azimuth)
	num := math.Hypot(math.Cos(p2)*math.Sin(dl), math.Cos(p1)*math.Sin(p2)-math.Sin(p1)*math.Cos(p2)*math.Cos(dl))
	den := math.Sin(p1)*math.Sin(p2) + math.Cos(p1)*math.Cos(p2)*math.Cos(dl)
	return rad2deg(math.Atan2(num, den))
}

func clamp(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}
