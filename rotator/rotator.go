package rotator

import "context"

// Rotator is the pointing API used by the daemons and by the scheduler.
type Rotator interface {
	Goto(ctx context.Context, coord Coordinate, track bool) error
	Home(ctx context.Context) error
	Stow(ctx context.Context) error
	Panic(ctx context.Context) error
	Track(ctx context.Context) error
	StopTrack()
}

// Direction is a continuous manual drive direction.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return "unknown"
}

// Driver is implemented by rotators that accept manual moves.
type Driver interface {
	Drive(ctx context.Context, dir Direction) error
	Nudge(ctx context.Context, dAz, dAlt float64) error
}

// Status is the position report common to all rotators.
type Status interface {
	AzimuthPosition() float64
	ElevationPosition() float64
}
