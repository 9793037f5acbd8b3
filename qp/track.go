package qp

import (
	"context"
	"time"
)

type trackKind int

const (
	trackStart trackKind = iota
	trackStop
	trackTick
)

type trackMsg struct {
	kind trackKind
	done chan struct{}
}

// tracker owns the tracking ticker. All transitions, and every correction,
// happen on its goroutine, so once a stop has been acknowledged no tick is
// running and none is pending.
type tracker struct {
	msgs     chan trackMsg
	ctx      context.Context
	interval time.Duration
	// correct re-points the mount at the current target.
	correct func()
	// running reports transitions of the loop.
	running func(bool)
}

func newTracker(ctx context.Context, interval time.Duration, correct func(), running func(bool)) *tracker {
	return &tracker{
		msgs:     make(chan trackMsg),
		ctx:      ctx,
		interval: interval,
		correct:  correct,
		running:  running,
	}
}

func (t *tracker) run() {
	var ticker *time.Ticker
	var tick <-chan time.Time
	disarm := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer disarm()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-tick:
			t.correct()
		case m := <-t.msgs:
			switch m.kind {
			case trackStart:
				if ticker == nil {
					ticker = time.NewTicker(t.interval)
					tick = ticker.C
				}
				t.running(true)
			case trackStop:
				disarm()
				t.running(false)
			case trackTick:
				if ticker != nil {
					t.correct()
				}
			}
			close(m.done)
		}
	}
}

// send delivers a message and waits for the loop to act on it.
func (t *tracker) send(kind trackKind) {
	done := make(chan struct{})
	select {
	case t.msgs <- trackMsg{kind: kind, done: done}:
	case <-t.ctx.Done():
		return
	}
	select {
	case <-done:
	case <-t.ctx.Done():
	}
}

func (t *tracker) start() { t.send(trackStart) }
func (t *tracker) stop()  { t.send(trackStop) }

// tick runs a correction now, if the loop is armed.
func (t *tracker) tick() { t.send(trackTick) }
