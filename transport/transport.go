// Package transport moves newline-terminated ASCII lines over a serial link.
// It knows nothing about what the lines mean.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// ErrOpen is returned when neither the requested device nor a rediscovered one
// could be opened.
var ErrOpen = errors.New("opening serial port")

type Config struct {
	Device string
	// Baud defaults to 19200.
	Baud int
	// ReadTimeout bounds a single ReadLine call. Zero blocks forever.
	ReadTimeout time.Duration
	// Patterns are globbed when Device cannot be opened. Defaults to
	// DefaultPatterns for the running platform.
	Patterns []string
}

// DefaultPatterns returns the usual USB serial device names for the platform.
func DefaultPatterns() []string {
	switch runtime.GOOS {
	case "linux":
		return []string{"/dev/ttyACM*", "/dev/ttyUSB*"}
	case "darwin":
		return []string{"/dev/tty.usbmodem*", "/dev/tty.usbserial*"}
	}
	return nil
}

// Seams for tests.
var (
	openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
		return serial.OpenPort(c)
	}
	glob = filepath.Glob
)

// Port is a line-oriented view of a byte stream.
type Port struct {
	name string
	rwc  io.ReadWriteCloser
	r    *bufio.Reader

	readTimeout time.Duration
	// eofIsTimeout is set for serial ports, where a read that times out
	// returns io.EOF.
	eofIsTimeout bool
	pending      []byte
}

// Open opens cfg.Device. If that fails, it enumerates device paths matching
// cfg.Patterns and retries once against the first one.
func Open(cfg Config) (*Port, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 19200
	}
	p, err := open(cfg.Device, cfg)
	if err == nil {
		return p, nil
	}
	log.Printf("opening %q: %v", cfg.Device, err)

	patterns := cfg.Patterns
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	candidate := discover(patterns, cfg.Device)
	if candidate == "" {
		return nil, fmt.Errorf("%w %q: %w", ErrOpen, cfg.Device, err)
	}
	p, rerr := open(candidate, cfg)
	if rerr != nil {
		return nil, fmt.Errorf("%w %q (rediscovered as %q): %w", ErrOpen, cfg.Device, candidate, rerr)
	}
	return p, nil
}

func open(name string, cfg Config) (*Port, error) {
	if name == "" {
		return nil, errors.New("no device")
	}
	rwc, err := openPort(&serial.Config{Name: name, Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout})
	if err != nil {
		return nil, err
	}
	log.Printf("opened %q", name)
	p := New(rwc, cfg.ReadTimeout)
	p.name = name
	p.eofIsTimeout = cfg.ReadTimeout > 0
	return p, nil
}

// discover returns the first path matching patterns, skipping exclude.
func discover(patterns []string, exclude string) string {
	for _, pattern := range patterns {
		matches, err := glob(pattern)
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			if m != exclude {
				return m
			}
		}
	}
	return ""
}

// New wraps an arbitrary stream, such as one end of a net.Pipe.
func New(rwc io.ReadWriteCloser, readTimeout time.Duration) *Port {
	return &Port{
		name:        "stream",
		rwc:         rwc,
		r:           bufio.NewReader(rwc),
		readTimeout: readTimeout,
	}
}

func (p *Port) Name() string {
	return p.name
}

// WriteLine appends the line terminator and performs a single write.
func (p *Port) WriteLine(line string) error {
	_, err := p.rwc.Write([]byte(line + "\n"))
	return err
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// ReadLine blocks until a full line arrives or the read timeout expires. A
// timeout returns an empty line and no error; partial input is kept for the
// next call.
func (p *Port) ReadLine() (string, error) {
	if d, ok := p.rwc.(readDeadliner); ok && p.readTimeout > 0 {
		d.SetReadDeadline(time.Now().Add(p.readTimeout))
	}
	line, err := p.r.ReadString('\n')
	if err != nil {
		if p.timedOut(err) {
			p.pending = append(p.pending, line...)
			return "", nil
		}
		return "", err
	}
	if len(p.pending) > 0 {
		line = string(p.pending) + line
		p.pending = p.pending[:0]
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *Port) timedOut(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	return p.eofIsTimeout && errors.Is(err, io.EOF)
}

func (p *Port) Close() error {
	return p.rwc.Close()
}
