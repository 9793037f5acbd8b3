package transport

import (
	"io"
	"sync"
)

// Simulated performs no I/O. Every write succeeds and is recorded; reads block
// until Close.
type Simulated struct {
	mu     sync.Mutex
	sent   []string
	closed chan struct{}
	once   sync.Once
}

func NewSimulated() *Simulated {
	return &Simulated{closed: make(chan struct{})}
}

func (s *Simulated) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, line)
	return nil
}

func (s *Simulated) ReadLine() (string, error) {
	<-s.closed
	return "", io.EOF
}

func (s *Simulated) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Sent returns every line written so far.
func (s *Simulated) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// Last returns the most recent line written, or "".
func (s *Simulated) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return ""
	}
	return s.sent[len(s.sent)-1]
}

func (s *Simulated) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}
