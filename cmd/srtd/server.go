package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/w1xm/qpdrive/qp"
	"github.com/w1xm/qpdrive/rotator"
)

// Mount is what the daemon drives: a rotator that also takes manual moves
// and calibration.
type Mount interface {
	rotator.Rotator
	rotator.Driver
	Calibrate(ctx context.Context, values string) (qp.Calibration, error)
	Site() rotator.Site
}

type Server struct {
	d Mount

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     qp.Status
	// version counts status updates so socket writers can tell a new one
	// from a spurious wakeup.
	version uint64
}

func NewServer() *Server {
	s := &Server{}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

// Router serves the status API, the command socket, metrics and pprof.
func (s *Server) Router(metrics http.Handler, staticDir string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/ws", s.StatusSocketHandler)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	r.PathPrefix("/debug").Handler(http.DefaultServeMux)
	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}

// requirePassword demands HTTP basic auth with password from non-loopback
// clients. An empty password disables the check.
func requirePassword(password string, next http.Handler) http.Handler {
	if password == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
				next.ServeHTTP(w, r)
				return
			}
		}
		_, pass, ok := r.BasicAuth()
		if !ok || pass != password {
			http.Error(w, "wrong password", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(status)
	if err != nil {
		log.Print(err)
		return
	}
	w.Write(data)
}

type Command struct {
	Command string `json:"command"`
	// Frame is "horizontal" (the default), "equatorial" or "galactic".
	Frame     string  `json:"frame"`
	Azimuth   float64 `json:"azimuth"`
	Altitude  float64 `json:"altitude"`
	RA        float64 `json:"ra"`
	Dec       float64 `json:"dec"`
	L         float64 `json:"l"`
	B         float64 `json:"b"`
	Track     bool    `json:"track"`
	Values    string  `json:"values"`
	Direction string  `json:"direction"`
}

func (c Command) coordinate() (rotator.Coordinate, error) {
	switch c.Frame {
	case "", "horizontal":
		return rotator.Horizontal{Azimuth: c.Azimuth, Altitude: c.Altitude}, nil
	case "equatorial":
		return rotator.Equatorial{RA: c.RA, Dec: c.Dec}, nil
	case "galactic":
		return rotator.Galactic{L: c.L, B: c.B}, nil
	}
	return nil, fmt.Errorf("unknown frame %q", c.Frame)
}

var directions = map[string]rotator.Direction{
	"up":    rotator.Up,
	"down":  rotator.Down,
	"left":  rotator.Left,
	"right": rotator.Right,
}

func (s *Server) run(ctx context.Context, msg Command) error {
	switch msg.Command {
	case "goto":
		coord, err := msg.coordinate()
		if err != nil {
			return err
		}
		return s.d.Goto(ctx, coord, msg.Track)
	case "home":
		return s.d.Home(ctx)
	case "stow":
		return s.d.Stow(ctx)
	case "panic", "stop":
		return s.d.Panic(ctx)
	case "calibrate":
		_, err := s.d.Calibrate(ctx, msg.Values)
		return err
	case "track":
		return s.d.Track(ctx)
	case "stop_track":
		s.d.StopTrack()
		return nil
	case "nudge":
		return s.d.Nudge(ctx, msg.Azimuth, msg.Altitude)
	case "drive":
		dir, ok := directions[msg.Direction]
		if !ok {
			return fmt.Errorf("unknown direction %q", msg.Direction)
		}
		return s.d.Drive(ctx, dir)
	}
	return fmt.Errorf("unknown command %q", msg.Command)
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	go func() {
		defer func() {
			cancel()
			s.statusMu.Lock()
			s.statusCond.Broadcast()
			s.statusMu.Unlock()
		}()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := s.run(ctx, msg); err != nil {
				log.Printf("%s: %v", msg.Command, err)
			}
		}
	}()

	send := func(status qp.Status) error {
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	s.statusMu.RLock()
	status, seen := s.status, s.version
	s.statusMu.RUnlock()
	for {
		if err := send(status); err != nil {
			log.Print(err)
			return
		}
		s.statusMu.RLock()
		for s.version == seen && ctx.Err() == nil {
			s.statusCond.Wait()
		}
		status, seen = s.status, s.version
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) statusCallback(status qp.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.version++
	s.statusCond.Broadcast()
}
