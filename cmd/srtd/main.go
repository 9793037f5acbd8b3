// Command srtd runs a qp mount and serves its status over HTTP, a
// websocket and the rotctld protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/w1xm/qpdrive/internal/config"
	"github.com/w1xm/qpdrive/internal/observability"
	"github.com/w1xm/qpdrive/qp"
	"github.com/w1xm/qpdrive/qp/simulator"
	"github.com/w1xm/qpdrive/rotator"
	"github.com/w1xm/qpdrive/transport"
	"golang.org/x/sync/errgroup"
)

var (
	addr           = flag.String("addr", config.Env("SRTD_ADDR", "127.0.0.1:8502"), "address to listen on")
	rotctldAddr    = flag.String("rotctld_addr", config.Env("SRTD_ROTCTLD_ADDR", "127.0.0.1:4533"), "address to listen on for rotctld connections")
	staticDir      = flag.String("static_dir", "static", "directory containing static files")
	password       = flag.String("password", config.Env("SRTD_PASSWORD", ""), "password to require on remote connections")
	simulateDevice = flag.Bool("simulate_device", false, "talk to an in-process mount simulator instead of a serial device")
)

func connect(ctx context.Context, cfg qp.Config) (*qp.Controller, error) {
	if !*simulateDevice {
		return qp.Connect(ctx, cfg)
	}
	sim, conn := simulator.New(rotator.Horizontal{Azimuth: cfg.HomeAzimuth, Altitude: cfg.HomeAltitude})
	go func() {
		if err := sim.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("simulator: %v", err)
		}
	}()
	return qp.New(ctx, cfg, transport.New(conn, cfg.ReadTimeout)), nil
}

func main() {
	drive := config.Load()
	drive.RegisterFlags(flag.CommandLine)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, err := observability.NewDriveCollector(nil)
	if err != nil {
		log.Fatal(err)
	}

	s := NewServer()
	cfg := drive.QP()
	cfg.Metrics = metrics
	cfg.StatusCallback = s.statusCallback
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	d, err := connect(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer d.Close()
	s.d = d

	go func() {
		if err := d.Start(ctx); err != nil {
			log.Printf("startup: %v", err)
			return
		}
		log.Print("mount ready")
	}()

	if err := s.ListenRotctld(ctx, *rotctldAddr); err != nil {
		log.Fatal(err)
	}

	r := s.Router(metrics.Handler(), *staticDir)
	srv := &http.Server{
		Handler:           requirePassword(*password, r),
		Addr:              *addr,
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Listening on %v", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Print(err)
	}
}
