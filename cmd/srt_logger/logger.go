// Command srt_logger records every status pushed by srtd into InfluxDB.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/joho/godotenv"

	"github.com/w1xm/qpdrive/internal/config"
)

const measurement = "srt.status"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Create client
	client := influxdb2.NewClient(config.Env("INFLUX_SERVER", "http://localhost:9999"), os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	// Get non-blocking write client
	writeApi := client.WriteApi(config.Env("INFLUX_ORG", "w1xm"), config.Env("INFLUX_BUCKET", "srt.raw"))
	// Get errors channel
	errorsCh := writeApi.Errors()
	// Create go proc for reading and logging errors
	go func() {
		for err := range errorsCh {
			log.Printf("write error: %v", err)
		}
	}()

	url := config.Env("SRTD_ADDRESS", "ws://localhost:8502/api/ws")
	record := func(fields map[string]interface{}, ts time.Time) {
		// write asynchronously
		writeApi.WritePoint(influxdb2.NewPoint(measurement, nil, fields, ts))
	}
	for ctx.Err() == nil {
		if err := logData(ctx, url, record); err != nil && ctx.Err() == nil {
			log.Print(err)
		}
		writeApi.Flush()
		select {
		case <-ctx.Done():
		case <-time.After(1 * time.Second):
		}
	}
}

func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	case nil:
	default:
		fields[prefix[1:]] = status
	}
}

// logData streams statuses from the srtd socket at url into record until the
// connection fails or ctx is done.
func logData(ctx context.Context, url string, record func(map[string]interface{}, time.Time)) error {
	var dialer websocket.Dialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		fields := make(map[string]interface{})
		flattenStatus(fields, status, "")
		if len(fields) == 0 {
			continue
		}
		record(fields, time.Now())
	}
}
