// Package telemetry exports confirmed unit state to InfluxDB
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/dzungpv/mitsubishi2MQTT/internal/config"
	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
	"github.com/dzungpv/mitsubishi2MQTT/internal/state"
)

const (
	// Measurement is the measurement every snapshot is written to
	Measurement = "hvac_state"

	connectTimeout = 10 * time.Second
	batchSize      = 20
	flushMillis    = 10000
)

// ErrDisabled is returned by Connect when no InfluxDB URL is configured
var ErrDisabled = errors.New("telemetry: influxdb disabled")

// PointWriter is the non-blocking part of the influx write API
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Exporter writes one point per interval from the tick loop
type Exporter struct {
	writer   PointWriter
	device   string
	interval time.Duration
	last     time.Time
	close    func()
}

// NewExporter wraps an existing writer. device tags every point.
func NewExporter(w PointWriter, device string, interval time.Duration) *Exporter {
	return &Exporter{writer: w, device: device, interval: interval, close: func() {}}
}

// Connect creates an exporter backed by a real InfluxDB server
func Connect(cfg config.Influx, device string, log *logger.Logger) (*Exporter, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushMillis))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, errors.New("influxdb ping: server not healthy")
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warnw("InfluxDB write failed", "error", err)
		}
	}()

	e := NewExporter(writeAPI, device, cfg.Interval)
	e.close = client.Close
	return e, nil
}

// Observe writes snap when the interval has elapsed since the last point.
// Nothing is written while the unit link is down.
func (e *Exporter) Observe(now time.Time, snap state.Snapshot) bool {
	if !snap.LinkConnected {
		return false
	}
	if !e.last.IsZero() && now.Sub(e.last) < e.interval {
		return false
	}
	e.last = now
	e.writer.WritePoint(SnapshotPoint(e.device, snap, now))
	return true
}

// Close flushes pending points and releases the client
func (e *Exporter) Close() {
	e.writer.Flush()
	e.close()
}

// SnapshotPoint converts the confirmed part of a snapshot to a point
func SnapshotPoint(device string, snap state.Snapshot, ts time.Time) *write.Point {
	room := snap.Status.RoomTemperature
	if snap.Remote.Active {
		room = snap.Remote.Value
	}
	return write.NewPoint(
		Measurement,
		map[string]string{
			"device": device,
			"mode":   snap.Mode(),
			"action": snap.Action(),
		},
		map[string]interface{}{
			"room_temperature":   room,
			"target_temperature": snap.Confirmed.Temperature,
			"compressor_freq":    snap.Status.CompressorFrequency,
			"operating":          snap.Status.Operating,
			"power":              snap.Confirmed.IsOn(),
			"fan":                snap.Confirmed.Fan,
			"link_retries":       int64(snap.LinkRetries),
		},
		ts,
	)
}
