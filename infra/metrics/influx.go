package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/metrics"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/logger"
)

// InfluxSink writes dispatch activity to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClientWithOptions(url, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordDispatch writes the delivery event as a point.
func (s *InfluxSink) RecordDispatch(e coremetrics.DispatchEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("delivery_event").
		AddTag("kind", e.Kind).
		AddTag("status", e.Status).
		AddTag("unit_id", e.UnitID).
		AddTag("component", "dispatch").
		AddField("delivery_id", strconv.FormatInt(e.DeliveryID, 10)).
		SetTime(e.At)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.log.Errorf("write delivery event: %v", err)
	}
}

// RecordTelemetry writes the unit position as a point.
func (s *InfluxSink) RecordTelemetry(t coremetrics.TelemetryPoint) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("unit_telemetry").
		AddTag("unit_id", t.UnitID).
		AddField("lat", t.Position.Lat).
		AddField("lon", t.Position.Lon).
		SetTime(t.At)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.log.Errorf("write telemetry point: %v", err)
	}
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
