package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/infra/logger"
)

// InfluxSink writes market events to an InfluxDB instance using the official
// client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// if the health check fails, so a down database never blocks market ticks.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
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

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordStateTransition writes the transition as a line protocol event.
func (s *InfluxSink) RecordStateTransition(ev coremetrics.StateTransitionEvent) error {
	p := write.NewPointWithMeasurement("market_transition").
		AddTag("market", ev.Market).
		AddTag("series", ev.Series).
		AddTag("to", ev.To).
		AddField("from", ev.From).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordPriceCleared writes the cleared price keyed by market and interval.
func (s *InfluxSink) RecordPriceCleared(ev coremetrics.PriceClearedEvent) error {
	p := write.NewPointWithMeasurement("cleared_price").
		AddTag("market", ev.Market).
		AddTag("series", ev.Series).
		AddTag("interval", ev.Interval).
		AddField("price", ev.Price).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordSignalRetry writes one retry tick.
func (s *InfluxSink) RecordSignalRetry(ev coremetrics.SignalRetryEvent) error {
	p := write.NewPointWithMeasurement("signal_retry").
		AddTag("market", ev.Market).
		AddTag("neighbor", ev.Neighbor).
		AddField("missing_intervals", strconv.Itoa(ev.Missing)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordPowerScheduled writes one participant's settled power.
func (s *InfluxSink) RecordPowerScheduled(ev coremetrics.PowerScheduledEvent) error {
	p := write.NewPointWithMeasurement("scheduled_power").
		AddTag("market", ev.Market).
		AddTag("participant", ev.Participant).
		AddTag("interval", ev.Interval).
		AddField("power_kw", ev.Power).
		SetTime(ev.Time)
	return s.write(p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
