package influx

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-csms/internal/domain"
	"github.com/seu-repo/ocpp-csms/internal/ports"
)

const measurement = "charging_session"

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// EnergySink writes completed sessions as charging_session points.
type EnergySink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      *zap.Logger
}

func NewEnergySink(cfg Config, log *zap.Logger) *EnergySink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &EnergySink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      log,
	}
}

// NewEnergySinkWithFallback returns a NopSink when InfluxDB does not pass
// its health check.
func NewEnergySinkWithFallback(cfg Config, log *zap.Logger) ports.EnergySink {
	if cfg.URL == "" {
		return NopSink{}
	}

	sink := NewEnergySink(cfg, log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			log.Warn("InfluxDB health check failed, energy sink disabled", zap.Error(err))
		} else {
			log.Warn("InfluxDB unhealthy, energy sink disabled", zap.String("status", string(health.Status)))
		}
		sink.client.Close()
		return NopSink{}
	}

	log.Info("InfluxDB energy sink enabled", zap.String("url", cfg.URL), zap.String("bucket", cfg.Bucket))
	return sink
}

func (s *EnergySink) WriteSession(ctx context.Context, record *domain.TransactionRecord) error {
	ts := record.Timestamp
	if record.EndedAt != nil {
		ts = *record.EndedAt
	}

	p := write.NewPointWithMeasurement(measurement).
		AddTag("charger_id", record.ChargerID).
		AddTag("transaction_id", record.TransactionID).
		AddField("energy_kwh", round3(record.EnergyDeliveredKWh)).
		AddField("total_cost", round3(record.TotalCost)).
		SetTime(ts)
	if !record.StartedAt.IsZero() {
		p.AddField("duration_s", ts.Sub(record.StartedAt).Seconds())
	}
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *EnergySink) Close() {
	s.client.Close()
}

// NopSink discards every session.
type NopSink struct{}

func (NopSink) WriteSession(context.Context, *domain.TransactionRecord) error { return nil }

func (NopSink) Close() {}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
