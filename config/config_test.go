package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
node:
  name: campus1
  operations_topic: tn/campus1/ops
clock:
  mode: real
scheduler:
  tick_ms: 500
mqtt:
  broker: tcp://localhost:1883
  client_id: campus1
markets:
  - series: dayahead
    kind: day_ahead
    clearing_interval_s: 3600
    interval_duration_s: 3600
    intervals_to_clear: 1
    activation_lead_s: 3600
    negotiation_lead_s: 3600
    market_lead_s: 3600
    delivery_lead_s: 3600
    default_price: 0.0428
    real_time_series: realtime
    real_time_duration_s: 300
    real_time_lead_s: 300
neighbors:
  - name: utility
    direction: upstream
    transactive: true
    publish_topic: tn/utility/signal
    subscribe_topic: tn/campus1/signal
    default_vertices:
      - price: 0.02
        power: 100
      - price: 0.08
        power: 500
assets:
  - type: load
    name: building
    conf:
      description: office load
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "node.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.Name != "campus1" {
		t.Fatalf("node name = %s, want campus1", cfg.Node.Name)
	}
	if cfg.Scheduler.TickInterval() != 500*time.Millisecond {
		t.Fatalf("tick = %s, want 500ms", cfg.Scheduler.TickInterval())
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].Series != "dayahead" {
		t.Fatalf("markets = %+v", cfg.Markets)
	}
	if len(cfg.Neighbors) != 1 || !cfg.Neighbors[0].Transactive {
		t.Fatalf("neighbors = %+v", cfg.Neighbors)
	}
	nb := cfg.Neighbors[0].ToCore()
	if len(nb.DefaultVertices) != 2 || nb.DefaultVertices[1].Power != 500 {
		t.Fatalf("default vertices = %+v", nb.DefaultVertices)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TN_NODE__NAME", "override1")
	cfg, err := Load(writeConfig(t, "node.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.Name != "override1" {
		t.Fatalf("node name = %s, want env override", cfg.Node.Name)
	}
}

func TestUnsupportedExtension(t *testing.T) {
	if _, err := Load(writeConfig(t, "node.toml", "x = 1")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestValidateRejectsDuplicateNeighbors(t *testing.T) {
	bad := sampleYAML + `
  - name: utility
    direction: downstream
`
	if _, err := Load(writeConfig(t, "node.yaml", bad)); err == nil {
		t.Fatal("expected error for duplicate neighbor name")
	}
}

func TestValidateRejectsBadMarket(t *testing.T) {
	cfg := &Config{
		Node:    NodeConfig{Name: "n"},
		Markets: []MarketConfig{{Series: "dayahead", ClearingIntervalS: 3600}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for market without interval duration")
	}
}

func TestMarketToCoreAlignsFirstClearing(t *testing.T) {
	mc := MarketConfig{
		Series:            "dayahead",
		ClearingIntervalS: 3600,
		IntervalDurationS: 3600,
		IntervalsToClear:  1,
	}
	now := time.Date(2026, 3, 10, 7, 42, 13, 0, time.UTC)
	core := mc.ToCore(now)
	want := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	if !core.ClearingTime.Equal(want) {
		t.Fatalf("first clearing = %s, want %s", core.ClearingTime, want)
	}

	mc.FirstClearing = "2026-03-11T00:00:00Z"
	core = mc.ToCore(now)
	if !core.ClearingTime.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("explicit first clearing not honored: %s", core.ClearingTime)
	}
}
