package forecast

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kilianp07/transactive/core/market"
)

var testBase = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func writeCSV(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weather.csv")
	content := "timestamp,temperature\n" + strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func testMarket(t *testing.T, intervals int) *market.Market {
	t.Helper()
	m := market.NewAuction(market.Config{
		SeriesName:       "dayahead",
		ClearingTime:     testBase,
		IntervalDuration: time.Hour,
		IntervalsToClear: intervals,
		DeliveryLeadTime: time.Hour,
		DefaultPrice:     0.05,
	}, nil)
	m.CheckIntervals()
	return m
}

func TestTemperatureServesExactHours(t *testing.T) {
	delivery := testBase.Add(time.Hour)
	path := writeCSV(t,
		fmt.Sprintf("%s,60.5", delivery.Format("2006-01-02 15:04:05")),
		fmt.Sprintf("%s,62.0", delivery.Add(time.Hour).Format("2006-01-02 15:04:05")),
	)
	svc := NewTemperature("weather", TemperatureConfig{File: path}, nil)
	m := testMarket(t, 2)

	if err := svc.UpdateInformation(m); err != nil {
		t.Fatalf("update information: %v", err)
	}
	got, ok := svc.PredictedValue(m.TimeIntervals[0].Name)
	if !ok || got != 60.5 {
		t.Fatalf("prediction = %v (ok=%v), want 60.5", got, ok)
	}
	got, ok = svc.PredictedValue(m.TimeIntervals[1].Name)
	if !ok || got != 62.0 {
		t.Fatalf("prediction = %v (ok=%v), want 62.0", got, ok)
	}
}

func TestTemperatureProbesNearbyHours(t *testing.T) {
	delivery := testBase.Add(time.Hour)
	// Only the previous day's value exists for the delivery hour.
	path := writeCSV(t,
		fmt.Sprintf("%s,48.0", delivery.Add(-24*time.Hour).Format("2006-01-02 15:04:05")),
	)
	svc := NewTemperature("weather", TemperatureConfig{File: path}, nil)
	m := testMarket(t, 1)

	if err := svc.UpdateInformation(m); err != nil {
		t.Fatalf("update information: %v", err)
	}
	got, ok := svc.PredictedValue(m.TimeIntervals[0].Name)
	if !ok || got != 48.0 {
		t.Fatalf("prediction = %v (ok=%v), want 48.0 from day-old probe", got, ok)
	}
}

func TestTemperatureErrorsWhenNoObservationNearby(t *testing.T) {
	delivery := testBase.Add(time.Hour)
	path := writeCSV(t,
		fmt.Sprintf("%s,48.0", delivery.Add(-72*time.Hour).Format("2006-01-02 15:04:05")),
	)
	svc := NewTemperature("weather", TemperatureConfig{File: path}, nil)
	m := testMarket(t, 1)

	if err := svc.UpdateInformation(m); err == nil {
		t.Fatal("expected error when no observation is near the delivery hour")
	}
}

func TestTemperatureReloadsChangedFile(t *testing.T) {
	delivery := testBase.Add(time.Hour)
	path := writeCSV(t,
		fmt.Sprintf("%s,60.5", delivery.Format("2006-01-02 15:04:05")),
	)
	svc := NewTemperature("weather", TemperatureConfig{File: path}, nil)
	m := testMarket(t, 1)
	if err := svc.UpdateInformation(m); err != nil {
		t.Fatalf("update information: %v", err)
	}

	content := fmt.Sprintf("timestamp,temperature\n%s,75.0\n", delivery.Format("2006-01-02 15:04:05"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("rewrite csv: %v", err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("touch csv: %v", err)
	}

	if err := svc.UpdateInformation(m); err != nil {
		t.Fatalf("update after rewrite: %v", err)
	}
	got, _ := svc.PredictedValue(m.TimeIntervals[0].Name)
	if got != 75.0 {
		t.Fatalf("prediction after rewrite = %v, want 75.0", got)
	}
}

func TestTemperatureFactoryRequiresFile(t *testing.T) {
	if _, err := newTemperatureFromConf("weather", map[string]any{}); err == nil {
		t.Fatal("expected error for missing data file")
	}
}
