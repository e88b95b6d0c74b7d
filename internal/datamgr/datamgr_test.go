package datamgr

import (
	"strings"
	"testing"

	"github.com/ykzhang/sensorgateway/internal/logsink"
	"github.com/ykzhang/sensorgateway/internal/pipeline"
	"github.com/ykzhang/sensorgateway/internal/sbuffer"
)

func newTestContext(t *testing.T) (*pipeline.Context, *logsink.Channel) {
	t.Helper()
	ch := logsink.NewChannel(64)
	return pipeline.NewContext(sbuffer.New(), ch), ch
}

func TestLoadMapParsesLines(t *testing.T) {
	m, err := LoadMap(strings.NewReader("10 1\n20 2\n"), 15, 25, nil)
	if err != nil {
		t.Fatalf("LoadMap: %v", err)
	}
	if s := m.Sensor(1); s == nil || s.roomID != 10 {
		t.Fatalf("expected sensor 1 in room 10, got %+v", s)
	}
	if s := m.Sensor(2); s == nil || s.roomID != 20 {
		t.Fatalf("expected sensor 2 in room 20, got %+v", s)
	}
	if m.Sensor(99) != nil {
		t.Fatal("sensor 99 should be unknown")
	}
}

func TestLoadMapSkipsMalformedLines(t *testing.T) {
	var warned []string
	m, err := LoadMap(strings.NewReader("10 1\nbogus line\n20 2\n"), 15, 25, func(s string) {
		warned = append(warned, s)
	})
	if err != nil {
		t.Fatalf("LoadMap: %v", err)
	}
	if len(warned) != 1 {
		t.Fatalf("expected 1 warning, got %d: %v", len(warned), warned)
	}
	if m.Sensor(1) == nil || m.Sensor(2) == nil {
		t.Fatal("valid lines around the bad one should still load")
	}
}

// S1 with K = RunAvgLength: five in-bounds records for a known sensor fill
// the window and leave the running average inside the alert bounds.
func TestScenarioS1NoAlertWithinBounds(t *testing.T) {
	m, err := LoadMap(strings.NewReader("10 1\n"), 19, 25, nil)
	if err != nil {
		t.Fatal(err)
	}
	// feed RunAvgLength records so the window is fully populated.
	ctx, _ := newTestContext(t)
	vals := []float64{20.0, 21.0, 22.0, 21.0, 21.0}
	for i, v := range vals {
		m.process(ctx, sbuffer.Record{SensorID: 1, Value: v, Timestamp: int64(i)})
	}
	s := m.Sensor(1)
	if s.runningAvg < 19 || s.runningAvg > 25 {
		t.Fatalf("expected running avg within bounds, got %v", s.runningAvg)
	}
}

// S2: an out-of-range value is logged and does not update the window.
func TestScenarioS2MeasurementError(t *testing.T) {
	m, err := LoadMap(strings.NewReader("10 1\n"), 15, 25, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, _ := newTestContext(t)
	m.process(ctx, sbuffer.Record{SensorID: 1, Value: 150.0, Timestamp: 1})
	s := m.Sensor(1)
	if s.window[RunAvgLength-1] != 0.0 {
		t.Fatal("out-of-range value should not enter the window")
	}
}

// S3: an unknown sensor id is logged and otherwise ignored.
func TestScenarioS3UnknownSensor(t *testing.T) {
	m, err := LoadMap(strings.NewReader("10 1\n"), 15, 25, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, _ := newTestContext(t)
	m.process(ctx, sbuffer.Record{SensorID: 99, Value: 20.0, Timestamp: 1})
	if m.Sensor(99) != nil {
		t.Fatal("sensor 99 must remain unknown")
	}
}

// The alert check is skipped while slot 0 is still zero; one record must
// leave it zero.
func TestWindowNotFullAfterSingleRecord(t *testing.T) {
	m, err := LoadMap(strings.NewReader("10 1\n"), 15, 25, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, _ := newTestContext(t)
	// first record: too cold value, but window not yet full (slot 0 still 0).
	m.process(ctx, sbuffer.Record{SensorID: 1, Value: 1.0, Timestamp: 1})
	s := m.Sensor(1)
	if s.window[0] != 0.0 {
		t.Fatal("window should not be full after a single record")
	}
}
