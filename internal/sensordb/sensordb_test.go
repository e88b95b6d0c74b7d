package sensordb

import (
	"path/filepath"
	"testing"

	"github.com/ykzhang/sensorgateway/internal/sbuffer"
)

func TestConnectCreatesTableAndInserts(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "sensor.db")
	store, err := Connect(dbFile, "SensorData", false)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer store.Close()

	if err := store.Insert(sbuffer.Record{SensorID: 1, Value: 20.5, Timestamp: 100}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM SensorData").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestConnectResetClearsExistingRows(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "sensor.db")
	store, err := Connect(dbFile, "SensorData", false)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	store.Insert(sbuffer.Record{SensorID: 1, Value: 1.0, Timestamp: 1})
	store.Close()

	store2, err := Connect(dbFile, "SensorData", true)
	if err != nil {
		t.Fatalf("Connect with reset: %v", err)
	}
	defer store2.Close()

	var count int
	if err := store2.db.QueryRow("SELECT COUNT(*) FROM SensorData").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected table cleared, got %d rows", count)
	}
}
