package sbuffer

import "testing"

func TestInsertRemoveBothConsumers(t *testing.T) {
	b := New()
	degraded := false

	records := []Record{
		{SensorID: 1, Value: 20.0, Timestamp: 100},
		{SensorID: 1, Value: 21.0, Timestamp: 101},
		{SensorID: 1, Value: 22.0, Timestamp: 102},
	}
	for _, r := range records {
		if ok := b.Insert(r, &degraded); !ok {
			t.Fatalf("insert failed for %+v", r)
		}
	}

	var gotAnalytics, gotStorage []Record
	for len(gotAnalytics) < len(records) || len(gotStorage) < len(records) {
		if rec, ok := b.Remove(Analytics, &degraded); ok {
			gotAnalytics = append(gotAnalytics, rec)
		}
		if rec, ok := b.Remove(Storage, &degraded); ok {
			gotStorage = append(gotStorage, rec)
		}
	}

	for i, r := range records {
		if gotAnalytics[i] != r || gotStorage[i] != r {
			t.Fatalf("order mismatch at %d: want %+v, got analytics=%+v storage=%+v", i, r, gotAnalytics[i], gotStorage[i])
		}
	}
	if !b.IsEmpty() {
		t.Fatal("buffer should be empty after both consumers drained it")
	}
}

func TestRemoveEmptyReturnsFalse(t *testing.T) {
	b := New()
	degraded := false
	if _, ok := b.Remove(Analytics, &degraded); ok {
		t.Fatal("remove on empty buffer should return false")
	}
}

func TestRemoveDoesNotReobserveHead(t *testing.T) {
	b := New()
	degraded := false
	b.Insert(Record{SensorID: 7}, &degraded)

	if _, ok := b.Remove(Analytics, &degraded); !ok {
		t.Fatal("first analytics remove should succeed")
	}
	if _, ok := b.Remove(Analytics, &degraded); ok {
		t.Fatal("second analytics remove on the same head should return false")
	}
	// storage hasn't observed it yet, so the node is still there.
	if b.IsEmpty() {
		t.Fatal("node should survive until storage also observes it")
	}
	if _, ok := b.Remove(Storage, &degraded); !ok {
		t.Fatal("storage remove should succeed")
	}
	if !b.IsEmpty() {
		t.Fatal("node should be freed once both consumers observed it")
	}
}

func TestInsertFailsWhenDegraded(t *testing.T) {
	b := New()
	degraded := true
	if ok := b.Insert(Record{SensorID: 1}, &degraded); ok {
		t.Fatal("insert should fail while degraded")
	}
}

func TestRemoveFailsWhenDegraded(t *testing.T) {
	b := New()
	degraded := false
	b.Insert(Record{SensorID: 1}, &degraded)
	degraded = true
	if _, ok := b.Remove(Analytics, &degraded); ok {
		t.Fatal("remove should fail once degraded")
	}
}

func TestInitFreeNoopOnEmpty(t *testing.T) {
	b := New()
	b.Free()
	if !b.IsEmpty() {
		t.Fatal("freeing an empty buffer should leave it empty")
	}
}

func TestConsumersCanDiverge(t *testing.T) {
	b := New()
	degraded := false
	b.Insert(Record{SensorID: 1, Timestamp: 1}, &degraded)
	b.Insert(Record{SensorID: 1, Timestamp: 2}, &degraded)

	if _, ok := b.Remove(Analytics, &degraded); !ok {
		t.Fatal("analytics should observe first record")
	}
	if _, ok := b.Remove(Analytics, &degraded); ok {
		t.Fatal("analytics is one record ahead and must not pass the head before storage observes it")
	}
	if b.IsEmpty() {
		t.Fatal("records should still be pending storage observation")
	}
	if _, ok := b.Remove(Storage, &degraded); !ok {
		t.Fatal("storage observes first record")
	}
	if _, ok := b.Remove(Analytics, &degraded); !ok {
		t.Fatal("analytics observes second record once the first is freed")
	}
	if _, ok := b.Remove(Storage, &degraded); !ok {
		t.Fatal("storage observes second record")
	}
	if !b.IsEmpty() {
		t.Fatal("buffer should now be empty")
	}
}
