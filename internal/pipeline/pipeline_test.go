package pipeline

import (
	"testing"

	"github.com/ykzhang/sensorgateway/internal/logsink"
	"github.com/ykzhang/sensorgateway/internal/sbuffer"
)

func TestDrainedRequiresProducerDoneAndEmptyBuffer(t *testing.T) {
	ctx := NewContext(sbuffer.New(), logsink.NewChannel(1))
	if ctx.Drained() {
		t.Fatal("should not be drained before producer is done")
	}
	ctx.Insert(sbuffer.Record{SensorID: 1})
	ctx.MarkProducerDone()
	if ctx.Drained() {
		t.Fatal("should not be drained while the buffer still has records")
	}
	ctx.Remove(sbuffer.Analytics)
	ctx.Remove(sbuffer.Storage)
	if !ctx.Drained() {
		t.Fatal("should be drained once producer is done and buffer is empty")
	}
}

func TestDrainedOnDegradation(t *testing.T) {
	ctx := NewContext(sbuffer.New(), logsink.NewChannel(1))
	ctx.Flags.SetStorageDegraded()
	if !ctx.Drained() {
		t.Fatal("degraded pipeline should report drained immediately")
	}
}

func TestInsertFailsOnceDegraded(t *testing.T) {
	ctx := NewContext(sbuffer.New(), logsink.NewChannel(1))
	ctx.Flags.SetStorageDegraded()
	if ctx.Insert(sbuffer.Record{SensorID: 1}) {
		t.Fatal("insert should fail once degraded")
	}
}

func TestMarkProducerDoneIsIdempotent(t *testing.T) {
	ctx := NewContext(sbuffer.New(), logsink.NewChannel(1))
	ctx.MarkProducerDone()
	ctx.MarkProducerDone()
	if !ctx.ProducerDone() {
		t.Fatal("producer should be marked done")
	}
}
