// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package pipeline carries the state shared across the gateway's
// cooperating components — the buffer, the degradation/done flags, and
// the log channel — as an explicit context value instead of the file
// scope globals the original C gateway used.
package pipeline

import (
	"context"
	"sync"

	"github.com/ykzhang/sensorgateway/internal/logsink"
	"github.com/ykzhang/sensorgateway/internal/sbuffer"
)

// Flags is the pipeline-wide degradation state. Once set, storageDegraded
// stays set for the rest of the run. Producer completion is carried by
// Context's Done channel, not by Flags.
type Flags struct {
	mu              sync.Mutex
	storageDegraded bool
}

// SetStorageDegraded marks the pipeline degraded. Idempotent.
func (f *Flags) SetStorageDegraded() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storageDegraded = true
}

// StorageDegraded reports whether the pipeline has degraded.
func (f *Flags) StorageDegraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storageDegraded
}

// degradedPtr adapts the mutex-guarded flag to the *bool contract
// sbuffer.Insert/Remove expect. Callers must not retain the pointer past
// the call using it, since the backing value is only ever read through
// this accessor.
func (f *Flags) degradedPtr() *bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.storageDegraded
	return &v
}

// Context bundles everything a pipeline component needs: the shared
// buffer, the degradation flags, the log channel, and a cancellation
// signal standing in for the original's producer_done condition
// variable. Components receive *Context by value into their entry point
// rather than reaching for process globals.
type Context struct {
	Buffer *sbuffer.Buffer
	Flags  *Flags
	Log    *logsink.Channel

	// Done is cancelled exactly once, by the connection manager, after
	// the listener and all peer sockets have been released. Consumers
	// select on it alongside polling Buffer.IsEmpty.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewContext assembles a fresh pipeline Context.
func NewContext(buf *sbuffer.Buffer, log *logsink.Channel) *Context {
	ctx, cancel := context.WithCancel(context.Background())
	return &Context{
		Buffer: buf,
		Flags:  &Flags{},
		Log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Done returns the channel that closes once the producer has finished.
func (c *Context) Done() <-chan struct{} {
	return c.ctx.Done()
}

// MarkProducerDone cancels Done. Safe to call more than once; only the
// first call has effect.
func (c *Context) MarkProducerDone() {
	c.cancel()
}

// ProducerDone reports whether MarkProducerDone has been called.
func (c *Context) ProducerDone() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// Insert publishes a record, honoring storage degradation.
func (c *Context) Insert(rec sbuffer.Record) bool {
	degraded := c.Flags.degradedPtr()
	return c.Buffer.Insert(rec, degraded)
}

// Remove polls for the next unobserved record for consumer who.
func (c *Context) Remove(who sbuffer.Consumer) (sbuffer.Record, bool) {
	degraded := c.Flags.degradedPtr()
	return c.Buffer.Remove(who, degraded)
}

// Drained reports whether a consumer loop should exit: the producer has
// finished and the buffer has nothing left, or the pipeline has
// degraded.
func (c *Context) Drained() bool {
	if c.Flags.StorageDegraded() {
		return true
	}
	return c.ProducerDone() && c.Buffer.IsEmpty()
}
