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

// Package sbuffer implements the shared buffer: a single-producer,
// multi-consumer FIFO where every inserted record is observed exactly
// once by each of a fixed set of consumers before it is discarded.
package sbuffer

import "sync"

// Consumer identifies which seen-flag a Remove call advances.
type Consumer int

const (
	Analytics Consumer = iota
	Storage
)

// Record is a single sensor measurement carried through the pipeline.
type Record struct {
	SensorID  uint16
	Value     float64
	Timestamp int64
}

// node is a FIFO element. It is freed (unlinked) by whichever consumer
// sets the second seen flag, mirroring the two-bit ownership scheme in
// the original sbuffer_node_t.
type node struct {
	record        Record
	analyticsSeen bool
	storageSeen   bool
	next          *node
}

// Buffer is the shared FIFO. Structural mutation (insert, unlink, flag
// set) is guarded by rw; IsEmpty reads head under a separate short mutex
// so idle consumers can poll it cheaply without contending for the
// writer lock.
type Buffer struct {
	rw   sync.RWMutex
	mu   sync.Mutex
	head *node
	tail *node
}

// New allocates an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// Insert appends a record to the tail. It fails if the buffer has been
// told the pipeline is degraded.
func (b *Buffer) Insert(rec Record, degraded *bool) bool {
	if degraded != nil && *degraded {
		return false
	}

	n := &node{record: rec}

	b.rw.Lock()
	if b.head == nil {
		b.head = n
		b.tail = n
	} else {
		b.tail.next = n
		b.tail = n
	}
	b.rw.Unlock()
	return true
}

// Remove is non-blocking. It returns (record, true) if the head has not
// yet been observed by consumer c; (Record{}, false) if the head is
// absent, already observed by c, or the pipeline is degraded. On the
// second observation it unlinks and drops the head node.
func (b *Buffer) Remove(c Consumer, degraded *bool) (Record, bool) {
	if degraded != nil && *degraded {
		return Record{}, false
	}

	b.rw.Lock()
	defer b.rw.Unlock()

	if b.head == nil {
		return Record{}, false
	}

	switch c {
	case Analytics:
		if b.head.analyticsSeen {
			return Record{}, false
		}
		b.head.analyticsSeen = true
	case Storage:
		if b.head.storageSeen {
			return Record{}, false
		}
		b.head.storageSeen = true
	}

	rec := b.head.record
	if b.head.analyticsSeen && b.head.storageSeen {
		b.head = b.head.next
		if b.head == nil {
			b.tail = nil
		}
	}
	return rec, true
}

// IsEmpty reports whether the buffer currently holds no nodes.
func (b *Buffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head == nil
}

// Free releases the buffer's remaining nodes without observation, used
// during degraded-drain teardown.
func (b *Buffer) Free() {
	b.rw.Lock()
	defer b.rw.Unlock()
	b.head = nil
	b.tail = nil
}
