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

// Package connmgr is the gateway's producer: it listens for sensor-node
// peers, drains their fixed-width records into the shared buffer, and
// enforces a per-peer idle timeout. Unlike the original's single
// poll(2) call over a pollfd array, each peer is serviced by its own
// goroutine reporting back on a shared events channel — Go has no
// portable equivalent of multiplexed socket readiness in the standard
// library, so one reader-goroutine-per-peer with a read deadline is the
// idiomatic stand-in for TIMEOUT-bounded poll.
package connmgr

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ykzhang/sensorgateway/internal/metrics"
	"github.com/ykzhang/sensorgateway/internal/pipeline"
	"github.com/ykzhang/sensorgateway/internal/sbuffer"
)

// recordSize is the wire size of one (sensor_id, value, timestamp)
// record: u16 + f64 + i64, all host-order raw bytes.
const recordSize = 2 + 8 + 8

// eventKind distinguishes the outcomes a peer goroutine can report.
type eventKind int

const (
	eventRecord eventKind = iota
	eventClosed
	eventTimeout
	eventAccepted
)

// event is one outcome reported by a peer goroutine to the manager's
// central loop.
type event struct {
	kind   eventKind
	peerID uint64
	record sbuffer.Record
}

// peer tracks one accepted connection. Its idle time is tracked by the
// read deadline that its own servePeer goroutine renews before each read.
type peer struct {
	id     uint64
	conn   net.Conn
	isNew  bool
	cancel context.CancelFunc
}

// Manager runs the producer side of the pipeline: the listeners and the
// set of connected peers.
type Manager struct {
	ports   []int
	timeout time.Duration

	mu      sync.Mutex
	peers   map[uint64]*peer
	nextID  uint64
	lns     []net.Listener
	stopped bool

	stats *metrics.Stats
}

// New prepares a Manager bound to port with the given idle timeout.
func New(port int, timeout time.Duration) *Manager {
	return &Manager{
		ports:   []int{port},
		timeout: timeout,
		peers:   make(map[uint64]*peer),
	}
}

// NewPortRange prepares a Manager accepting sensor nodes on every port in
// [minPort, maxPort], one listener each, all feeding the same pipeline.
// Mirrors the teacher's multi-port server loop (generic.ParseMultiPort),
// generalized from a single bind address to a set of plain TCP ports.
func NewPortRange(minPort, maxPort int, timeout time.Duration) *Manager {
	ports := make([]int, 0, maxPort-minPort+1)
	for p := minPort; p <= maxPort; p++ {
		ports = append(ports, p)
	}
	return &Manager{
		ports:   ports,
		timeout: timeout,
		peers:   make(map[uint64]*peer),
	}
}

// SetStats attaches a counters sink; subsequent Run calls report to it.
// A Manager with no stats attached behaves exactly as before.
func (m *Manager) SetStats(s *metrics.Stats) {
	m.stats = s
}

// Stop forces teardown: it closes every listener and peer connection.
// Run calls it on idle shutdown; it may also be invoked externally.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	for _, ln := range m.lns {
		ln.Close()
	}
	for _, p := range m.peers {
		p.cancel()
		p.conn.Close()
	}
}

// Run blocks, accepting peers and forwarding their records into ctx,
// until a full idle cycle elapses with no peer activity and no new
// connections. It then closes the listener, releases all peers, and
// marks the producer done.
func (m *Manager) Run(ctx *pipeline.Context) error {
	var lns []net.Listener
	for _, port := range m.ports {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			for _, opened := range lns {
				opened.Close()
			}
			return errors.Wrapf(err, "connmgr: listen on port %d", port)
		}
		lns = append(lns, ln)
	}
	m.mu.Lock()
	m.lns = lns
	m.mu.Unlock()
	defer func() {
		for _, ln := range lns {
			ln.Close()
		}
	}()

	events := make(chan event, 64)
	var wg sync.WaitGroup

	for _, ln := range lns {
		go m.acceptLoop(ln, events, &wg)
	}

	idle := time.NewTimer(m.timeout)
	defer idle.Stop()

loop:
	for {
		select {
		case ev := <-events:
			idle.Reset(m.timeout)
			m.handleEvent(ctx, ev)
		case <-idle.C:
			// A full wait cycle elapsed with no readiness on any
			// socket: the producer is done.
			break loop
		}
	}

	m.Stop()
	wg.Wait()
	ctx.MarkProducerDone()
	return nil
}

// acceptLoop accepts peers on ln until it is closed by Stop, registering
// each accepted connection and handing it off to its own servePeer
// goroutine. Returns when Accept fails, which happens once the listener
// is closed during teardown.
func (m *Manager) acceptLoop(ln net.Listener, events chan<- event, wg *sync.WaitGroup) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			conn.Close()
			return
		}
		m.nextID++
		id := m.nextID
		pctx, cancel := context.WithCancel(context.Background())
		p := &peer{id: id, conn: conn, isNew: true, cancel: cancel}
		m.peers[id] = p
		m.mu.Unlock()

		// A new connection counts as activity for the idle cycle.
		events <- event{kind: eventAccepted, peerID: id}

		wg.Add(1)
		go m.servePeer(p, pctx.Done(), events, wg)
	}
}

func (m *Manager) handleEvent(ctx *pipeline.Context, ev event) {
	m.mu.Lock()
	p, ok := m.peers[ev.peerID]
	m.mu.Unlock()

	switch ev.kind {
	case eventRecord:
		if ok && p.isNew {
			ctx.Log.Publish(fmt.Sprintf("new sensor node %d is open", ev.record.SensorID))
			p.isNew = false
			if m.stats != nil {
				m.stats.IncPeersOpened()
			}
		}
		ctx.Insert(ev.record)
		if m.stats != nil {
			m.stats.IncRecordsReceived()
		}
	case eventClosed, eventTimeout:
		var sensorID uint16
		if ok {
			sensorID = ev.record.SensorID
		}
		ctx.Log.Publish(fmt.Sprintf("sensor node %d closed connection", sensorID))
		m.mu.Lock()
		delete(m.peers, ev.peerID)
		m.mu.Unlock()
		if m.stats != nil {
			m.stats.IncPeersClosed()
		}
	}
}

// servePeer reads fixed-width records from p until it closes, errors, or
// goes idle past the manager's timeout, reporting outcomes on events.
func (m *Manager) servePeer(p *peer, done <-chan struct{}, events chan<- event, wg *sync.WaitGroup) {
	defer wg.Done()
	defer p.conn.Close()

	if tc, ok := p.conn.(*net.TCPConn); ok {
		setKeepalive(tc)
	}

	var lastSensorID uint16
	for {
		select {
		case <-done:
			return
		default:
		}

		p.conn.SetReadDeadline(time.Now().Add(m.timeout))
		rec, complete, err := readRecord(p.conn)
		if err != nil {
			if isTimeout(err) {
				events <- event{kind: eventTimeout, peerID: p.id, record: sbuffer.Record{SensorID: lastSensorID}}
				return
			}
			// Remote close or protocol error: drop the peer, not an error.
			events <- event{kind: eventClosed, peerID: p.id, record: sbuffer.Record{SensorID: lastSensorID}}
			return
		}
		if !complete {
			// Short read: drop this record, the peer stays open.
			if m.stats != nil {
				m.stats.IncRecordsShortRead()
			}
			continue
		}

		lastSensorID = rec.SensorID
		events <- event{kind: eventRecord, peerID: p.id, record: rec}
	}
}

// readRecord reads one fixed-width (sensor_id, value, timestamp) record
// with a single Read call. A short read — fewer bytes than a full record
// delivered by this call — is reported as an incomplete, non-error
// result: the record is dropped but the peer remains open.
func readRecord(conn net.Conn) (rec sbuffer.Record, complete bool, err error) {
	var buf [recordSize]byte
	n, err := conn.Read(buf[:])
	if err != nil {
		return sbuffer.Record{}, false, err
	}
	if n < recordSize {
		return sbuffer.Record{}, false, nil
	}

	rec = sbuffer.Record{
		SensorID:  binary.NativeEndian.Uint16(buf[0:2]),
		Value:     math.Float64frombits(binary.NativeEndian.Uint64(buf[2:10])),
		Timestamp: int64(binary.NativeEndian.Uint64(buf[10:18])),
	}
	return rec, true, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func setKeepalive(tc *net.TCPConn) {
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	raw.Control(func(fd uintptr) {
		unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	})
}
