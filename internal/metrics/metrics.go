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

// Package metrics counts gateway-wide lifecycle events and, optionally,
// periodically appends them as a CSV row to a file for offline graphing.
package metrics

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Stats holds the gateway's running counters. The zero value is ready to
// use; every field is updated with atomic adds so any component may hold
// a shared *Stats without its own locking.
type Stats struct {
	PeersOpened       uint64
	PeersClosed       uint64
	RecordsReceived   uint64
	RecordsShortRead  uint64
	RecordsInserted   uint64
	UnknownSensor     uint64
	MeasurementErrors uint64
	AlertsFired       uint64
}

func (s *Stats) IncPeersOpened()       { atomic.AddUint64(&s.PeersOpened, 1) }
func (s *Stats) IncPeersClosed()       { atomic.AddUint64(&s.PeersClosed, 1) }
func (s *Stats) IncRecordsReceived()   { atomic.AddUint64(&s.RecordsReceived, 1) }
func (s *Stats) IncRecordsShortRead()  { atomic.AddUint64(&s.RecordsShortRead, 1) }
func (s *Stats) IncRecordsInserted()   { atomic.AddUint64(&s.RecordsInserted, 1) }
func (s *Stats) IncUnknownSensor()     { atomic.AddUint64(&s.UnknownSensor, 1) }
func (s *Stats) IncMeasurementErrors() { atomic.AddUint64(&s.MeasurementErrors, 1) }
func (s *Stats) IncAlertsFired()       { atomic.AddUint64(&s.AlertsFired, 1) }

// header lists the CSV column names in the same order ToSlice emits them.
func header() []string {
	return []string{
		"PeersOpened", "PeersClosed", "RecordsReceived", "RecordsShortRead",
		"RecordsInserted", "UnknownSensor", "MeasurementErrors", "AlertsFired",
	}
}

// ToSlice snapshots s as strings, suitable for one CSV row.
func (s *Stats) ToSlice() []string {
	return []string{
		fmt.Sprint(atomic.LoadUint64(&s.PeersOpened)),
		fmt.Sprint(atomic.LoadUint64(&s.PeersClosed)),
		fmt.Sprint(atomic.LoadUint64(&s.RecordsReceived)),
		fmt.Sprint(atomic.LoadUint64(&s.RecordsShortRead)),
		fmt.Sprint(atomic.LoadUint64(&s.RecordsInserted)),
		fmt.Sprint(atomic.LoadUint64(&s.UnknownSensor)),
		fmt.Sprint(atomic.LoadUint64(&s.MeasurementErrors)),
		fmt.Sprint(atomic.LoadUint64(&s.AlertsFired)),
	}
}

// Logger appends one CSV row of s to path every interval, until stop is
// closed. path is passed through time.Now().Format on its filename
// component, so "./stats-20060102.log" rolls over daily. A disabled
// logger (empty path or zero interval) returns immediately.
func Logger(path string, interval time.Duration, s *Stats, stop <-chan struct{}) {
	if path == "" || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			writeRow(path, s)
		}
	}
}

func writeRow(path string, s *Stats) {
	dir, name := filepath.Split(path)
	f, err := os.OpenFile(dir+time.Now().Format(name), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Println(err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(append([]string{"Unix"}, header()...)); err != nil {
			log.Println(err)
		}
	}
	if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, s.ToSlice()...)); err != nil {
		log.Println(err)
	}
	w.Flush()
}
