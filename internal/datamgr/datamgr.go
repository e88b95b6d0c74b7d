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

// Package datamgr is the analytics consumer: it loads a sensor-to-room
// map, maintains a windowed running average per sensor, and raises
// temperature alerts to the log channel.
package datamgr

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/ykzhang/sensorgateway/internal/metrics"
	"github.com/ykzhang/sensorgateway/internal/pipeline"
	"github.com/ykzhang/sensorgateway/internal/sbuffer"
)

// RunAvgLength is the number of samples (K) kept per sensor's window.
const RunAvgLength = 5

// valueErrorMin and valueErrorMax bound a plausible measurement; values
// outside this range are logged and discarded without updating the
// window.
const (
	valueErrorMin = -50.0
	valueErrorMax = 100.0
)

// sensorState tracks one known sensor's room assignment and running
// window. It is created at map-load time and never removed at runtime.
type sensorState struct {
	sensorID      uint16
	roomID        uint16
	window        [RunAvgLength]float64
	runningAvg    float64
	lastTimestamp int64
}

// Manager holds the loaded sensor/room map and the alert thresholds. The
// pipeline context it consumes records from is passed to Run.
type Manager struct {
	minTemp float64
	maxTemp float64
	sensors map[uint16]*sensorState
	stats   *metrics.Stats
}

// SetStats attaches a counters sink; subsequent Run calls report to it.
// A Manager with no stats attached behaves exactly as before.
func (m *Manager) SetStats(s *metrics.Stats) {
	m.stats = s
}

// LoadMap parses "<room_id> <sensor_id>" lines from r into a fresh
// Manager. A malformed line is skipped with a warning returned to the
// caller via warn, matching the original's tolerant fscanf loop.
func LoadMap(r io.Reader, minTemp, maxTemp float64, warn func(string)) (*Manager, error) {
	m := &Manager{
		minTemp: minTemp,
		maxTemp: maxTemp,
		sensors: make(map[uint16]*sensorState),
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var roomID, sensorID uint16
		if _, err := fmt.Sscanf(line, "%d %d", &roomID, &sensorID); err != nil {
			if warn != nil {
				warn(fmt.Sprintf("sensor map: skipping malformed line %q", line))
			}
			continue
		}
		m.sensors[sensorID] = &sensorState{sensorID: sensorID, roomID: roomID}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "datamgr: reading sensor map")
	}
	return m, nil
}

// Sensor returns the known state for id, or nil if id is not in the map.
func (m *Manager) Sensor(id uint16) *sensorState {
	return m.sensors[id]
}

// Run drains records tagged for Analytics from ctx until the pipeline is
// drained. For every record: unknown sensors and out-of-range values are
// logged and skipped; otherwise the window shifts, the mean recomputes,
// and once the window is fully populated an alert fires if the mean
// breaches minTemp/maxTemp.
func (m *Manager) Run(ctx *pipeline.Context) {
	for {
		rec, ok := ctx.Remove(sbuffer.Analytics)
		if !ok {
			if ctx.Drained() {
				return
			}
			time.Sleep(time.Millisecond)
			continue
		}
		m.process(ctx, rec)
	}
}

func (m *Manager) process(ctx *pipeline.Context, rec sbuffer.Record) {
	sensor := m.sensors[rec.SensorID]
	if sensor == nil {
		ctx.Log.Publish(fmt.Sprintf("no such sensor id %d", rec.SensorID))
		if m.stats != nil {
			m.stats.IncUnknownSensor()
		}
		return
	}

	if rec.Value <= valueErrorMin || rec.Value >= valueErrorMax {
		ctx.Log.Publish(fmt.Sprintf("measurement error: sensor %d reported out-of-range value %g", rec.SensorID, rec.Value))
		if m.stats != nil {
			m.stats.IncMeasurementErrors()
		}
		return
	}

	sensor.lastTimestamp = rec.Timestamp
	for i := 1; i < RunAvgLength; i++ {
		sensor.window[i-1] = sensor.window[i]
	}
	sensor.window[RunAvgLength-1] = rec.Value

	var total float64
	for _, v := range sensor.window {
		total += v
	}
	sensor.runningAvg = total / RunAvgLength

	// Only once the window is fully populated (slot 0 non-zero) does an
	// alert make sense.
	if sensor.window[0] == 0.0 {
		return
	}

	switch {
	case sensor.runningAvg < m.minTemp:
		ctx.Log.Publish(fmt.Sprintf("sensor node %d in room %d reports it's too cold (running avg = %g)", sensor.sensorID, sensor.roomID, sensor.runningAvg))
		if m.stats != nil {
			m.stats.IncAlertsFired()
		}
	case sensor.runningAvg > m.maxTemp:
		ctx.Log.Publish(fmt.Sprintf("sensor node %d in room %d reports it's too hot (running avg = %g)", sensor.sensorID, sensor.roomID, sensor.runningAvg))
		if m.stats != nil {
			m.stats.IncAlertsFired()
		}
	}
}
