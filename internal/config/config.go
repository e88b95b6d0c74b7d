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

// Package config holds the gateway's build-time constants and the
// runtime Config assembled from CLI flags or an optional JSON override.
package config

import (
	"encoding/json"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Build-time constants. These mirror config.h in the original gateway.
const (
	// RunAvgLength is the number of samples (K) kept in a sensor's
	// running-average window.
	RunAvgLength = 5
	// MaxAttempt is the number of times storage tries to connect to the
	// database before giving up and degrading the pipeline.
	MaxAttempt = 3
	// ReconnectBackoff is the pause between connection attempts.
	ReconnectBackoff = 2 * time.Second
	// DefaultTimeout is the idle timeout for a peer, and the poll cycle
	// bound used to detect producer shutdown.
	DefaultTimeout = 10 * time.Second
	// DefaultMinTemp and DefaultMaxTemp are the alert thresholds.
	DefaultMinTemp = 15.0
	DefaultMaxTemp = 25.0
	// DefaultDBFile and DefaultTable name the sqlite3 database and table.
	DefaultDBFile = "Sensor.db"
	DefaultTable  = "SensorData"
	// DefaultLogFile is where lifecycle/alert messages are appended.
	DefaultLogFile = "gateway.log"
)

// Config is the gateway's runtime configuration, populated from CLI flags
// and optionally overridden by a JSON file (see ParseJSONConfig).
type Config struct {
	Port       int           `json:"port"`
	PortMax    int           `json:"port_max"`
	SensorMap  string        `json:"sensor_map"`
	DBFile     string        `json:"db_file"`
	Table      string        `json:"table"`
	LogFile    string        `json:"log_file"`
	Timeout    time.Duration `json:"-"`
	TimeoutSec int           `json:"timeout"`
	MinTemp    float64       `json:"min_temp"`
	MaxTemp    float64       `json:"max_temp"`
	MaxAttempt int           `json:"max_attempt"`
	ResetTable bool          `json:"reset_table"`
	Quiet      bool          `json:"quiet"`
}

// portSpecMatcher accepts a bare port ("9000") or a dash-delimited range
// ("9000-9010"), adapted from the teacher's multiport address matcher
// (generic.ParseMultiPort / std.ParseMultiPort) with the host prefix
// dropped — the gateway always binds every interface and only needs the
// port (or port range) it listens for sensor nodes on.
var portSpecMatcher = regexp.MustCompile(`^([0-9]{1,5})-?([0-9]{1,5})?$`)

// ParsePortRange parses spec into an inclusive [minPort, maxPort] range
// that cmd/gateway hands to connmgr.NewPortRange, letting one gateway
// process accept sensor nodes across a bank of ports.
func ParsePortRange(spec string) (minPort, maxPort int, err error) {
	matches := portSpecMatcher.FindStringSubmatch(spec)
	if matches == nil {
		return 0, 0, errors.Errorf("malformed port spec: %q", spec)
	}

	minPort, err = strconv.Atoi(matches[1])
	if err != nil {
		return 0, 0, err
	}
	maxPort = minPort
	if matches[2] != "" {
		maxPort, err = strconv.Atoi(matches[2])
		if err != nil {
			return 0, 0, err
		}
	}

	if minPort > maxPort || minPort == 0 || maxPort > 65535 {
		return 0, 0, errors.Errorf("invalid port range specified: minport:%v -> maxport:%v", minPort, maxPort)
	}
	return minPort, maxPort, nil
}

// ParseJSONConfig overrides cfg's fields from a JSON file at path, the
// same override mechanism as the teacher's -c flag.
func ParseJSONConfig(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return err
	}
	if cfg.TimeoutSec > 0 {
		cfg.Timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	return nil
}
