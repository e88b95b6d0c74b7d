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

package main

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/ykzhang/sensorgateway/internal/config"
	"github.com/ykzhang/sensorgateway/internal/connmgr"
	"github.com/ykzhang/sensorgateway/internal/datamgr"
	"github.com/ykzhang/sensorgateway/internal/logsink"
	"github.com/ykzhang/sensorgateway/internal/metrics"
	"github.com/ykzhang/sensorgateway/internal/pipeline"
	"github.com/ykzhang/sensorgateway/internal/sbuffer"
	"github.com/ykzhang/sensorgateway/internal/sensordb"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "gateway"
	myApp.Usage = "sensor-telemetry gateway"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "port,p",
			Usage: "TCP port (e.g. \"9000\") or port range (e.g. \"9000-9010\") to accept sensor-node connections on",
		},
		cli.StringFlag{
			Name:   "sensor-map",
			Value:  "room_sensor.map",
			EnvVar: "GATEWAY_SENSOR_MAP",
			Usage:  "path to the <room_id> <sensor_id> map file",
		},
		cli.StringFlag{
			Name:  "db",
			Value: config.DefaultDBFile,
			Usage: "sqlite3 database file",
		},
		cli.StringFlag{
			Name:  "table",
			Value: config.DefaultTable,
			Usage: "sensor measurement table name",
		},
		cli.StringFlag{
			Name:  "log",
			Value: config.DefaultLogFile,
			Usage: "lifecycle/alert log file",
		},
		cli.IntFlag{
			Name:  "timeout",
			Value: int(config.DefaultTimeout / time.Second),
			Usage: "peer idle timeout, and producer shutdown bound, in seconds",
		},
		cli.Float64Flag{
			Name:  "min-temp",
			Value: config.DefaultMinTemp,
			Usage: "running-average temperature floor before a 'too cold' alert fires",
		},
		cli.Float64Flag{
			Name:  "max-temp",
			Value: config.DefaultMaxTemp,
			Usage: "running-average temperature ceiling before a 'too hot' alert fires",
		},
		cli.IntFlag{
			Name:  "max-attempt",
			Value: config.MaxAttempt,
			Usage: "database connection attempts before the pipeline degrades",
		},
		cli.BoolFlag{
			Name:  "reset-table",
			Usage: "clear existing rows and reset the autoincrement sequence on startup",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress non-fatal startup warnings",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "override configuration from a JSON file",
		},
		cli.StringFlag{
			Name:  "stats-file",
			Value: "",
			Usage: "periodically append a CSV row of running counters to this path (disabled if empty)",
		},
		cli.DurationFlag{
			Name:  "stats-interval",
			Value: 30 * time.Second,
			Usage: "interval between stats CSV rows",
		},
	}
	myApp.Action = run
	if err := myApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Config{
		SensorMap:  c.String("sensor-map"),
		DBFile:     c.String("db"),
		Table:      c.String("table"),
		LogFile:    c.String("log"),
		Timeout:    time.Duration(c.Int("timeout")) * time.Second,
		MinTemp:    c.Float64("min-temp"),
		MaxTemp:    c.Float64("max-temp"),
		MaxAttempt: c.Int("max-attempt"),
		ResetTable: c.Bool("reset-table"),
		Quiet:      c.Bool("quiet"),
	}
	if portSpec := c.String("port"); portSpec != "" {
		minPort, maxPort, err := config.ParsePortRange(portSpec)
		if err != nil {
			return cli.NewExitError("parsing --port: "+err.Error(), 1)
		}
		cfg.Port = minPort
		cfg.PortMax = maxPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = config.DefaultTimeout
	}
	if cfg.MaxAttempt == 0 {
		cfg.MaxAttempt = config.MaxAttempt
	}

	if path := c.String("c"); path != "" {
		if err := config.ParseJSONConfig(&cfg, path); err != nil {
			return err
		}
	}
	if cfg.Port == 0 {
		return cli.NewExitError("a listen port must be given via --port", 1)
	}
	if cfg.PortMax == 0 {
		cfg.PortMax = cfg.Port
	}

	log.Println("port:", cfg.Port, "-", cfg.PortMax)
	log.Println("sensor map:", cfg.SensorMap)
	log.Println("database:", cfg.DBFile, "table:", cfg.Table)
	log.Println("log file:", cfg.LogFile)
	log.Println("timeout:", cfg.Timeout)
	log.Println("thresholds: min=", cfg.MinTemp, "max=", cfg.MaxTemp)

	logCh := logsink.NewChannel(256)
	sink := logsink.NewSink(cfg.LogFile)
	sinkDone := make(chan error, 1)
	go func() { sinkDone <- sink.Run(logCh) }()

	ctx := pipeline.NewContext(sbuffer.New(), logCh)

	mapFile, err := os.Open(cfg.SensorMap)
	if err != nil {
		return cli.NewExitError("opening sensor map: "+err.Error(), 1)
	}
	defer mapFile.Close()

	warn := func(msg string) {
		if !cfg.Quiet {
			color.Red(msg)
		}
	}
	dm, err := datamgr.LoadMap(mapFile, cfg.MinTemp, cfg.MaxTemp, warn)
	if err != nil {
		return cli.NewExitError("loading sensor map: "+err.Error(), 1)
	}

	store, storeErr := sensordb.ConnectWithRetry(cfg.DBFile, cfg.Table, cfg.ResetTable, cfg.MaxAttempt, config.ReconnectBackoff)
	if storeErr == nil {
		logCh.Publish("Connection to SQL server established.")
		if store.Created {
			logCh.Publish(fmt.Sprintf("New table %s created.", cfg.Table))
		}
	}

	stats := &metrics.Stats{}
	statsStop := make(chan struct{})
	go metrics.Logger(c.String("stats-file"), c.Duration("stats-interval"), stats, statsStop)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sensordb.Run(ctx, store, stats)
	}()

	dm.SetStats(stats)
	wg.Add(1)
	go func() {
		defer wg.Done()
		dm.Run(ctx)
	}()

	var mgr *connmgr.Manager
	if cfg.PortMax > cfg.Port {
		mgr = connmgr.NewPortRange(cfg.Port, cfg.PortMax, cfg.Timeout)
	} else {
		mgr = connmgr.New(cfg.Port, cfg.Timeout)
	}
	mgr.SetStats(stats)
	if err := mgr.Run(ctx); err != nil {
		close(statsStop)
		return cli.NewExitError("connmgr: "+err.Error(), 1)
	}

	wg.Wait()
	ctx.Buffer.Free()
	close(statsStop)
	logCh.Terminate()
	<-sinkDone
	return nil
}
