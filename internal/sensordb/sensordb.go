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

// Package sensordb is the storage consumer: it owns the sqlite3
// connection, ensures the sensor table exists, and inserts every record
// it observes from the shared buffer. Persistent unreachability
// degrades the pipeline.
package sensordb

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/ykzhang/sensorgateway/internal/metrics"
	"github.com/ykzhang/sensorgateway/internal/pipeline"
	"github.com/ykzhang/sensorgateway/internal/sbuffer"
)

// Store owns the sqlite3 connection backing the sensor table.
type Store struct {
	db      *sql.DB
	table   string
	Created bool // true if Connect issued the table's first CREATE TABLE
}

// Connect opens dbFile, creating table if it does not already exist. If
// reset is true, the table's rows and autoincrement sequence are cleared
// first (mirroring the original's clear_up_flag).
func Connect(dbFile, table string, reset bool) (*Store, error) {
	db, err := sql.Open("sqlite3", dbFile)
	if err != nil {
		return nil, errors.Wrap(err, "sensordb: open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sensordb: ping database")
	}

	var existed int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&existed); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sensordb: inspect schema")
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sensor_id INTEGER NOT NULL,
		sensor_value DECIMAL(4,2) NOT NULL,
		timestamp TIMESTAMP
	);`, table)
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sensordb: create table")
	}

	if reset {
		reset := fmt.Sprintf(`UPDATE sqlite_sequence SET seq = 0 WHERE name = '%s';
			DELETE FROM sqlite_sequence WHERE name = '%s';
			DELETE FROM %s;`, table, table, table)
		if _, err := db.Exec(reset); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "sensordb: reset table")
		}
	}

	return &Store{db: db, table: table, Created: existed == 0}, nil
}

// ConnectWithRetry tries Connect up to attempts times with backoff
// between tries, mirroring the original's MAX_ATTEMPT retry loop.
func ConnectWithRetry(dbFile, table string, reset bool, attempts int, backoff time.Duration) (*Store, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		store, err := Connect(dbFile, table, reset)
		if err == nil {
			return store, nil
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(backoff)
		}
	}
	return nil, lastErr
}

// Insert persists one record.
func (s *Store) Insert(rec sbuffer.Record) error {
	q := fmt.Sprintf("INSERT INTO %s (sensor_id, sensor_value, timestamp) VALUES (?, ?, ?);", s.table)
	_, err := s.db.Exec(q, rec.SensorID, rec.Value, rec.Timestamp)
	return err
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run drains records tagged for Storage from ctx, inserting each one. A
// persistent connect failure (store == nil) or a post-connect insert
// failure both degrade the pipeline and stop the loop. stats may be nil.
func Run(ctx *pipeline.Context, store *Store, stats *metrics.Stats) {
	if store == nil {
		ctx.Log.Publish("Unable to connect to SQL server.")
		ctx.Flags.SetStorageDegraded()
		return
	}

	for {
		rec, ok := ctx.Remove(sbuffer.Storage)
		if !ok {
			if ctx.Drained() {
				break
			}
			time.Sleep(time.Millisecond)
			continue
		}
		if err := store.Insert(rec); err != nil {
			ctx.Flags.SetStorageDegraded()
			break
		}
		if stats != nil {
			stats.IncRecordsInserted()
		}
	}

	// The original prints this same message on every disconnect path,
	// graceful or not (sensor_db.c:disconnect).
	ctx.Log.Publish(" Connection to SQL server lost.")
	store.Close()
}
