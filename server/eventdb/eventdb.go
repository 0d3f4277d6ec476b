// Package eventdb persists closed behavior events.
//
// There are two stores. CSVLog is the per-run log, written synchronously from the frame loop.
// EventDB is the aggregate database that accumulates events across many runs. Writes to
// EventDB are buffered and committed by a background thread, so that a slow disk cannot
// stall frame processing.
package eventdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyclopcam/behave/server/behavior"
	"github.com/cyclopcam/behave/server/segmenter"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// If more than this number of events are waiting to be written, then the oldest are dropped
const MaxPendingEvents = 1000

// EventDB is the aggregate, cross-run event database
type EventDB struct {
	log               logs.Log
	db                *gorm.DB
	runID             string
	source            string
	flushInterval     time.Duration
	shutdown          chan bool // This channel is closed when its time to shutdown
	wake              chan bool // Wake the write thread, to flush immediately
	writeThreadClosed chan bool // The write thread closes this channel when it exits
	closeOnce         sync.Once

	pendingLock sync.Mutex // Guards access to 'pending'
	pending     []*Event
}

// Open or create the aggregate event DB.
// source is recorded on every event, and is typically the name of the input.
func NewEventDB(log logs.Log, dbc dbh.DBConfig, source string) (*EventDB, error) {
	log = logs.NewPrefixLogger(log, "EventDB")

	if dbc.Driver == dbh.DriverSqlite {
		if err := os.MkdirAll(filepath.Dir(dbc.Database), 0770); err != nil {
			return nil, fmt.Errorf("Failed to create event DB path '%v': %w", dbc.Database, err)
		}
	}

	log.Infof("Opening Event DB (%v)", dbc.LogSafeDescription())
	db, err := dbh.OpenDB(log, dbc, Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open event database %v: %w", dbc.Database, err)
	}

	self := &EventDB{
		log:               log,
		db:                db,
		runID:             uuid.NewString(),
		source:            source,
		flushInterval:     5 * time.Second,
		shutdown:          make(chan bool),
		wake:              make(chan bool, 1),
		writeThreadClosed: make(chan bool),
	}
	log.Infof("Run ID %v", self.runID)

	go self.writeThread()

	return self, nil
}

func (e *EventDB) RunID() string {
	return e.runID
}

// Close flushes all pending events, and waits for the write thread to exit.
func (e *EventDB) Close() {
	e.closeOnce.Do(func() {
		close(e.shutdown)
		e.log.Infof("Waiting for write thread to exit")
		<-e.writeThreadClosed
		if sqlDB, err := e.db.DB(); err == nil {
			sqlDB.Close()
		}
	})
}

// Add queues an event for writing. It never blocks on the database.
func (e *EventDB) Add(ev *segmenter.Event) {
	rec := &Event{
		RunID:        e.runID,
		CreatedAt:    dbh.MakeIntTime(time.Now()),
		Source:       e.source,
		Behavior:     ev.Behavior,
		StartFrame:   ev.StartFrame,
		EndFrame:     ev.EndFrame,
		StartTimeMin: ev.StartMinutes(),
		EndTimeMin:   ev.EndMinutes(),
		DurationMin:  ev.DurationMinutes(),
		Snapshot:     &dbh.JSONField[behavior.Snapshot]{Data: ev.Snapshot},
	}
	e.pendingLock.Lock()
	e.pending = append(e.pending, rec)
	if len(e.pending) > MaxPendingEvents {
		e.log.Warnf("Dropping %v events, because the database is not keeping up", len(e.pending)-MaxPendingEvents)
		e.pending = e.pending[len(e.pending)-MaxPendingEvents:]
	}
	e.pendingLock.Unlock()
}

// Flush wakes the write thread, so that pending events are written soon
func (e *EventDB) Flush() {
	select {
	case e.wake <- true:
	default:
	}
}

// Recent returns the most recently created events, newest first.
// Events that have not yet been written by the write thread are not included.
func (e *EventDB) Recent(limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	events := []*Event{}
	if err := e.db.Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// Count returns the number of events in the database, optionally restricted to one run
func (e *EventDB) Count(runID string) (int64, error) {
	q := e.db.Model(&Event{})
	if runID != "" {
		q = q.Where("run_id = ?", runID)
	}
	n := int64(0)
	err := q.Count(&n).Error
	return n, err
}

func (e *EventDB) writeThread() {
	e.log.Infof("Write thread starting")
	keepRunning := true
	for keepRunning {
		select {
		case <-e.shutdown:
			keepRunning = false
		case <-e.wake:
			e.writePending()
		case <-time.After(e.flushInterval):
			e.writePending()
		}
	}
	e.writePending()
	e.log.Infof("Write thread exiting")
	close(e.writeThreadClosed)
}

func (e *EventDB) writePending() {
	e.pendingLock.Lock()
	batch := e.pending
	e.pending = nil
	e.pendingLock.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := e.db.Create(batch).Error; err != nil {
		e.log.Errorf("Failed to write %v events to DB: %v", len(batch), err)
	}
}
