// Package server ties the analysis pipeline to its outputs: the CSV event log, the aggregate
// event database, MQTT notifications, and the HTTP status API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/behave/server/config"
	"github.com/cyclopcam/behave/server/eventdb"
	"github.com/cyclopcam/behave/server/monitor"
	"github.com/cyclopcam/behave/server/notifications"
	"github.com/cyclopcam/behave/server/segmenter"
	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
)

// Number of closed events that we keep in memory for the HTTP API. Must be a power of 2.
const recentEventsSize = 256

type Server struct {
	Log     logs.Log
	Config  *config.Config
	Monitor *monitor.Monitor

	csvLog   *eventdb.CSVLog              // nil if there is no per-run event log
	eventDB  *eventdb.EventDB             // nil if there is no aggregate DB
	mqtt     *notifications.MQTTPublisher // nil if MQTT is disabled
	notifier *notifications.Notifier      // nil if MQTT is disabled

	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	stopCtx    context.Context // Cancelled by Stop
	stop       context.CancelFunc
	closeOnce  sync.Once

	recentLock   sync.Mutex // Guards recentEvents and totals
	recentEvents ringbuffer.RingP[segmenter.Event]
	totals       RunTotals
}

// RunTotals covers every event of the run, unlike Summary, which only sees the recent events
type RunTotals struct {
	NumEvents      int     `json:"numEvents"`
	TotalMinutes   float64 `json:"totalMinutes"`
	LongestSeconds float64 `json:"longestSeconds"`
}

func (t *RunTotals) add(ev *segmenter.Event) {
	t.NumEvents++
	t.TotalMinutes += ev.DurationMinutes()
	t.LongestSeconds = max(t.LongestSeconds, ev.Duration())
}

func (t RunTotals) String() string {
	if t.NumEvents == 0 {
		return "No events"
	}
	return fmt.Sprintf("%v events, %.2f minutes in total, longest %.1f seconds", t.NumEvents, t.TotalMinutes, t.LongestSeconds)
}

// NewServer opens all of the outputs named by the config.
// source is the name of the input, which is recorded with every event in the aggregate DB.
func NewServer(logger logs.Log, cfg *config.Config, source string) (*Server, error) {
	s := &Server{
		Log:          logger,
		Config:       cfg,
		Monitor:      monitor.NewMonitor(logger, cfg),
		recentEvents: ringbuffer.NewRingP[segmenter.Event](recentEventsSize),
	}
	s.stopCtx, s.stop = context.WithCancel(context.Background())

	if cfg.Output.EventLog != "" {
		csvLog, err := eventdb.OpenCSVLog(logger, cfg.Output.EventLog)
		if err != nil {
			return nil, err
		}
		s.csvLog = csvLog
	}

	if cfg.Output.EventDB != nil {
		db, err := eventdb.NewEventDB(logger, *cfg.Output.EventDB, source)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.eventDB = db
	}

	if cfg.MQTT.Enabled() {
		s.mqtt = notifications.NewMQTTPublisher(logger, cfg.MQTT)
		s.notifier = notifications.NewNotifier(logger, s.mqtt, cfg.NotifierSettings())
	} else {
		logger.Infof("MQTT notifications are disabled")
	}

	s.Monitor.AddListener(s)

	if err := s.setupHttpRoutes(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Run analyzes the source until it is exhausted, or until ctx is cancelled, or until
// Stop is called. Any open event is flushed to the outputs before Run returns.
func (s *Server) Run(ctx context.Context, source monitor.Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unlink := context.AfterFunc(s.stopCtx, cancel)
	defer unlink()
	return s.Monitor.Run(ctx, source)
}

// Stop causes Run to return after flushing the open event
func (s *Server) Stop() {
	s.stop()
}

// addr example: ":8090"
// ListenHTTP returns nil after Close.
func (s *Server) ListenHTTP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("Failed to listen on %v: %w", addr, err)
	}
	s.Log.Infof("Listening on %v", ln.Addr())
	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenForKillSignals stops Run when we receive SIGINT or SIGTERM.
// Run still flushes the open event, so a killed run loses nothing.
func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. Stopping analysis", sig.String())
			s.Stop()
		} else {
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Close stops the HTTP server, and closes all outputs.
// Pending aggregate DB writes and notifications are given one last chance to go out.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.stop()
		if s.signalIn != nil {
			signal.Stop(s.signalIn)
			close(s.signalIn)
		}
		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.Log.Warnf("HTTP server shutdown: %v", err)
			}
			cancel()
		}
		if s.notifier != nil {
			s.notifier.Close()
			s.Log.Infof("Notifications: %v sent, %v dropped, %v failed attempts", s.notifier.NumSent(), s.notifier.NumDropped(), s.notifier.NumFailed())
		}
		if s.mqtt != nil {
			s.mqtt.Close()
		}
		if s.eventDB != nil {
			s.eventDB.Close()
		}
		if s.csvLog != nil {
			if err := s.csvLog.Close(); err != nil {
				s.Log.Errorf("Failed to close event log %v: %v", s.csvLog.Filename(), err)
			}
		}
	})
}

// RecentEvents returns the most recently closed events of this run, oldest first
func (s *Server) RecentEvents() []segmenter.Event {
	s.recentLock.Lock()
	defer s.recentLock.Unlock()
	events := make([]segmenter.Event, 0, s.recentEvents.Len())
	for i := 0; i < s.recentEvents.Len(); i++ {
		events = append(events, s.recentEvents.Peek(i))
	}
	return events
}

// Totals returns the running totals over every event that has closed during this run
func (s *Server) Totals() RunTotals {
	s.recentLock.Lock()
	defer s.recentLock.Unlock()
	return s.totals
}

// Summary describes the most recent events of this run (at most recentEventsSize).
// For a long run, use Totals for the whole run.
func (s *Server) Summary() eventdb.Summary {
	recent := s.RecentEvents()
	events := make([]*segmenter.Event, len(recent))
	for i := range recent {
		events[i] = &recent[i]
	}
	return eventdb.Summarize(events)
}
