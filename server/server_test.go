package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/behave/pkg/nn"
	"github.com/cyclopcam/behave/server/config"
	"github.com/cyclopcam/behave/server/eventdb"
	"github.com/cyclopcam/behave/server/monitor"
	"github.com/cyclopcam/behave/server/notifications"
	"github.com/cyclopcam/behave/server/segmenter"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// Two drinking bouts, far enough apart that they are separate events
func twoBouts() []*nn.DetectionResult {
	faucet := nn.ObjectDetection{Class: "Water-faucets", Confidence: 0.9, Box: nn.MakeBox(80, 40, 120, 60)}
	frames := []*nn.DetectionResult{}
	for i := 0; i < 60; i++ {
		res := &nn.DetectionResult{Frame: int64(i), Objects: []nn.ObjectDetection{faucet}}
		switch {
		case i == 0 || i == 30:
			res.Objects = append(res.Objects, nn.ObjectDetection{Class: "Pig-standing", Confidence: 0.8, Box: nn.MakeBox(0, 0, 100, 100)})
		case (i >= 1 && i <= 4) || (i >= 31 && i <= 34):
			res.Objects = append(res.Objects, nn.ObjectDetection{Class: "Pig-standing", Confidence: 0.8, Box: nn.MakeBox(3, 2, 103, 102)})
		}
		frames = append(frames, res)
	}
	return frames
}

func testConfig(dir string) *config.Config {
	c := config.Default()
	c.FrameRate = 10
	c.SamplingRate = 10
	c.BaseExtensionFrames = 5
	c.ExtensionIncrementFrames = 0
	c.Output.EventLog = filepath.Join(dir, "events.csv")
	dbc := dbh.MakeSqliteConfig(filepath.Join(dir, "db", "events.sqlite"))
	c.Output.EventDB = &dbc
	return c
}

func get(t *testing.T, s *Server, url string, out any) int {
	req := httptest.NewRequest("GET", url, nil)
	rec := httptest.NewRecorder()
	s.httpRouter.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestServer(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	s, err := NewServer(logs.NewTestingLog(t), cfg, "test-video")
	require.NoError(t, err)
	require.Nil(t, s.notifier)

	require.NoError(t, s.Run(context.Background(), &monitor.SliceSource{Frames: twoBouts()}))

	// In-memory events
	events := []segmenter.Event{}
	require.Equal(t, http.StatusOK, get(t, s, "/api/events", &events))
	require.Len(t, events, 2)
	require.Equal(t, int64(30), events[0].StartFrame) // newest first
	require.Equal(t, int64(1), events[1].StartFrame)
	require.Equal(t, int64(10), events[1].EndFrame)

	require.Equal(t, http.StatusOK, get(t, s, "/api/events?limit=1", &events))
	require.Len(t, events, 1)

	// Status
	st := monitor.Status{}
	require.Equal(t, http.StatusOK, get(t, s, "/api/status", &st))
	require.Equal(t, int64(2), st.EventsEmitted)
	require.Equal(t, int64(60), st.FramesTotal)

	// Aggregate DB
	s.eventDB.Flush()
	require.Eventually(t, func() bool {
		n, err := s.eventDB.Count(s.eventDB.RunID())
		return err == nil && n == 2
	}, 5*time.Second, 10*time.Millisecond)
	history := []*eventdb.Event{}
	require.Equal(t, http.StatusOK, get(t, s, "/api/history?limit=10", &history))
	require.Len(t, history, 2)
	require.Equal(t, "test-video", history[0].Source)
	require.Equal(t, "Drinking", history[0].Behavior)

	sum := eventdb.Summary{}
	require.Equal(t, http.StatusOK, get(t, s, "/api/summary", &sum))
	require.Equal(t, 2, sum.NumEvents)
	require.Equal(t, 2, sum.ByBehavior["Drinking"])

	notif := notificationsJSON{}
	require.Equal(t, http.StatusOK, get(t, s, "/api/notifications", &notif))
	require.False(t, notif.Enabled)

	s.Close()
	s.Close()

	// Per-run CSV log
	logged, err := eventdb.ReadCSVLog(cfg.Output.EventLog, cfg.FrameRate)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	require.Equal(t, int64(1), logged[0].StartFrame)
	require.Equal(t, int64(10), logged[0].EndFrame)
	require.Equal(t, int64(30), logged[1].StartFrame)
}

func TestServerWithoutOutputs(t *testing.T) {
	cfg := config.Default()
	cfg.Output.EventLog = ""
	cfg.Output.EventDB = nil
	cfg.MQTT.Password = "secret"
	s, err := NewServer(logs.NewTestingLog(t), cfg, "nothing")
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, http.StatusBadRequest, get(t, s, "/api/history", nil))

	c := config.Config{}
	require.Equal(t, http.StatusOK, get(t, s, "/api/config", &c))
	require.Equal(t, "********", c.MQTT.Password)
	require.Equal(t, "secret", cfg.MQTT.Password)

	// An event with no outputs configured only goes to memory
	s.OnEvent(&segmenter.Event{StartFrame: 5, EndFrame: 9, Behavior: "Drinking", FrameRate: 25})
	require.Len(t, s.RecentEvents(), 1)
}

func TestStop(t *testing.T) {
	cfg := config.Default()
	cfg.Output.EventLog = ""
	s, err := NewServer(logs.NewTestingLog(t), cfg, "stop")
	require.NoError(t, err)
	defer s.Close()

	// A source that never ends on its own
	s.Stop()
	err = s.Run(context.Background(), &endlessSource{})
	require.NoError(t, err)
}

type endlessSource struct {
	frame int64
}

func (e *endlessSource) Next(ctx context.Context) (*nn.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.frame++
	return &nn.DetectionResult{Frame: e.frame}, nil
}

func TestStopWhileInputIdle(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Output.EventLog = ""
	cfg.Output.EventDB = nil
	s, err := NewServer(logs.NewTestingLog(t), cfg, "pipe")
	require.NoError(t, err)
	defer s.Close()

	pr, pw := io.Pipe()
	defer pw.Close()
	src := monitor.NewJSONLSource(logs.NewTestingLog(t), "pipe", pr)
	defer src.Close()
	go func() {
		// The pig reaches the faucet on frame 1, and then the input goes quiet
		pw.Write([]byte(`{"frame":0,"objects":[{"class":"Water-faucets","box":[80,40,120,60],"confidence":0.9},{"class":"Pig-standing","box":[0,0,100,100],"confidence":0.8}]}` + "\n"))
		pw.Write([]byte(`{"frame":1,"objects":[{"class":"Water-faucets","box":[80,40,120,60],"confidence":0.9},{"class":"Pig-standing","box":[3,2,103,102],"confidence":0.8}]}` + "\n"))
	}()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), src)
	}()
	require.Eventually(t, func() bool {
		return s.Monitor.Status().FramesTotal == 2
	}, 5*time.Second, 5*time.Millisecond)
	s.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	// The open event was flushed
	events := s.RecentEvents()
	require.Len(t, events, 1)
	require.Equal(t, int64(1), events[0].StartFrame)
	require.Equal(t, int64(1), events[0].EndFrame)
}

// Records messages for the notifier
type memoryPublisher struct {
	lock   sync.Mutex
	topics []string
}

func (m *memoryPublisher) Publish(topic string, payload []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.topics = append(m.topics, topic)
	return nil
}

func (m *memoryPublisher) NumMessages() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.topics)
}

// Passes everything through to the test log, and remembers the errors
type errorRecorder struct {
	logs.Log
	lock   sync.Mutex
	errors []string
}

func (e *errorRecorder) Errorf(format string, a ...any) {
	e.lock.Lock()
	e.errors = append(e.errors, fmt.Sprintf(format, a...))
	e.lock.Unlock()
	e.Log.Errorf(format, a...)
}

func (e *errorRecorder) Errors() []string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]string{}, e.errors...)
}

func TestEventLogFailureDoesNotStopOtherOutputs(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	log := &errorRecorder{Log: logs.NewTestingLog(t)}
	s, err := NewServer(log, cfg, "broken-disk")
	require.NoError(t, err)
	defer s.Close()

	pub := &memoryPublisher{}
	settings := notifications.DefaultSettings()
	settings.MinPause = time.Millisecond
	settings.MaxPause = 10 * time.Millisecond
	s.notifier = notifications.NewNotifier(log, pub, settings)

	// Every write to the event log now fails
	require.NoError(t, s.csvLog.Close())

	require.NoError(t, s.Run(context.Background(), &monitor.SliceSource{Frames: twoBouts()}))

	// Both events were written off as far as the event log is concerned...
	failures := 0
	for _, msg := range log.Errors() {
		if strings.Contains(msg, "Failed to write event") {
			failures++
		}
	}
	require.Equal(t, 2, failures)

	// ...but every other output still saw both of them
	require.Len(t, s.RecentEvents(), 2)
	require.Equal(t, 2, s.Totals().NumEvents)
	require.Equal(t, int64(60), s.Monitor.Status().FramesTotal)
	require.Equal(t, int64(2), s.Monitor.Status().EventsEmitted)

	s.eventDB.Flush()
	require.Eventually(t, func() bool {
		n, err := s.eventDB.Count(s.eventDB.RunID())
		return err == nil && n == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return pub.NumMessages() == 2
	}, 5*time.Second, time.Millisecond)
}

func TestRunTotals(t *testing.T) {
	cfg := config.Default()
	cfg.Output.EventLog = ""
	cfg.Output.EventDB = nil
	s, err := NewServer(logs.NewTestingLog(t), cfg, "totals")
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, "No events", s.Totals().String())

	// More events than the in-memory history can hold
	n := recentEventsSize + 10
	for i := 0; i < n; i++ {
		start := int64(i * 100)
		s.OnEvent(&segmenter.Event{StartFrame: start, EndFrame: start + 50, Behavior: "Drinking", FrameRate: 10})
	}
	s.OnEvent(&segmenter.Event{StartFrame: 1000000, EndFrame: 1000600, Behavior: "Drinking", FrameRate: 10})

	totals := s.Totals()
	require.Equal(t, n+1, totals.NumEvents)
	require.InDelta(t, float64(n)*5/60+1, totals.TotalMinutes, 1e-9)
	require.Equal(t, 60.0, totals.LongestSeconds)
	require.Len(t, s.RecentEvents(), recentEventsSize)
	require.Equal(t, recentEventsSize, s.Summary().NumEvents)
}
