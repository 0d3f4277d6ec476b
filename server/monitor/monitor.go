// Package monitor runs the per-frame analysis pipeline.
//
// For every sampled frame:
//
//	detections -> validate and merge -> select candidates -> estimate motion
//	-> classify -> commit motion -> segment -> emit closed events
//
// The pipeline is single threaded. Each frame is fully processed before the next one is read.
// Only the status snapshot is shared with other threads (eg the HTTP API).
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/behave/pkg/nn"
	"github.com/cyclopcam/behave/pkg/perfstats"
	"github.com/cyclopcam/behave/server/behavior"
	"github.com/cyclopcam/behave/server/config"
	"github.com/cyclopcam/behave/server/motion"
	"github.com/cyclopcam/behave/server/segmenter"
	"github.com/cyclopcam/logs"
)

// Number of recent frame states that we keep for the status API. Must be a power of 2.
const recentFramesSize = 64

// EventListener receives every closed event.
// OnEvent is called on the frame loop, so it must not block for long, and it must deal
// with its own errors.
type EventListener interface {
	OnEvent(ev *segmenter.Event)
}

// FrameState is the result of analyzing one frame
type FrameState struct {
	Frame      int64                 `json:"frame"`
	NumObjects int                   `json:"numObjects"` // Number of valid objects after merging
	NumDropped int                   `json:"numDropped"` // Number of malformed objects that were dropped
	Subject    *behavior.Participant `json:"subject"`
	Movement   nn.Vector             `json:"movement"`
	Decision   behavior.Decision     `json:"decision"`
	Open       bool                  `json:"open"` // True if an event is open after this frame
}

type Monitor struct {
	Log logs.Log

	// Frame loop state. Only touched by the frame loop.
	cfg            *config.Config
	sampleInterval int64
	roles          behavior.Roles
	behavior       behavior.Settings
	estimator      *motion.Estimator
	classifier     *behavior.Classifier
	confirmer      *behavior.ClassConfirmer // nil if there is no confirmation class
	segmenter      *segmenter.Segmenter
	listeners      []EventListener
	lastFrame      int64

	statusLock sync.Mutex // Guards everything below
	status     Status
	frameTime  perfstats.TimeAccumulator
	recent     ringbuffer.RingP[FrameState]

	watchersLock sync.RWMutex // Guards access to watchers
	watchers     []chan *FrameState
}

// Status is a snapshot of the monitor, for display and diagnostics
type Status struct {
	FramesTotal       int64             `json:"framesTotal"`       // Frames that we've seen
	FramesProcessed   int64             `json:"framesProcessed"`   // Frames that were on the sampling grid, and were analyzed
	ActiveFrames      int64             `json:"activeFrames"`      // Analyzed frames where the behavior was active
	DetectionsDropped int64             `json:"detectionsDropped"` // Malformed detections
	EventsEmitted     int64             `json:"eventsEmitted"`
	LastFrame         int64             `json:"lastFrame"`
	OpenEvent         *segmenter.Event  `json:"openEvent"` // nil if no event is open
	SubjectMotion     motion.SlotState  `json:"subjectMotion"`
	FrameTime         perfstats.Timings `json:"frameTime"` // Time to analyze one frame
	Recent            []FrameState      `json:"recent"`    // Most recent frames, oldest first
}

func NewMonitor(logger logs.Log, cfg *config.Config) *Monitor {
	estimator := motion.NewEstimator(cfg.MotionSettings())
	m := &Monitor{
		Log:            logs.NewPrefixLogger(logger, "Monitor"),
		cfg:            cfg,
		sampleInterval: cfg.SampleInterval(),
		roles:          cfg.Roles(),
		behavior:       cfg.BehaviorSettings(),
		estimator:      estimator,
		classifier:     behavior.NewClassifier(cfg.BehaviorSettings(), estimator, motion.SlotSubject),
		confirmer:      cfg.Confirmer(),
		lastFrame:      -1,
		recent:         ringbuffer.NewRingP[FrameState](recentFramesSize),
	}
	// Avoid wrapping a nil *ClassConfirmer inside a non-nil interface
	var confirmer segmenter.Confirmer
	if m.confirmer != nil {
		confirmer = m.confirmer
	}
	m.segmenter = segmenter.NewSegmenter(cfg.SegmenterSettings(), confirmer)
	m.status.LastFrame = -1
	return m
}

// AddListener must be called before Run
func (m *Monitor) AddListener(l EventListener) {
	m.listeners = append(m.listeners, l)
}

// Run processes frames until the source is exhausted, or ctx is cancelled.
// Either way, an open event is force-closed and emitted before Run returns.
// Only a read error from the source is returned.
func (m *Monitor) Run(ctx context.Context, source Source) error {
	m.Log.Infof("Starting. Sampling every %v frames", m.sampleInterval)
	var runErr error
	for {
		res, err := source.Next(ctx)
		if err != nil {
			if !IsEndOfInput(err) {
				m.Log.Errorf("Input failed: %v", err)
				runErr = err
			}
			break
		}
		m.ProcessFrame(res)
	}
	m.Flush()
	st := m.Status()
	m.Log.Infof("Finished. %v frames, %v analyzed, %v events", st.FramesTotal, st.FramesProcessed, st.EventsEmitted)
	return runErr
}

// Flush force-closes the open event, if any, at the last frame seen.
func (m *Monitor) Flush() {
	if ev := m.segmenter.Flush(m.lastFrame); ev != nil {
		m.Log.Infof("Closing event at end of input: %v", ev)
		m.emit(ev)
	}
	m.statusLock.Lock()
	m.status.OpenEvent = nil
	m.statusLock.Unlock()
}

// ProcessFrame analyzes one frame, and returns the event that was closed by this frame, if any.
func (m *Monitor) ProcessFrame(res *nn.DetectionResult) *segmenter.Event {
	start := time.Now()
	m.lastFrame = res.Frame

	if res.Frame%m.sampleInterval != 0 {
		m.statusLock.Lock()
		m.status.FramesTotal++
		m.status.LastFrame = res.Frame
		m.statusLock.Unlock()
		return nil
	}

	objects, numDropped := m.cleanDetections(res)

	if m.confirmer != nil {
		m.confirmer.Observe(res.Frame, objects)
	}

	cand := behavior.SelectCandidates(objects, &m.roles, &m.behavior)

	var decision behavior.Decision
	var movement nn.Vector
	if cand.Subject != nil {
		center := cand.Subject.Box.Center()
		movement = m.estimator.Estimate(motion.SlotSubject, center)
		// The classifier reads the motion state, so we may only commit afterwards
		decision = m.classifier.Classify(&cand, movement)
		m.estimator.Commit(motion.SlotSubject, movement, center)
	} else {
		decision = m.classifier.Classify(&cand, movement)
	}

	snapshot := behavior.Snapshot{}
	if decision.Active && !m.segmenter.IsOpen() {
		snapshot = cand.Snapshot()
	}
	wasOpen := m.segmenter.IsOpen()
	ev := m.segmenter.Step(res.Frame, decision.Active, decision.Behavior, snapshot)
	if !wasOpen && m.segmenter.IsOpen() {
		m.Log.Infof("%v started at frame %v", decision.Behavior, res.Frame)
	}
	for i, c := range decision.Criteria {
		m.Log.Debugf("Frame %v target %v: %v", res.Frame, i, c)
	}
	if ev != nil {
		m.Log.Infof("Event closed: %v", ev)
		m.emit(ev)
	}

	state := &FrameState{
		Frame:      res.Frame,
		NumObjects: len(objects),
		NumDropped: numDropped,
		Movement:   movement,
		Decision:   decision,
		Open:       m.segmenter.IsOpen(),
	}
	if cand.Subject != nil {
		state.Subject = cand.Snapshot().Subject
	}
	m.updateStatus(state, time.Since(start))
	m.sendToWatchers(state)

	return ev
}

// Drop malformed detections, and merge duplicates
func (m *Monitor) cleanDetections(res *nn.DetectionResult) ([]nn.ObjectDetection, int) {
	valid := make([]nn.ObjectDetection, 0, len(res.Objects))
	numDropped := 0
	for i := range res.Objects {
		if err := res.Objects[i].Valid(); err != nil {
			m.Log.Warnf("Frame %v: dropping %v detection: %v", res.Frame, res.Objects[i].Class, err)
			numDropped++
			continue
		}
		valid = append(valid, res.Objects[i])
	}
	if m.cfg.MergeIoU <= 0 || len(valid) < 2 {
		return valid, numDropped
	}
	keep := nn.MergeDuplicates(valid, m.cfg.MergeIoU)
	merged := make([]nn.ObjectDetection, 0, len(keep))
	for _, idx := range keep {
		merged = append(merged, valid[idx])
	}
	return merged, numDropped
}

func (m *Monitor) emit(ev *segmenter.Event) {
	m.statusLock.Lock()
	m.status.EventsEmitted++
	m.statusLock.Unlock()
	for _, l := range m.listeners {
		m.emitTo(l, ev)
	}
}

// A misbehaving listener must not take down the frame loop
func (m *Monitor) emitTo(l EventListener, ev *segmenter.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.Log.Errorf("Event listener panicked: %v", r)
		}
	}()
	l.OnEvent(ev)
}

func (m *Monitor) updateStatus(state *FrameState, elapsed time.Duration) {
	m.statusLock.Lock()
	defer m.statusLock.Unlock()
	m.status.FramesTotal++
	m.status.FramesProcessed++
	m.status.DetectionsDropped += int64(state.NumDropped)
	if state.Decision.Active {
		m.status.ActiveFrames++
	}
	m.status.LastFrame = state.Frame
	if open, ok := m.segmenter.Open(); ok {
		m.status.OpenEvent = &open
	} else {
		m.status.OpenEvent = nil
	}
	m.status.SubjectMotion, _ = m.estimator.Slot(motion.SlotSubject)
	m.frameTime.AddSample(elapsed)
	m.recent.Add(*state)
}

// Status returns a copy of the monitor's current state. Safe to call from any thread.
func (m *Monitor) Status() Status {
	m.statusLock.Lock()
	defer m.statusLock.Unlock()
	s := m.status
	if s.OpenEvent != nil {
		open := *s.OpenEvent
		s.OpenEvent = &open
	}
	s.FrameTime = m.frameTime.Timings()
	s.Recent = make([]FrameState, 0, m.recent.Len())
	for i := 0; i < m.recent.Len(); i++ {
		s.Recent = append(s.Recent, m.recent.Peek(i))
	}
	return s
}
