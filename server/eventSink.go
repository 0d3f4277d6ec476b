package server

import (
	"github.com/cyclopcam/behave/server/segmenter"
)

// OnEvent fans a closed event out to every output.
// A failing output is logged, and never stops the analysis.
func (s *Server) OnEvent(ev *segmenter.Event) {
	s.recentLock.Lock()
	s.recentEvents.Add(*ev)
	s.totals.add(ev)
	s.recentLock.Unlock()

	if s.csvLog != nil {
		if err := s.csvLog.Write(ev); err != nil {
			s.Log.Errorf("Failed to write event to %v: %v", s.csvLog.Filename(), err)
		}
	}
	if s.eventDB != nil {
		s.eventDB.Add(ev)
	}
	if s.notifier != nil {
		s.notifier.Notify(ev)
	}
}
