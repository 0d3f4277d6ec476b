package monitor

import "github.com/cyclopcam/behave/pkg/gen"

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// Register to receive the analysis of every sampled frame
func (m *Monitor) AddWatcher() chan *FrameState {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	ch := make(chan *FrameState, WatcherChannelSize)
	m.watchers = append(m.watchers, ch)
	return ch
}

// Unregister a channel that was returned by AddWatcher
func (m *Monitor) RemoveWatcher(ch chan *FrameState) {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	for i, w := range m.watchers {
		if w == ch {
			m.watchers = gen.DeleteFromSliceUnordered(m.watchers, i)
			return
		}
	}
	m.Log.Warnf("Monitor.RemoveWatcher failed to find channel")
}

func (m *Monitor) sendToWatchers(state *FrameState) {
	m.watchersLock.RLock()
	// We drop frames rather than stall, so that a slow watcher can never hold up the frame loop.
	for _, ch := range m.watchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			m.Log.Warnf("Monitor watcher is falling behind. I am going to drop frames.")
		} else {
			ch <- state
		}
	}
	m.watchersLock.RUnlock()
}
