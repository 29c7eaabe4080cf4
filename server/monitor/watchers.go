package monitor

import (
	"github.com/cyclopcam/lookout/pkg/gen"
	"github.com/cyclopcam/lookout/pkg/nn"
)

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// Register to receive every published detection result.
// An empty result is published when detection stops.
func (m *Monitor) AddWatcher() chan *nn.DetectionResult {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	ch := make(chan *nn.DetectionResult, WatcherChannelSize)
	m.watchers = append(m.watchers, ch)
	return ch
}

// Unregister from detection results
func (m *Monitor) RemoveWatcher(ch chan *nn.DetectionResult) {
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

func (m *Monitor) sendToWatchers(result *nn.DetectionResult) {
	m.watchersLock.RLock()
	defer m.watchersLock.RUnlock()
	// We drop results instead of stalling, so that one slow watcher can't hold up the loop
	for _, ch := range m.watchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			m.Log.Warnf("Monitor watcher is falling behind. I am going to drop results.")
		} else {
			ch <- result
		}
	}
}
