package match

import "sync"

// PublishLog receives the logs of every committed instruction, in order.
//
// IMPORTANT: Implementations must either:
//  1. Process logs synchronously before returning, OR
//  2. Clone the MarketLog data before returning
//
// The engine recycles MarketLog objects to a sync.Pool after Publish returns,
// so any asynchronous processing must work with cloned data.
type PublishLog interface {
	Publish(...*MarketLog)
}

// cloneLog copies a log so it survives the pool. Data is copied because the
// pooled log may be reused.
func cloneLog(log *MarketLog) *MarketLog {
	cpy := new(MarketLog)
	*cpy = *log
	cpy.Data = append([]byte(nil), log.Data...)
	return cpy
}

// MemoryPublishLog stores logs in memory, useful for testing.
type MemoryPublishLog struct {
	mu   sync.RWMutex
	logs []*MarketLog
}

// NewMemoryPublishLog creates a new MemoryPublishLog.
func NewMemoryPublishLog() *MemoryPublishLog {
	return &MemoryPublishLog{
		logs: make([]*MarketLog, 0),
	}
}

// Publish appends copies of logs.
func (m *MemoryPublishLog) Publish(logs ...*MarketLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, log := range logs {
		m.logs = append(m.logs, cloneLog(log))
	}
}

// Count returns the number of logs stored.
func (m *MemoryPublishLog) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs)
}

// Get returns the log at the specified index.
func (m *MemoryPublishLog) Get(index int) *MarketLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logs[index]
}

// Logs returns a copy of all logs stored.
func (m *MemoryPublishLog) Logs() []*MarketLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logs := make([]*MarketLog, len(m.logs))
	copy(logs, m.logs)
	return logs
}

// OfType returns the stored logs of one type.
func (m *MemoryPublishLog) OfType(typ string) []*MarketLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*MarketLog, 0)
	for _, log := range m.logs {
		if string(log.Type) == typ {
			out = append(out, log)
		}
	}
	return out
}

// DiscardPublishLog discards all logs, useful for benchmarking.
type DiscardPublishLog struct{}

// NewDiscardPublishLog creates a new DiscardPublishLog.
func NewDiscardPublishLog() *DiscardPublishLog {
	return &DiscardPublishLog{}
}

// Publish does nothing.
func (p *DiscardPublishLog) Publish(logs ...*MarketLog) {}
