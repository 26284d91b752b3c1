// Package observability aggregates relay counters for the stats endpoint.
package observability

import (
	"runtime"
	"sync/atomic"
	"time"
)

// StatsSnapshot aggregates relay metrics for the HTTP API.
type StatsSnapshot struct {
	SessionsOnline   int64   `json:"sessions_online"`
	TotalConnected   uint64  `json:"total_connected"`
	TotalIdentified  uint64  `json:"total_identified"`
	MessagesRelayed  uint64  `json:"messages_relayed"`
	EventsDropped    uint64  `json:"events_dropped"`
	StorageFailures  uint64  `json:"storage_failures"`
	AllocMemMb       uint64  `json:"alloc_mem_mb"`
	NumGC            uint32  `json:"num_gc"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// Stats tracks relay activity with atomic counters so hot paths never
// contend on a lock.
type Stats struct {
	startedAt time.Time

	sessionsOnline  int64
	totalConnected  uint64
	totalIdentified uint64
	messagesRelayed uint64
	eventsDropped   uint64
	storageFailures uint64
}

func NewStats() *Stats {
	return &Stats{startedAt: time.Now().UTC()}
}

func (s *Stats) IncrConnected() {
	atomic.AddUint64(&s.totalConnected, 1)
	atomic.AddInt64(&s.sessionsOnline, 1)
}

func (s *Stats) IncrIdentified() {
	atomic.AddUint64(&s.totalIdentified, 1)
}

func (s *Stats) IncrDisconnected() {
	atomic.AddInt64(&s.sessionsOnline, -1)
}

func (s *Stats) IncrMessagesRelayed() {
	atomic.AddUint64(&s.messagesRelayed, 1)
}

func (s *Stats) IncrEventsDropped() {
	atomic.AddUint64(&s.eventsDropped, 1)
}

func (s *Stats) IncrStorageFailures() {
	atomic.AddUint64(&s.storageFailures, 1)
}

func (s *Stats) StorageFailures() uint64 {
	return atomic.LoadUint64(&s.storageFailures)
}

func (s *Stats) Snapshot() StatsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return StatsSnapshot{
		SessionsOnline:  atomic.LoadInt64(&s.sessionsOnline),
		TotalConnected:  atomic.LoadUint64(&s.totalConnected),
		TotalIdentified: atomic.LoadUint64(&s.totalIdentified),
		MessagesRelayed: atomic.LoadUint64(&s.messagesRelayed),
		EventsDropped:   atomic.LoadUint64(&s.eventsDropped),
		StorageFailures: atomic.LoadUint64(&s.storageFailures),
		AllocMemMb:      mem.Alloc / 1024 / 1024,
		NumGC:           mem.NumGC,
		UptimeSeconds:   time.Since(s.startedAt).Seconds(),
	}
}
