package notifications

import (
	"sync"
	"time"
)

const defaultJournalCapacity = 256

// Journal keeps a bounded in-memory record of delivery attempts. Channels
// are defined by configuration rather than stored rows, so the journal only
// serves diagnostics: recent events and aggregate counts.
type Journal struct {
	mu          sync.Mutex
	events      []Event
	head        int
	size        int
	totalSent   int64
	totalFailed int64
	byChannel   map[ChannelType]int64
	byEventType map[EventType]int64
	lastUpdated time.Time
}

// NewJournal creates a journal retaining up to capacity recent events
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = defaultJournalCapacity
	}
	return &Journal{
		events:      make([]Event, capacity),
		byChannel:   make(map[ChannelType]int64),
		byEventType: make(map[EventType]int64),
	}
}

// Record stores a delivery attempt, evicting the oldest event when full
func (j *Journal) Record(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events[j.head] = event
	j.head = (j.head + 1) % len(j.events)
	if j.size < len(j.events) {
		j.size++
	}

	switch event.Status {
	case StatusSent:
		j.totalSent++
		j.byChannel[event.Channel]++
		j.byEventType[event.Type]++
	case StatusFailed:
		j.totalFailed++
	}
	j.lastUpdated = event.CreatedAt
}

// Recent returns up to n events, newest first
func (j *Journal) Recent(n int) []Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	if n <= 0 || n > j.size {
		n = j.size
	}

	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (j.head - 1 - i + len(j.events)) % len(j.events)
		events = append(events, j.events[idx])
	}
	return events
}

// Stats returns aggregate delivery counts
func (j *Journal) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()

	byChannel := make(map[ChannelType]int64, len(j.byChannel))
	for channelType, count := range j.byChannel {
		byChannel[channelType] = count
	}
	byEventType := make(map[EventType]int64, len(j.byEventType))
	for eventType, count := range j.byEventType {
		byEventType[eventType] = count
	}

	return Stats{
		TotalSent:   j.totalSent,
		TotalFailed: j.totalFailed,
		ByChannel:   byChannel,
		ByEventType: byEventType,
		LastUpdated: j.lastUpdated,
	}
}
