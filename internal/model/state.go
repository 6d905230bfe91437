package model

import (
	"maps"
	"slices"
	"time"
)

// Statistic counter names.
const (
	StatProcessed = "emails_processed"
	StatSent      = "replies_sent"
	StatSkipped   = "emails_skipped"
)

// Identity describes the assistant persona.
type Identity struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	Tone      string    `json:"tone"`
	SignOff   string    `json:"sign_off"`
	Model     string    `json:"model"`
}

// Stats holds monotonic counters and the process start time used for
// uptime computation.
type Stats struct {
	Counters    map[string]int64 `json:"counters"`
	UptimeStart time.Time        `json:"uptime_start"`
}

// Get returns the named counter, zero if it was never incremented.
func (s Stats) Get(name string) int64 {
	return s.Counters[name]
}

// SenderRecord aggregates contacts from one distinct sender.
type SenderRecord struct {
	Name        string    `json:"name"`
	Channel     string    `json:"channel"`
	LastSeen    time.Time `json:"last_seen"`
	LastSubject string    `json:"last_subject"`
	Count       int64     `json:"count"`
}

// MemoryFact is a remembered value used to personalize replies.
type MemoryFact struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LogEntry is one line of the diagnostic log.
type LogEntry struct {
	TS      time.Time `json:"ts"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Snapshot is the whole durable state of the gateway.
type Snapshot struct {
	Identity Identity                `json:"identity"`
	Stats    Stats                   `json:"stats"`
	Memory   map[string]MemoryFact   `json:"memory"`
	Senders  map[string]SenderRecord `json:"senders"`
	Activity []Outcome               `json:"activity"`
	Logs     []LogEntry              `json:"logs"`
}

// NewSnapshot returns the empty default state for the given identity.
func NewSnapshot(identity Identity, now time.Time) *Snapshot {
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	return &Snapshot{
		Identity: identity,
		Stats: Stats{
			Counters: map[string]int64{
				StatProcessed: 0,
				StatSent:      0,
				StatSkipped:   0,
			},
			UptimeStart: now,
		},
		Memory:   map[string]MemoryFact{},
		Senders:  map[string]SenderRecord{},
		Activity: []Outcome{},
		Logs:     []LogEntry{},
	}
}

// Normalize fills nil collections left by a partial durable record.
func (s *Snapshot) Normalize() {
	if s.Stats.Counters == nil {
		s.Stats.Counters = map[string]int64{}
	}
	if s.Memory == nil {
		s.Memory = map[string]MemoryFact{}
	}
	if s.Senders == nil {
		s.Senders = map[string]SenderRecord{}
	}
	if s.Activity == nil {
		s.Activity = []Outcome{}
	}
	if s.Logs == nil {
		s.Logs = []LogEntry{}
	}
}

// Clone returns a deep copy safe to hand out to readers.
func (s *Snapshot) Clone() Snapshot {
	c := Snapshot{
		Identity: s.Identity,
		Stats: Stats{
			Counters:    maps.Clone(s.Stats.Counters),
			UptimeStart: s.Stats.UptimeStart,
		},
		Memory:   maps.Clone(s.Memory),
		Senders:  maps.Clone(s.Senders),
		Activity: slices.Clone(s.Activity),
		Logs:     slices.Clone(s.Logs),
	}
	for i := range c.Activity {
		c.Activity[i].Metadata = maps.Clone(c.Activity[i].Metadata)
	}
	return c
}
