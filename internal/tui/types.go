package tui

import "time"

// StatusView is the sync state shown in the header.
type StatusView struct {
	Offline       bool
	Syncing       bool
	QueuedCount   int
	DroppedCount  int
	HasCachedData bool
	CacheAge      time.Duration
	LastSyncAt    time.Time
	Message       string
}

// PendingItem is a queued action row
type PendingItem struct {
	ID         string
	Kind       string
	Attempts   int
	EnqueuedAt time.Time
	LastError  string
}

// SnapshotView is the current conditions panel
type SnapshotView struct {
	City         string
	AQI          int
	PM25         float64
	TemperatureC float64
	Condition    string
	Source       string
	Level        string
	Advice       string
	Category     string
	Cached       bool
	Stale        bool
}

// SessionView is the active simulation
type SessionView struct {
	SessionID     string
	Phase         string
	BaselineAQI   int
	CurrentAQI    int
	TargetAQI     int
	TimeRemaining time.Duration
	Credits       int
	Health        float64
	Energy        float64
	Score         int
	Location      string
	Sheltered     bool
	Actions       int
	Cooldowns     map[string]time.Duration
}
