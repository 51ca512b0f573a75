package domain

import "time"

// UserSyncStats holds statistics about a single user's sync.
type UserSyncStats struct {
	UserID       string        `json:"user_id"`
	Branch       string        `json:"branch"`
	From         *time.Time    `json:"from,omitempty"`
	To           *time.Time    `json:"to,omitempty"`
	Windows      int           `json:"windows"`
	EmptyWindows int           `json:"empty_windows"`
	Summaries    int           `json:"summaries"`
	Samples      int           `json:"samples"`
	Duration     time.Duration `json:"duration"`
}

// SyncStats holds statistics about a sync run over all users.
type SyncStats struct {
	SourceID  string
	Users     int
	Succeeded int
	Failed    int
	Summaries int
	Samples   int
	Published int
	Duration  time.Duration
}

// SyncEvent announces that new activity data was stored for a user.
type SyncEvent struct {
	SourceID  string    `json:"source_id"`
	UserID    string    `json:"user_id"`
	Branch    string    `json:"branch"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Summaries int       `json:"summaries"`
	Samples   int       `json:"samples"`
	SyncedAt  time.Time `json:"synced_at"`
}
