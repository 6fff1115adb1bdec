package models

import "time"

// SeriesState is a versioned, append-only snapshot of a series' narrative
// memory. Exactly one row per series carries IsCurrent=true; creating a new
// state never mutates an old one; it inserts the next version and flips
// the flag in the same transaction.
type SeriesState struct {
	ID             int64
	SerieID        int64
	Version        int
	IsCurrent      bool
	WorldState     string
	OpenThreads    string
	LastMajorEvent string
	Summary        string // bounded compression, cached for future prompts
	CreatedByStage string
	SourceEpisode  int
	CreatedAt      time.Time
}

// SeriesEpisode carries the per-episode fields populated incrementally by
// the narrative pipeline stages. A stage must find its predecessor field
// populated or fail fast; reruns resume from the last completed stage.
type SeriesEpisode struct {
	ID             int64
	SerieID        int64
	Episode        int
	StoryID        int64
	CanonEvents    string
	DeltaJSON      string
	StateIn        string
	StateOut       string
	OpenThreadsOut string
	RecapText      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
