// Package models contains the domain structs shared across the pipeline,
// queue, and storage layers. Persistence rows map onto these at the boundary.
package models

import "time"

// Story is one generated narrative unit. A story may belong to a series,
// in which case SerieID and Episode are set.
type Story struct {
	ID            int64
	SerieID       *int64
	Episode       *int
	Title         string
	Folder        string
	Text          string // raw source text
	AnnotatedText string // deterministic rebuild of Text + tag set

	// AutoLaunch enables enqueuing the next pipeline stage after a
	// successful run. DeleteNextItems suppresses it even when set.
	AutoLaunch      bool
	DeleteNextItems bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Serie groups episodes that share a persistent world state.
type Serie struct {
	ID        int64
	Title     string
	CreatedAt time.Time
}
