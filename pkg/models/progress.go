package models

import (
	"math"
	"time"
)

// MediaKind distinguishes video from audio playback records.
type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
)

// IsValid reports whether the kind is one of the two known values.
func (k MediaKind) IsValid() bool {
	return k == KindVideo || k == KindAudio
}

// CompletionThreshold is the position/duration ratio past which a playback
// record counts as finished and is no longer kept for resume purposes.
const CompletionThreshold = 0.95

// PlaybackProgress represents resume state for one playable file within one
// library item. Records are uniquely keyed by (ItemID, Filename); saving a new
// record for the same key replaces the old one.
type PlaybackProgress struct {
	ItemID      string    `json:"itemId"`
	Filename    string    `json:"filename"`
	Position    float64   `json:"position"` // in seconds
	Duration    float64   `json:"duration"` // in seconds
	Kind        MediaKind `json:"kind"`
	LastWatched time.Time `json:"lastWatched"`
	Title       string    `json:"title,omitempty"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	TrackIndex  int       `json:"trackIndex,omitempty"` // audio only
}

// HasValidDuration reports whether Duration is a positive, finite number.
// Records failing this never appear in continue-watching/listening rows.
func (p PlaybackProgress) HasValidDuration() bool {
	return p.Duration > 0 && !math.IsNaN(p.Duration) && !math.IsInf(p.Duration, 0)
}

// IsComplete reports whether the record crossed the completion threshold.
func (p PlaybackProgress) IsComplete() bool {
	return p.HasValidDuration() && p.Position/p.Duration >= CompletionThreshold
}
