package subtitles

import "sort"

// Cue is a single timed text fragment. Start and End are offsets in seconds
// into the media timeline. Cues are immutable once parsed; a track's full cue
// list is swapped atomically when the user changes subtitle track.
type Cue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ActiveAt reports whether the cue is on screen at time t. The interval is
// half-open (Start <= t < End), so a cue with Start == End is never active.
func (c Cue) ActiveAt(t float64) bool {
	return c.Start <= t && t < c.End
}

// sortCues returns a copy of cues stable-sorted by start time. Keeping the
// list time-ordered lets the scheduler's scan short-circuit; the stable sort
// preserves source order among cues sharing a start, which is what decides
// overlap resolution (earliest start wins, source order breaks ties).
func sortCues(cues []Cue) []Cue {
	sorted := make([]Cue, len(cues))
	copy(sorted, cues)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})
	return sorted
}
