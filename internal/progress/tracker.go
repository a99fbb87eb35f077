package progress

import (
	"sort"
	"sync"
	"time"

	"intermezzo/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultLimit caps continue-watching/listening results when the caller
	// passes a non-positive limit.
	DefaultLimit = 20

	// CreationFloorSeconds is the minimum position required before a save
	// creates a new record. Updates to an already-tracked key are accepted at
	// any position, so a rewind to the start is never lost. The floor keeps
	// accidental launches out of the resume history.
	CreationFloorSeconds = 10.0
)

// Store is the persistence collaborator for the tracker. PutProgress replaces
// any prior record for the same (ItemID, Filename) key.
type Store interface {
	LoadAllProgress() ([]models.PlaybackProgress, error)
	PutProgress(models.PlaybackProgress) error
	DeleteProgress(itemID, filename string) error
	DeleteItemProgress(itemID string) error
	ClearProgress() error
}

// recordKey uniquely identifies one playable file within one item.
type recordKey struct {
	itemID   string
	filename string
}

// Tracker keeps the authoritative in-memory view of playback progress and
// writes through to the Store. Persistence failures are logged and swallowed;
// the in-memory view may diverge from disk until the next successful write.
//
// All methods are safe for concurrent use, though the expected usage is a
// single logical writer (the active player session) per item.
type Tracker struct {
	mutex   sync.RWMutex
	records map[recordKey]models.PlaybackProgress
	store   Store
	logger  *logrus.Logger
}

// NewTracker creates a tracker seeded from the store. A nil store leaves the
// tracker memory-only, which is how tests and degraded startups run.
func NewTracker(store Store, logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	t := &Tracker{
		records: make(map[recordKey]models.PlaybackProgress),
		store:   store,
		logger:  logger,
	}

	if store != nil {
		recs, err := store.LoadAllProgress()
		if err != nil {
			logger.WithError(err).Warn("Could not load stored progress, starting empty")
		} else {
			for _, rec := range recs {
				t.records[recordKey{rec.ItemID, rec.Filename}] = rec
			}
		}
	}

	return t
}

// SaveProgress upserts the record keyed by (ItemID, Filename).
//
// A record at or past the completion threshold is not stored; any existing
// record for the key is removed instead, so finishing an item clears it from
// the resume rows. Below CreationFloorSeconds a save updates an existing
// record but never creates one. SaveProgress never returns an error; the
// caller is responsible for rejecting invalid durations up front.
func (t *Tracker) SaveProgress(rec models.PlaybackProgress) {
	if rec.LastWatched.IsZero() {
		rec.LastWatched = time.Now()
	}

	k := recordKey{rec.ItemID, rec.Filename}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if rec.IsComplete() {
		// Crossing the threshold acts as an implicit delete.
		delete(t.records, k)
		t.persistDelete(rec.ItemID, rec.Filename)
		return
	}

	if _, exists := t.records[k]; !exists && rec.Position < CreationFloorSeconds {
		return
	}

	t.records[k] = rec
	t.persistPut(rec)
}

// GetProgress returns the record for the exact (itemID, filename) key.
func (t *Tracker) GetProgress(itemID, filename string) (models.PlaybackProgress, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	rec, ok := t.records[recordKey{itemID, filename}]
	return rec, ok
}

// GetItemProgress returns the most recently watched record across all
// filenames for an item. Useful when a multi-file item was paused on an
// unknown file.
func (t *Tracker) GetItemProgress(itemID string) (models.PlaybackProgress, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	var best models.PlaybackProgress
	found := false
	for k, rec := range t.records {
		if k.itemID != itemID {
			continue
		}
		if !found || rec.LastWatched.After(best.LastWatched) {
			best = rec
			found = true
		}
	}
	return best, found
}

// ContinueWatching returns up to limit in-progress video records, most
// recently watched first. Complete records and records with invalid durations
// never appear.
func (t *Tracker) ContinueWatching(limit int) []models.PlaybackProgress {
	return t.continueRows(models.KindVideo, limit)
}

// ContinueListening is ContinueWatching for audio records.
func (t *Tracker) ContinueListening(limit int) []models.PlaybackProgress {
	return t.continueRows(models.KindAudio, limit)
}

func (t *Tracker) continueRows(kind models.MediaKind, limit int) []models.PlaybackProgress {
	if limit <= 0 {
		limit = DefaultLimit
	}

	t.mutex.RLock()
	rows := make([]models.PlaybackProgress, 0, len(t.records))
	for _, rec := range t.records {
		if rec.Kind != kind || !rec.HasValidDuration() || rec.IsComplete() {
			continue
		}
		rows = append(rows, rec)
	}
	t.mutex.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].LastWatched.After(rows[j].LastWatched)
	})

	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// RemoveProgress deletes the record for (itemID, filename). Deleting a
// nonexistent record is a no-op.
func (t *Tracker) RemoveProgress(itemID, filename string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	delete(t.records, recordKey{itemID, filename})
	t.persistDelete(itemID, filename)
}

// RemoveItemProgress deletes all records for an item.
func (t *Tracker) RemoveItemProgress(itemID string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for k := range t.records {
		if k.itemID == itemID {
			delete(t.records, k)
		}
	}

	if t.store == nil {
		return
	}
	if err := t.store.DeleteItemProgress(itemID); err != nil {
		t.logger.WithError(err).WithField("item_id", itemID).Warn("Could not delete item progress from store")
	}
}

// ClearAll empties the entire progress store.
func (t *Tracker) ClearAll() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.records = make(map[recordKey]models.PlaybackProgress)

	if t.store == nil {
		return
	}
	if err := t.store.ClearProgress(); err != nil {
		t.logger.WithError(err).Warn("Could not clear progress store")
	}
}

// PruneBefore drops in-memory records last watched before the cutoff and
// returns how many were removed. Store cleanup is the janitor's job.
func (t *Tracker) PruneBefore(cutoff time.Time) int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	removed := 0
	for k, rec := range t.records {
		if rec.LastWatched.Before(cutoff) {
			delete(t.records, k)
			removed++
		}
	}
	return removed
}

// Count returns the number of tracked records (used by health checks).
func (t *Tracker) Count() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return len(t.records)
}

// persistPut writes through to the store. Must be called with the lock held.
func (t *Tracker) persistPut(rec models.PlaybackProgress) {
	if t.store == nil {
		return
	}
	if err := t.store.PutProgress(rec); err != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"item_id":  rec.ItemID,
			"filename": rec.Filename,
		}).Warn("Could not persist progress record")
	}
}

// persistDelete removes a key from the store. Must be called with the lock held.
func (t *Tracker) persistDelete(itemID, filename string) {
	if t.store == nil {
		return
	}
	if err := t.store.DeleteProgress(itemID, filename); err != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"item_id":  itemID,
			"filename": filename,
		}).Warn("Could not delete progress record from store")
	}
}
