package subtitles

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TrackInfo describes one subtitle file available for a playable file.
type TrackInfo struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

// Track files live under <dir>/<itemID>/ and are named
// <media filename without extension>.<label>.srt. A bare
// <media filename without extension>.srt is the "default" track.

// TrackPath returns where a track for (itemID, filename, label) lives. The
// "default" label resolves to the bare <base>.srt when that file exists, so
// the labels ListTracks reports always resolve back to a real file.
func TrackPath(dir, itemID, filename, label string) string {
	base := sanitizeName(strings.TrimSuffix(filename, filepath.Ext(filename)))
	itemDir := filepath.Join(dir, sanitizeName(itemID))

	if label == "default" {
		bare := filepath.Join(itemDir, base+".srt")
		if _, err := os.Stat(bare); err == nil {
			return bare
		}
	}

	name := fmt.Sprintf("%s.%s.srt", base, sanitizeName(label))
	return filepath.Join(itemDir, name)
}

// ListTracks enumerates the subtitle tracks on disk for one playable file,
// sorted by label. A missing item directory yields an empty list, not an
// error.
func ListTracks(dir, itemID, filename string) ([]TrackInfo, error) {
	itemDir := filepath.Join(dir, sanitizeName(itemID))
	entries, err := os.ReadDir(itemDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read track directory: %w", err)
	}

	base := sanitizeName(strings.TrimSuffix(filename, filepath.Ext(filename)))
	prefix := base + "."

	var tracks []TrackInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), ".srt") {
			continue
		}

		stem := strings.TrimSuffix(name, filepath.Ext(name))
		switch {
		case stem == base:
			tracks = append(tracks, TrackInfo{Label: "default", Path: filepath.Join(itemDir, name)})
		case strings.HasPrefix(stem, prefix):
			tracks = append(tracks, TrackInfo{Label: stem[len(prefix):], Path: filepath.Join(itemDir, name)})
		}
	}

	sort.Slice(tracks, func(i, j int) bool { return tracks[i].Label < tracks[j].Label })
	return tracks, nil
}

// sanitizeName keeps track paths inside the track directory regardless of
// what the client sends as item or label.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
