package metadata

import (
	"testing"

	"intermezzo/pkg/models"
)

func TestProber(t *testing.T) {
	supportedFormats := []string{".mp3", ".flac", ".wav", ".m4a", ".mp4", ".mkv"}
	prober := NewProber(supportedFormats, nil)

	t.Run("IsMediaFile", func(t *testing.T) {
		testCases := []struct {
			filename string
			expected bool
		}{
			{"song.mp3", true},
			{"song.MP3", true},
			{"song.flac", true},
			{"episode.mp4", true},
			{"episode.MKV", true},
			{"notes.txt", false},
			{"cover.jpg", false},
			{"song", false},
			{"", false},
		}

		for _, tc := range testCases {
			result := prober.IsMediaFile(tc.filename)
			if result != tc.expected {
				t.Errorf("IsMediaFile(%s): expected %v, got %v", tc.filename, tc.expected, result)
			}
		}
	})

	t.Run("ContentType", func(t *testing.T) {
		testCases := []struct {
			filename string
			expected string
		}{
			{"song.mp3", "audio/mpeg"},
			{"song.FLAC", "audio/flac"},
			{"song.wav", "audio/wav"},
			{"song.m4a", "audio/mp4"},
			{"episode.mp4", "video/mp4"},
			{"episode.mkv", "video/x-matroska"},
			{"episode.webm", "video/webm"},
			{"notes.txt", "application/octet-stream"},
		}

		for _, tc := range testCases {
			result := ContentType(tc.filename)
			if result != tc.expected {
				t.Errorf("ContentType(%s): expected %s, got %s", tc.filename, tc.expected, result)
			}
		}
	})

	t.Run("KindForPath", func(t *testing.T) {
		if got := KindForPath("album/track.flac"); got != models.KindAudio {
			t.Errorf("Expected audio kind, got %s", got)
		}
		if got := KindForPath("show/episode.mkv"); got != models.KindVideo {
			t.Errorf("Expected video kind, got %s", got)
		}
	})

	t.Run("ArtworkMimeType", func(t *testing.T) {
		testCases := []struct {
			name     string
			data     []byte
			expected string
		}{
			{"JPEG", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
			{"PNG", []byte{0x89, 0x50, 0x4E, 0x47}, "image/png"},
			{"GIF", []byte{0x47, 0x49, 0x46, 0x38}, "image/gif"},
			{"Unknown", []byte{0x00, 0x00, 0x00, 0x00}, "application/octet-stream"},
			{"TooShort", []byte{0xFF}, "application/octet-stream"},
			{"Empty", []byte{}, "application/octet-stream"},
		}

		for _, tc := range testCases {
			if got := ArtworkMimeType(tc.data); got != tc.expected {
				t.Errorf("ArtworkMimeType(%s): expected %s, got %s", tc.name, tc.expected, got)
			}
		}
	})

	t.Run("ArtworkKey", func(t *testing.T) {
		if got := ArtworkKey("abc123"); got != "artwork://abc123" {
			t.Errorf("Unexpected artwork key: %s", got)
		}
	})

	t.Run("DeriveItemIDIsStable", func(t *testing.T) {
		a := deriveItemID("/library/Some Show/e01.mkv")
		b := deriveItemID("/library/Some Show/e02.mkv")
		c := deriveItemID("/library/Other Show/e01.mkv")

		if a != b {
			t.Error("Expected files in the same directory to share an item ID")
		}
		if a == c {
			t.Error("Expected different directories to get different item IDs")
		}
	})
}
