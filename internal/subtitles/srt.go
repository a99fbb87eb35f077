package subtitles

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// SRT time line: 00:02:16,612 --> 00:02:19,376 (a dot separator also appears
// in the wild, so both are accepted).
var srtTimeRe = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2})[,.](\d{1,3})\s*-->\s*(\d{2}):(\d{2}):(\d{2})[,.](\d{1,3})`)

// ParseSRT reads SubRip input into a time-ordered cue list. Blocks whose
// index or time line cannot be parsed are skipped rather than failing the
// whole file; only I/O errors are returned.
func ParseSRT(r io.Reader) ([]Cue, error) {
	var cues []Cue
	scanner := bufio.NewScanner(r)

	var current Cue
	state := "index" // "index", "time", "text"
	var textLines []string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "\uFEFF") // UTF-8 BOM on the first line

		switch state {
		case "index":
			if line == "" {
				continue
			}
			if _, err := strconv.Atoi(line); err != nil {
				continue // skip non-index lines
			}
			state = "time"

		case "time":
			if line == "" {
				continue
			}
			start, end, err := parseSRTTime(line)
			if err != nil {
				// Malformed block, resync on the next index line
				state = "index"
				continue
			}
			current = Cue{Start: start, End: end}
			state = "text"
			textLines = textLines[:0]

		case "text":
			if line == "" {
				// cue text ends
				if len(textLines) > 0 {
					current.Text = strings.Join(textLines, "\n")
					cues = append(cues, current)
				}
				state = "index"
			} else {
				textLines = append(textLines, line)
			}
		}
	}

	// handle last cue block
	if state == "text" && len(textLines) > 0 {
		current.Text = strings.Join(textLines, "\n")
		cues = append(cues, current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtitle input: %w", err)
	}

	return sortCues(cues), nil
}

// LoadSRTFile parses the SRT file at path.
func LoadSRTFile(path string) ([]Cue, error) {
	if !strings.EqualFold(filepath.Ext(path), ".srt") {
		return nil, fmt.Errorf("only SRT subtitle files are supported: %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open subtitle file: %w", err)
	}
	defer file.Close()

	return ParseSRT(file)
}

// parseSRTTime parses one SRT time range line into start/end seconds.
func parseSRTTime(line string) (float64, float64, error) {
	m := srtTimeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid SRT time line: %q", line)
	}

	start := srtSeconds(m[1], m[2], m[3], m[4])
	end := srtSeconds(m[5], m[6], m[7], m[8])
	return start, end, nil
}

// srtSeconds converts matched hh/mm/ss/ms groups to seconds. The groups are
// regexp-validated digits, so the Atoi calls cannot fail.
func srtSeconds(hh, mm, ss, ms string) float64 {
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	s, _ := strconv.Atoi(ss)
	// Pad to milliseconds: "6" means 600ms, not 6ms
	for len(ms) < 3 {
		ms += "0"
	}
	f, _ := strconv.Atoi(ms)
	return float64(h)*3600 + float64(m)*60 + float64(s) + float64(f)/1000
}
