package metadata

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"intermezzo/pkg/models"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
)

// ArtworkKey builds the image-cache key for embedded artwork. Artwork lives
// in the same memory tier as remote images, under a scheme that can never
// collide with a real URL.
func ArtworkKey(artID string) string {
	return "artwork://" + artID
}

// ArtworkStore receives embedded artwork extracted during probing.
// The image cache satisfies this.
type ArtworkStore interface {
	Set(key string, data []byte)
}

// Prober extracts duration, title and artwork from local media files. The
// probed duration is what progress saves are validated against, so probing
// is best-effort and never invents a duration it couldn't measure.
type Prober struct {
	supportedFormats []string
	artwork          ArtworkStore
	logger           *logrus.Logger
}

// NewProber creates a metadata prober. artwork may be nil, in which case
// embedded pictures are only flagged, not stored.
func NewProber(supportedFormats []string, artwork ArtworkStore) *Prober {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Prober{
		supportedFormats: supportedFormats,
		artwork:          artwork,
		logger:           logger,
	}
}

// ProbeFile probes a single media file. itemID groups related files (e.g.
// episodes of one show); when empty it is derived from the parent directory.
func (p *Prober) ProbeFile(filePath string, id int, itemID string) (models.MediaFile, error) {
	startTime := time.Now()

	file, err := os.Open(filePath)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"filePath": filePath,
			"error":    err.Error(),
		}).Error("Failed to open media file")
		return models.MediaFile{}, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"filePath": filePath,
			"error":    err.Error(),
		}).Error("Failed to get file stats")
		return models.MediaFile{}, err
	}

	if itemID == "" {
		itemID = deriveItemID(filePath)
	}
	filename := filepath.Base(filePath)
	kind := KindForPath(filePath)

	duration, err := p.measureDuration(filePath)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"filePath": filePath,
			"error":    err.Error(),
		}).Warn("Failed to measure duration, setting to 0")
		duration = 0
	}

	media := models.MediaFile{
		ID:       id,
		ItemID:   itemID,
		Filename: filename,
		Title:    strings.TrimSuffix(filename, filepath.Ext(filename)),
		Kind:     kind,
		Duration: duration,
		FilePath: filePath,
		FileSize: stat.Size(),
	}

	// Tag reading only works for audio containers the tag library knows.
	metadata, err := tag.ReadFrom(file)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"filePath": filePath,
			"error":    err.Error(),
		}).Debug("No readable tags, using filename")
		return media, nil
	}

	if title := metadata.Title(); title != "" {
		media.Title = title
	}
	media.Artist = metadata.Artist()
	media.ArtworkID, media.HasArtwork = p.extractArtwork(metadata)

	p.logger.WithFields(logrus.Fields{
		"filePath":       filePath,
		"title":          media.Title,
		"kind":           media.Kind,
		"duration":       duration,
		"hasArtwork":     media.HasArtwork,
		"processingTime": time.Since(startTime),
	}).Debug("Probed media file")

	return media, nil
}

// measureDuration returns the file's duration in seconds.
func (p *Prober) measureDuration(filePath string) (float64, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp3":
		return p.durationMP3(filePath)
	case ".flac":
		return p.durationFLAC(filePath)
	case ".wav":
		return p.durationWAV(filePath)
	case ".m4a", ".mp4", ".m4v", ".mov":
		return p.durationMP4(filePath)
	default:
		return 0, fmt.Errorf("unsupported format: %s", ext)
	}
}

// MP3 duration using frame decoding; fallback to average bitrate estimation
// only if no frame decodes at all.
func (p *Prober) durationMP3(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 {
				return p.estimateFromFileSize(path, 192000) // assume 192 kbps
			}
			break // partial decode; use what we have
		}
		total += fr.Duration()
		frames++
	}
	return total.Seconds(), nil
}

// FLAC duration via STREAMINFO metadata block
func (p *Prober) durationFLAC(path string) (float64, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	si := stream.Info
	if si.NSamples > 0 && si.SampleRate > 0 {
		return float64(si.NSamples) / float64(si.SampleRate), nil
	}
	return 0, fmt.Errorf("flac stream missing sample info")
}

// WAV duration using go-audio/wav to read the header. Approximates from the
// file size; a full sample count would require decoding all samples.
func (p *Prober) durationWAV(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	if dec.SampleRate == 0 || dec.BitDepth == 0 || dec.NumChans == 0 {
		return 0, fmt.Errorf("invalid wav header")
	}
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	headerSize := int64(44)
	pcmBytes := st.Size() - headerSize
	if pcmBytes < 0 {
		pcmBytes = 0
	}
	bytesPerSampleFrame := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if bytesPerSampleFrame <= 0 {
		return 0, fmt.Errorf("invalid sample frame size")
	}
	sampleFrames := pcmBytes / bytesPerSampleFrame
	return float64(sampleFrames) / float64(dec.SampleRate), nil
}

// MP4-family duration: read the 'mvhd' timescale and duration with a manual
// atom scan. Covers .m4a audio and .mp4/.m4v/.mov video alike. Best-effort.
func (p *Prober) durationMP4(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	for {
		head := make([]byte, 8)
		if _, err := io.ReadFull(f, head); err != nil {
			return 0, err
		}
		size := binary.BigEndian.Uint32(head[0:4])
		atom := string(head[4:8])
		if size < 8 {
			return 0, fmt.Errorf("invalid atom size")
		}
		if atom == "moov" {
			limit := int64(size) - 8
			for read := int64(0); read < limit; {
				subHead := make([]byte, 8)
				if _, err := io.ReadFull(f, subHead); err != nil {
					return 0, err
				}
				subSize := binary.BigEndian.Uint32(subHead[0:4])
				subAtom := string(subHead[4:8])
				if subAtom == "mvhd" {
					version := make([]byte, 1)
					if _, err := io.ReadFull(f, version); err != nil {
						return 0, err
					}
					var skip int64
					if version[0] == 1 { // 64-bit creation/modification times
						skip = 3 + 8 + 8
					} else {
						skip = 3 + 4 + 4
					}
					if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
						return 0, err
					}
					tsBuf := make([]byte, 4)
					if _, err := io.ReadFull(f, tsBuf); err != nil {
						return 0, err
					}
					timescale := binary.BigEndian.Uint32(tsBuf)
					durBuf := make([]byte, 4)
					if _, err := io.ReadFull(f, durBuf); err != nil {
						return 0, err
					}
					durUnits := binary.BigEndian.Uint32(durBuf)
					if timescale == 0 {
						return 0, fmt.Errorf("invalid timescale")
					}
					return float64(durUnits) / float64(timescale), nil
				}
				if subSize < 8 {
					return 0, fmt.Errorf("invalid sub-atom size")
				}
				if _, err := f.Seek(int64(subSize)-8, io.SeekCurrent); err != nil {
					return 0, err
				}
				read += int64(subSize)
			}
			break
		}
		if _, err := f.Seek(int64(size)-8, io.SeekCurrent); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("mvhd atom not found")
}

// estimateFromFileSize provides last-resort estimation if parsing fails.
func (p *Prober) estimateFromFileSize(path string, bitrate int) (float64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if bitrate <= 0 {
		return 0, fmt.Errorf("invalid bitrate")
	}
	return float64(st.Size()*8) / float64(bitrate), nil
}

// extractArtwork pulls embedded artwork into the image cache, keyed by a
// content hash so identical covers are stored once.
func (p *Prober) extractArtwork(metadata tag.Metadata) (string, bool) {
	if metadata == nil {
		return "", false
	}
	picture := metadata.Picture()
	if picture == nil {
		return "", false
	}

	hash := md5.Sum(picture.Data)
	artID := fmt.Sprintf("%x", hash)

	if p.artwork != nil {
		p.artwork.Set(ArtworkKey(artID), picture.Data)
	}
	return artID, true
}

// ArtworkMimeType guesses MIME type from artwork bytes.
func ArtworkMimeType(data []byte) string {
	if len(data) < 4 {
		return "application/octet-stream"
	}

	if data[0] == 0xFF && data[1] == 0xD8 {
		return "image/jpeg"
	}
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 {
		return "image/gif"
	}

	return "application/octet-stream"
}

// IsMediaFile checks if a file is a supported media format.
func (p *Prober) IsMediaFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, format := range p.supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// ContentType returns the MIME type served for a media file.
func ContentType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}

// KindForPath classifies a path as audio or video by extension.
func KindForPath(filePath string) models.MediaKind {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3", ".flac", ".wav", ".m4a", ".ogg", ".opus":
		return models.KindAudio
	default:
		return models.KindVideo
	}
}

// deriveItemID groups a file under its parent directory name, hashed so the
// identifier is stable and path-free.
func deriveItemID(filePath string) string {
	dir := filepath.Base(filepath.Dir(filePath))
	if dir == "." || dir == string(filepath.Separator) {
		dir = filepath.Base(filePath)
	}
	hash := md5.Sum([]byte(dir))
	return fmt.Sprintf("%x", hash[:8])
}
