package models

// MediaFile is a probed file from the local media library. Probing fills in
// the duration used to validate progress saves and the title/artwork shown in
// continue rows.
type MediaFile struct {
	ID         int       `json:"id"`
	ItemID     string    `json:"itemId"`
	Filename   string    `json:"filename"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist,omitempty"`
	Kind       MediaKind `json:"kind"`
	Duration   float64   `json:"duration"` // in seconds
	FilePath   string    `json:"-"`        // don't expose file path to client
	FileSize   int64     `json:"fileSize"`
	HasArtwork bool      `json:"hasArtwork"`
	ArtworkID  string    `json:"artworkId,omitempty"` // key into the image cache
}
