package database

import (
	"database/sql"
	"fmt"
	"time"

	"intermezzo/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Database wraps a *sql.DB providing higher-level helper methods for
// interacting with the application's persistent store. It is safe for
// concurrent use because the underlying *sql.DB is concurrency-safe.
type Database struct {
	conn   *sql.DB
	logger *logrus.Logger

	// Prepared statements for better performance
	putProgressStmt    *sql.Stmt
	deleteProgressStmt *sql.Stmt
	deleteItemStmt     *sql.Stmt
	upsertMediaStmt    *sql.Stmt
	mediaExistsStmt    *sql.Stmt
	getMediaByPathStmt *sql.Stmt
	removeMediaStmt    *sql.Stmt
	getMediaForKeyStmt *sql.Stmt
}

// NewDatabase opens (or creates) a SQLite database at the provided path and
// ensures all required tables and indices exist. It also applies lightweight
// performance-oriented pragmas (WAL, cache sizing). Caller should Close() it
// when finished.
func NewDatabase(dbPath string) (*Database, error) {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - adjusted for SQLite
	conn.SetMaxOpenConns(5) // SQLite works better with fewer connections
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	// Enable WAL mode for better concurrency
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA auto_vacuum=INCREMENTAL;",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: logger,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

// createTables creates tables and indices if they do not already exist.
// This is idempotent and safe to call multiple times.
func (db *Database) createTables() error {
	// Playback progress, keyed by (item_id, filename). A save replaces the
	// previous row for the same key.
	progressTable := `
	CREATE TABLE IF NOT EXISTS playback_progress (
		item_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		position REAL NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		last_watched DATETIME NOT NULL,
		title TEXT,
		thumbnail TEXT,
		track_index INTEGER DEFAULT 0,
		PRIMARY KEY (item_id, filename)
	);`

	// Probed local media files
	mediaTable := `
	CREATE TABLE IF NOT EXISTS media_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		title TEXT NOT NULL,
		artist TEXT,
		kind TEXT NOT NULL,
		duration REAL DEFAULT 0,
		file_path TEXT NOT NULL UNIQUE,
		file_size INTEGER NOT NULL,
		has_artwork BOOLEAN DEFAULT FALSE,
		artwork_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_progress_watched ON playback_progress(last_watched DESC);",
		"CREATE INDEX IF NOT EXISTS idx_progress_kind ON playback_progress(kind);",
		"CREATE INDEX IF NOT EXISTS idx_media_item ON media_files(item_id, filename);",
	}

	for _, stmt := range []string{progressTable, mediaTable} {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, idx := range indices {
		if _, err := db.conn.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// prepareStatements prepares frequently used statements once up front.
func (db *Database) prepareStatements() error {
	var err error

	db.putProgressStmt, err = db.conn.Prepare(`
		INSERT OR REPLACE INTO playback_progress
		(item_id, filename, position, duration, kind, last_watched, title, thumbnail, track_index)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare put progress statement: %w", err)
	}

	db.deleteProgressStmt, err = db.conn.Prepare(
		"DELETE FROM playback_progress WHERE item_id = ? AND filename = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare delete progress statement: %w", err)
	}

	db.deleteItemStmt, err = db.conn.Prepare(
		"DELETE FROM playback_progress WHERE item_id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare delete item statement: %w", err)
	}

	db.upsertMediaStmt, err = db.conn.Prepare(`
		INSERT INTO media_files
		(item_id, filename, title, artist, kind, duration, file_path, file_size, has_artwork, artwork_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			kind = excluded.kind,
			duration = excluded.duration,
			file_size = excluded.file_size,
			has_artwork = excluded.has_artwork,
			artwork_id = excluded.artwork_id`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert media statement: %w", err)
	}

	db.mediaExistsStmt, err = db.conn.Prepare(
		"SELECT COUNT(*) FROM media_files WHERE file_path = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare media exists statement: %w", err)
	}

	db.getMediaByPathStmt, err = db.conn.Prepare(`
		SELECT id, item_id, filename, title, artist, kind, duration, file_path, file_size, has_artwork, artwork_id
		FROM media_files WHERE file_path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get media statement: %w", err)
	}

	db.removeMediaStmt, err = db.conn.Prepare(
		"DELETE FROM media_files WHERE file_path = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare remove media statement: %w", err)
	}

	db.getMediaForKeyStmt, err = db.conn.Prepare(`
		SELECT id, item_id, filename, title, artist, kind, duration, file_path, file_size, has_artwork, artwork_id
		FROM media_files WHERE item_id = ? AND filename = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get media by key statement: %w", err)
	}

	return nil
}

// LoadAllProgress returns every stored playback progress record. The progress
// tracker calls this once at startup to seed its in-memory view.
func (db *Database) LoadAllProgress() ([]models.PlaybackProgress, error) {
	rows, err := db.conn.Query(`
		SELECT item_id, filename, position, duration, kind, last_watched, title, thumbnail, track_index
		FROM playback_progress`)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress records: %w", err)
	}
	defer rows.Close()

	return scanProgressRows(rows)
}

// PutProgress inserts or replaces the record for (ItemID, Filename).
func (db *Database) PutProgress(rec models.PlaybackProgress) error {
	var title, thumbnail sql.NullString
	if rec.Title != "" {
		title = sql.NullString{String: rec.Title, Valid: true}
	}
	if rec.Thumbnail != "" {
		thumbnail = sql.NullString{String: rec.Thumbnail, Valid: true}
	}

	_, err := db.putProgressStmt.Exec(
		rec.ItemID, rec.Filename, rec.Position, rec.Duration, string(rec.Kind),
		rec.LastWatched.UTC(), title, thumbnail, rec.TrackIndex)
	if err != nil {
		return fmt.Errorf("failed to store progress record: %w", err)
	}
	return nil
}

// DeleteProgress removes the record for (itemID, filename). Deleting a
// nonexistent record is a no-op.
func (db *Database) DeleteProgress(itemID, filename string) error {
	if _, err := db.deleteProgressStmt.Exec(itemID, filename); err != nil {
		return fmt.Errorf("failed to delete progress record: %w", err)
	}
	return nil
}

// DeleteItemProgress removes all records for an item.
func (db *Database) DeleteItemProgress(itemID string) error {
	if _, err := db.deleteItemStmt.Exec(itemID); err != nil {
		return fmt.Errorf("failed to delete item progress: %w", err)
	}
	return nil
}

// ClearProgress empties the progress table.
func (db *Database) ClearProgress() error {
	if _, err := db.conn.Exec("DELETE FROM playback_progress"); err != nil {
		return fmt.Errorf("failed to clear progress: %w", err)
	}
	return nil
}

// PruneProgressBefore deletes records last watched before the cutoff and
// returns how many rows were removed.
func (db *Database) PruneProgressBefore(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(
		"DELETE FROM playback_progress WHERE last_watched < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune progress: %w", err)
	}
	return res.RowsAffected()
}

// UpsertMediaFile stores a probed media file, replacing any prior probe of the
// same path.
func (db *Database) UpsertMediaFile(file models.MediaFile) error {
	var artist, artworkID sql.NullString
	if file.Artist != "" {
		artist = sql.NullString{String: file.Artist, Valid: true}
	}
	if file.ArtworkID != "" {
		artworkID = sql.NullString{String: file.ArtworkID, Valid: true}
	}

	_, err := db.upsertMediaStmt.Exec(
		file.ItemID, file.Filename, file.Title, artist, string(file.Kind),
		file.Duration, file.FilePath, file.FileSize, file.HasArtwork, artworkID)
	if err != nil {
		return fmt.Errorf("failed to upsert media file: %w", err)
	}
	return nil
}

// MediaFileExists checks whether a file path has already been probed.
func (db *Database) MediaFileExists(filePath string) (bool, error) {
	var count int
	if err := db.mediaExistsStmt.QueryRow(filePath).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check media file: %w", err)
	}
	return count > 0, nil
}

// GetMediaFileByPath returns the probed file for an absolute path, or nil.
func (db *Database) GetMediaFileByPath(filePath string) (*models.MediaFile, error) {
	file, err := scanMediaRow(db.getMediaByPathStmt.QueryRow(filePath))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media file: %w", err)
	}
	return file, nil
}

// GetMediaFile returns the probed file for a progress key, or nil when the
// key has never been probed.
func (db *Database) GetMediaFile(itemID, filename string) (*models.MediaFile, error) {
	file, err := scanMediaRow(db.getMediaForKeyStmt.QueryRow(itemID, filename))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media file: %w", err)
	}
	return file, nil
}

// GetAllMediaFiles returns every probed media file.
func (db *Database) GetAllMediaFiles() ([]models.MediaFile, error) {
	rows, err := db.conn.Query(`
		SELECT id, item_id, filename, title, artist, kind, duration, file_path, file_size, has_artwork, artwork_id
		FROM media_files ORDER BY item_id, filename`)
	if err != nil {
		return nil, fmt.Errorf("failed to query media files: %w", err)
	}
	defer rows.Close()

	var files []models.MediaFile
	for rows.Next() {
		file, err := scanMediaFields(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}
	return files, rows.Err()
}

// RemoveMediaFileByPath removes the probe row for a deleted file.
func (db *Database) RemoveMediaFileByPath(filePath string) error {
	if _, err := db.removeMediaStmt.Exec(filePath); err != nil {
		return fmt.Errorf("failed to remove media file: %w", err)
	}
	return nil
}

// Ping verifies the underlying connection is alive (used by health checks).
func (db *Database) Ping() error {
	return db.conn.Ping()
}

// Close closes prepared statements and the underlying connection.
func (db *Database) Close() error {
	stmts := []*sql.Stmt{
		db.putProgressStmt,
		db.deleteProgressStmt,
		db.deleteItemStmt,
		db.upsertMediaStmt,
		db.mediaExistsStmt,
		db.getMediaByPathStmt,
		db.removeMediaStmt,
		db.getMediaForKeyStmt,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return db.conn.Close()
}

// scanProgressRows converts a progress result set into models.
func scanProgressRows(rows *sql.Rows) ([]models.PlaybackProgress, error) {
	var records []models.PlaybackProgress
	for rows.Next() {
		var rec models.PlaybackProgress
		var kind string
		var title, thumbnail sql.NullString
		var trackIndex sql.NullInt64

		err := rows.Scan(&rec.ItemID, &rec.Filename, &rec.Position, &rec.Duration,
			&kind, &rec.LastWatched, &title, &thumbnail, &trackIndex)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress row: %w", err)
		}

		rec.Kind = models.MediaKind(kind)
		rec.Title = title.String
		rec.Thumbnail = thumbnail.String
		rec.TrackIndex = int(trackIndex.Int64)
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMediaRow scans a single media_files row.
func scanMediaRow(row *sql.Row) (*models.MediaFile, error) {
	return scanMediaFields(row)
}

func scanMediaFields(row rowScanner) (*models.MediaFile, error) {
	var file models.MediaFile
	var kind string
	var artist, artworkID sql.NullString

	err := row.Scan(&file.ID, &file.ItemID, &file.Filename, &file.Title, &artist,
		&kind, &file.Duration, &file.FilePath, &file.FileSize, &file.HasArtwork, &artworkID)
	if err != nil {
		return nil, err
	}

	file.Kind = models.MediaKind(kind)
	file.Artist = artist.String
	file.ArtworkID = artworkID.String
	return &file, nil
}
