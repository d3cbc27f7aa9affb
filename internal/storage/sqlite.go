package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding video records.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Videos ---

// UpsertVideo inserts the video or merges it into the existing row with the
// same id. URL, title, published_at and duration are always taken from the
// incoming record; channel_id is never updated after first insert; the
// recommendation is only taken when the incoming one is non-nil, so a plain
// listing sync can never erase a stored analysis. The merge happens in a
// single statement so concurrent syncs of the same record cannot lose it.
func (s *Store) UpsertVideo(v Video) error {
	rec, err := marshalRecommendation(v.Recommendation)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO videos (id, channel_id, url, title, published_at, duration, recommendation)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			published_at = excluded.published_at,
			duration = excluded.duration,
			recommendation = COALESCE(excluded.recommendation, videos.recommendation)`,
		v.ID, v.ChannelID, v.URL, v.Title,
		v.PublishedAt.UTC().Format(time.RFC3339), v.Duration, rec,
	)
	return err
}

// UpsertVideos upserts each video under the given channel. Rows are applied
// independently; a failure part way through leaves earlier rows in place,
// which is safe because every row upsert can be retried.
func (s *Store) UpsertVideos(channelID string, videos []Video) error {
	for _, v := range videos {
		v.ChannelID = channelID
		if err := s.UpsertVideo(v); err != nil {
			return fmt.Errorf("upserting video %s: %w", v.ID, err)
		}
	}
	return nil
}

// GetVideo returns the video with the given id, or ErrNotFound.
func (s *Store) GetVideo(id string) (Video, error) {
	row := s.db.QueryRow(`
		SELECT id, channel_id, url, title, published_at, duration, recommendation
		FROM videos WHERE id = ?`, id)

	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return Video{}, ErrNotFound
	}
	return v, err
}

// ListByChannel returns all videos for a channel, newest first.
func (s *Store) ListByChannel(channelID string) ([]Video, error) {
	return s.queryVideos(`
		SELECT id, channel_id, url, title, published_at, duration, recommendation
		FROM videos WHERE channel_id = ? ORDER BY published_at DESC`, channelID)
}

// ListUnanalyzed returns videos without a recommendation, newest first.
// An empty channelID selects all channels.
func (s *Store) ListUnanalyzed(channelID string) ([]Video, error) {
	if channelID == "" {
		return s.queryVideos(`
			SELECT id, channel_id, url, title, published_at, duration, recommendation
			FROM videos WHERE recommendation IS NULL ORDER BY published_at DESC`)
	}
	return s.queryVideos(`
		SELECT id, channel_id, url, title, published_at, duration, recommendation
		FROM videos WHERE recommendation IS NULL AND channel_id = ?
		ORDER BY published_at DESC`, channelID)
}

// ListAnalyzed returns videos that carry a recommendation, newest first.
func (s *Store) ListAnalyzed() ([]Video, error) {
	return s.queryVideos(`
		SELECT id, channel_id, url, title, published_at, duration, recommendation
		FROM videos WHERE recommendation IS NOT NULL ORDER BY published_at DESC`)
}

// SetRecommendation overwrites the recommendation for an existing video.
// Updating an id that does not exist is a no-op: the callers only pass ids
// they just read from the store.
func (s *Store) SetRecommendation(id string, rec Recommendation) error {
	blob, err := marshalRecommendation(&rec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("UPDATE videos SET recommendation = ? WHERE id = ?", blob, id)
	return err
}

// ListChannels returns per-channel video and analyzed counts, ordered by
// channel id.
func (s *Store) ListChannels() ([]ChannelStats, error) {
	rows, err := s.db.Query(`
		SELECT channel_id, COUNT(*),
			SUM(CASE WHEN recommendation IS NOT NULL THEN 1 ELSE 0 END)
		FROM videos GROUP BY channel_id ORDER BY channel_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ChannelStats
	for rows.Next() {
		var cs ChannelStats
		if err := rows.Scan(&cs.ChannelID, &cs.VideoCount, &cs.AnalyzedCount); err != nil {
			return nil, err
		}
		stats = append(stats, cs)
	}
	return stats, rows.Err()
}

// ListVideos returns a page of videos matching the filter, newest first,
// along with the total number of matching rows.
func (s *Store) ListVideos(f VideoFilter) ([]Video, int, error) {
	where := "WHERE 1=1"
	var args []any

	if f.ChannelID != "" {
		where += " AND channel_id = ?"
		args = append(args, f.ChannelID)
	}
	if f.Analyzed != nil {
		if *f.Analyzed {
			where += " AND recommendation IS NOT NULL"
		} else {
			where += " AND recommendation IS NULL"
		}
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM videos "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	videos, err := s.queryVideos(`
		SELECT id, channel_id, url, title, published_at, duration, recommendation
		FROM videos `+where+` ORDER BY published_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	return videos, total, nil
}

// ExportAll returns every stored video grouped by channel, newest first
// within each channel.
func (s *Store) ExportAll() (map[string][]Video, error) {
	videos, err := s.queryVideos(`
		SELECT id, channel_id, url, title, published_at, duration, recommendation
		FROM videos ORDER BY channel_id, published_at DESC`)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]Video)
	for _, v := range videos {
		out[v.ChannelID] = append(out[v.ChannelID], v)
	}
	return out, nil
}

// --- helpers ---

func marshalRecommendation(rec *Recommendation) (any, error) {
	if rec == nil {
		return nil, nil
	}
	r := *rec
	if r.SchemaVersion == 0 {
		r.SchemaVersion = RecommendationSchemaVersion
	}
	blob, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling recommendation: %w", err)
	}
	return string(blob), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (Video, error) {
	var v Video
	var publishedAt string
	var rec sql.NullString

	err := row.Scan(&v.ID, &v.ChannelID, &v.URL, &v.Title, &publishedAt, &v.Duration, &rec)
	if err != nil {
		return Video{}, err
	}

	t, err := time.Parse(time.RFC3339, publishedAt)
	if err != nil {
		return Video{}, fmt.Errorf("parsing published_at: %w", err)
	}
	v.PublishedAt = t

	if rec.Valid {
		var r Recommendation
		if err := json.Unmarshal([]byte(rec.String), &r); err != nil {
			return Video{}, fmt.Errorf("decoding recommendation for %s: %w", v.ID, err)
		}
		v.Recommendation = &r
	}
	return v, nil
}

func (s *Store) queryVideos(query string, args ...any) ([]Video, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}
