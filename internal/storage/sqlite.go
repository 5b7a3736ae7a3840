package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/originbrain/internal/keyword"
	"github.com/hyperjump/originbrain/internal/models"
	"github.com/hyperjump/originbrain/internal/vector"
)

const artifactColumns = `id, kind, title, content, metadata, created_at, updated_at,
	consumption_status, importance, embedding, processed, embedded_seq`

// nextEmbeddedSeq bumps the embedding counter. It runs first in a write transaction, so
// sequence numbers are handed out in commit order.
const nextEmbeddedSeq = `UPDATE counters SET value = value + 1 WHERE name = 'embedding'`

const currentEmbeddedSeq = `(SELECT value FROM counters WHERE name = 'embedding')`

// SQLiteStore implements ArtifactStore using SQLite, with a keyword index for lexical search.
type SQLiteStore struct {
	db      *sql.DB
	keyword keyword.Index
	logger  *zap.Logger
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStore) { s.logger = l }
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a private
// in-memory database. kw receives every artifact for lexical search; when nil an
// in-memory Bleve index is used. The store owns kw and closes it.
func NewSQLiteStore(dbPath string, kw keyword.Index, opts ...Option) (*SQLiteStore, error) {
	inMemory := dbPath == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if kw == nil {
		mem, err := keyword.NewBleveIndex("")
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		kw = mem
	}
	s := &SQLiteStore{db: db, keyword: kw, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		title TEXT,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		consumption_status TEXT NOT NULL DEFAULT 'unconsumed',
		importance REAL NOT NULL DEFAULT 0,
		embedding BLOB,
		processed INTEGER NOT NULL DEFAULT 0,
		embedded_seq INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at);
	CREATE INDEX IF NOT EXISTS idx_artifacts_status ON artifacts(consumption_status, updated_at);
	CREATE INDEX IF NOT EXISTS idx_artifacts_processed ON artifacts(processed, created_at);
	CREATE INDEX IF NOT EXISTS idx_artifacts_embedded_seq ON artifacts(embedded_seq);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO counters (name, value) VALUES ('embedding', 0);

	CREATE TABLE IF NOT EXISTS relationships (
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		strength REAL NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (source_id, target_id, kind),
		FOREIGN KEY (source_id) REFERENCES artifacts(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateArtifact validates and inserts an artifact and adds it to the keyword index.
// A missing id is generated; a zero CreatedAt defaults to now.
func (s *SQLiteStore) CreateArtifact(ctx context.Context, in *models.ArtifactInput) (*models.Artifact, error) {
	if in == nil || strings.TrimSpace(in.Content) == "" {
		return nil, &models.ValidationError{Field: "content", Message: "must not be empty"}
	}
	kind := in.Kind
	if kind == "" {
		kind = models.KindNote
	}
	switch kind {
	case models.KindURL, models.KindNote, models.KindTweet:
	default:
		return nil, &models.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", kind)}
	}

	now := time.Now()
	a := &models.Artifact{
		ID:                in.ID,
		Kind:              kind,
		Title:             in.Title,
		Content:           in.Content,
		Metadata:          in.Metadata,
		CreatedAt:         in.CreatedAt,
		UpdatedAt:         now,
		ConsumptionStatus: models.StatusUnconsumed,
		Embedding:         in.Embedding,
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	metadataJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	var blob []byte
	if len(a.Embedding) > 0 {
		blob = vector.EncodeFloat32s(a.Embedding)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	seq := "0"
	if blob != nil {
		if _, err := tx.ExecContext(ctx, nextEmbeddedSeq); err != nil {
			return nil, fmt.Errorf("next embedding sequence: %w", err)
		}
		seq = currentEmbeddedSeq
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO artifacts (id, kind, title, content, metadata, created_at, updated_at,
			consumption_status, importance, embedding, processed, embedded_seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 0, `+seq+`)`,
		a.ID, string(a.Kind), a.Title, a.Content, string(metadataJSON),
		a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano(), string(a.ConsumptionStatus), blob,
	)
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	if blob != nil {
		if err := tx.QueryRowContext(ctx, `SELECT `+currentEmbeddedSeq).Scan(&a.EmbeddedSeq); err != nil {
			return nil, fmt.Errorf("read embedding sequence: %w", err)
		}
	}
	if err := s.keyword.Index(ctx, keywordDocument(a)); err != nil {
		return nil, fmt.Errorf("index artifact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		_ = s.keyword.Delete(ctx, a.ID)
		return nil, err
	}
	return a, nil
}

func keywordDocument(a *models.Artifact) *keyword.Document {
	doc := &keyword.Document{ID: a.ID, Kind: string(a.Kind), Title: a.Title, Content: a.Content}
	if raw, ok := a.Metadata["tags"].([]interface{}); ok {
		for _, t := range raw {
			if tag, ok := t.(string); ok {
				doc.Tags = append(doc.Tags, tag)
			}
		}
	} else if tags, ok := a.Metadata["tags"].([]string); ok {
		doc.Tags = tags
	}
	return doc
}

// GetArtifact returns an artifact by ID, or models.ErrNotFound.
func (s *SQLiteStore) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteArtifact removes an artifact, its outgoing relationships and its keyword entry.
func (s *SQLiteStore) DeleteArtifact(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("artifact %s: %w", id, models.ErrNotFound)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
		return err
	}
	return s.keyword.Delete(ctx, id)
}

// SetEmbedding stores (or replaces) the embedding of an artifact. The artifact gets a
// new embedding sequence number, so the vector index counts it as new.
func (s *SQLiteStore) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return &models.ValidationError{Field: "embedding", Message: "must not be empty"}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, nextEmbeddedSeq); err != nil {
		return fmt.Errorf("next embedding sequence: %w", err)
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE artifacts SET embedding = ?, updated_at = ?, embedded_seq = `+currentEmbeddedSeq+` WHERE id = ?`,
		vector.EncodeFloat32s(embedding), time.Now().UnixNano(), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("artifact %s: %w", id, models.ErrNotFound)
	}
	return tx.Commit()
}

// UpdateConsumptionStatus moves an artifact to status.
func (s *SQLiteStore) UpdateConsumptionStatus(ctx context.Context, id string, status models.ConsumptionStatus) error {
	if !status.Valid() {
		return &models.ValidationError{Field: "consumption_status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	return s.update(ctx, id, `UPDATE artifacts SET consumption_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UnixNano(), id)
}

// UpdateAnalysis records an importance score and merges metadata into the existing map.
func (s *SQLiteStore) UpdateAnalysis(ctx context.Context, id string, importance float64, metadata map[string]interface{}) error {
	if importance < 0 || importance > 1 {
		return &models.ValidationError{Field: "importance_score", Message: "must be within [0,1]"}
	}
	a, err := s.GetArtifact(ctx, id)
	if err != nil {
		return err
	}
	merged := a.Metadata
	if merged == nil {
		merged = make(map[string]interface{}, len(metadata))
	}
	for k, v := range metadata {
		merged[k] = v
	}
	metadataJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return s.update(ctx, id, `UPDATE artifacts SET importance = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		importance, string(metadataJSON), time.Now().UnixNano(), id)
}

// MarkProcessed flags an artifact as analyzed by the consumption queue.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, id string) error {
	return s.update(ctx, id, `UPDATE artifacts SET processed = 1, updated_at = ? WHERE id = ?`,
		time.Now().UnixNano(), id)
}

func (s *SQLiteStore) update(ctx context.Context, id, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("artifact %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListArtifactsWithEmbeddings returns embedded artifacts, newest first. limit <= 0 means all.
// The whole result comes from one query, so it is a consistent snapshot.
func (s *SQLiteStore) ListArtifactsWithEmbeddings(ctx context.Context, limit int) ([]*models.Artifact, error) {
	return s.list(ctx, `WHERE embedding IS NOT NULL ORDER BY created_at DESC, id`, limit)
}

// ListByStatus returns artifacts in status, most recently updated first.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status models.ConsumptionStatus, limit int) ([]*models.Artifact, error) {
	return s.list(ctx, `WHERE consumption_status = ? ORDER BY updated_at DESC, id`, limit, string(status))
}

// ListUnprocessed returns artifacts not yet analyzed, oldest first.
func (s *SQLiteStore) ListUnprocessed(ctx context.Context, limit int) ([]*models.Artifact, error) {
	return s.list(ctx, `WHERE processed = 0 ORDER BY created_at, id`, limit)
}

// ListRecent returns the most recently created artifacts.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*models.Artifact, error) {
	return s.list(ctx, `ORDER BY created_at DESC, id`, limit)
}

func (s *SQLiteStore) list(ctx context.Context, clause string, limit int, args ...interface{}) ([]*models.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts ` + clause
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LexicalSearch returns artifacts matching query in keyword relevance order, keeping only
// those that pass filters.
func (s *SQLiteStore) LexicalSearch(ctx context.Context, query string, limit int, filters *models.Filters) ([]*models.Artifact, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	fetch := limit
	if !filters.IsEmpty() {
		fetch = limit * 4
		if fetch < 50 {
			fetch = 50
		}
	}
	hits, err := s.keyword.Search(ctx, query, fetch, &keyword.SearchOptions{TitleBoost: 2})
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	byID, err := s.getMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Artifact, 0, limit)
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			s.logger.Debug("keyword hit without artifact row", zap.String("id", id))
			continue
		}
		if !filters.Matches(a) {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *SQLiteStore) getMany(ctx context.Context, ids []string) (map[string]*models.Artifact, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]*models.Artifact, len(ids))
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

// CountSince returns how many artifacts were created strictly after since.
func (s *SQLiteStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts WHERE created_at > ?`, since.UnixNano()).Scan(&count)
	return count, err
}

// CountEmbeddedAfter returns how many embedded artifacts got their embedding after the
// embedding sequence number seq. Sequence numbers follow commit order, so a reader that
// saw every embedding up to seq counts exactly the ones it missed.
func (s *SQLiteStore) CountEmbeddedAfter(ctx context.Context, seq int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artifacts WHERE embedding IS NOT NULL AND embedded_seq > ?`, seq).Scan(&count)
	return count, err
}

// CountArtifacts returns the total number of artifacts.
func (s *SQLiteStore) CountArtifacts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&count)
	return count, err
}

// StatusCounts returns the number of artifacts per consumption status. Every known
// status is present, possibly with zero.
func (s *SQLiteStore) StatusCounts(ctx context.Context) (map[models.ConsumptionStatus]int, error) {
	out := make(map[models.ConsumptionStatus]int, len(models.ConsumptionStatuses))
	for _, st := range models.ConsumptionStatuses {
		out[st] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT consumption_status, COUNT(*) FROM artifacts GROUP BY consumption_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[models.ConsumptionStatus(status)] = n
	}
	return out, rows.Err()
}

// SaveRelationships replaces the outgoing relationships of sourceID for every kind
// present in rels, in one transaction.
func (s *SQLiteStore) SaveRelationships(ctx context.Context, sourceID string, rels []*models.Relationship) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cleared := make(map[string]bool)
	for _, r := range rels {
		if cleared[r.Kind] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE source_id = ? AND kind = ?`, sourceID, r.Kind); err != nil {
			return err
		}
		cleared[r.Kind] = true
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO relationships (source_id, target_id, kind, strength, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, r := range rels {
		r.SourceID = sourceID
		r.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, r.SourceID, r.TargetID, r.Kind, r.Strength, now.UnixNano()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRelationships returns the outgoing relationships of sourceID, strongest first.
func (s *SQLiteStore) GetRelationships(ctx context.Context, sourceID string) ([]*models.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, target_id, kind, strength, created_at
		 FROM relationships WHERE source_id = ? ORDER BY strength DESC, target_id`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []*models.Relationship
	for rows.Next() {
		var r models.Relationship
		var created int64
		if err := rows.Scan(&r.SourceID, &r.TargetID, &r.Kind, &r.Strength, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(0, created)
		rels = append(rels, &r)
	}
	return rels, rows.Err()
}

// Close closes the keyword index and the database connection.
func (s *SQLiteStore) Close() error {
	kwErr := s.keyword.Close()
	dbErr := s.db.Close()
	if dbErr != nil {
		return dbErr
	}
	return kwErr
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanArtifact(row scanner) (*models.Artifact, error) {
	var a models.Artifact
	var kind, status string
	var metadataJSON sql.NullString
	var title sql.NullString
	var created, updated int64
	var blob []byte
	var processed int
	if err := row.Scan(&a.ID, &kind, &title, &a.Content, &metadataJSON, &created, &updated,
		&status, &a.ImportanceScore, &blob, &processed, &a.EmbeddedSeq); err != nil {
		return nil, err
	}
	a.Kind = models.ArtifactKind(kind)
	a.Title = title.String
	a.ConsumptionStatus = models.ConsumptionStatus(status)
	a.CreatedAt = time.Unix(0, created)
	a.UpdatedAt = time.Unix(0, updated)
	a.Processed = processed != 0
	if len(blob) > 0 {
		a.Embedding = vector.DecodeFloat32s(blob)
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &a, nil
}
