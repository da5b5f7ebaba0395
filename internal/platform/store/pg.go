package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caretide/fhir-server/internal/platform/db"
	"github.com/caretide/fhir-server/internal/platform/fhir"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS resource_versions (
    id            BIGSERIAL PRIMARY KEY,
    resource_type TEXT        NOT NULL,
    resource_id   TEXT        NOT NULL,
    version_id    INT         NOT NULL,
    method        TEXT        NOT NULL,
    deleted       BOOLEAN     NOT NULL DEFAULT FALSE,
    last_updated  TIMESTAMPTZ NOT NULL,
    body          JSONB,
    UNIQUE (resource_type, resource_id, version_id)
);
CREATE INDEX IF NOT EXISTS idx_resource_versions_updated ON resource_versions (last_updated DESC);

CREATE TABLE IF NOT EXISTS id_sequences (
    resource_type TEXT PRIMARY KEY,
    n             BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS version_sequences (
    resource_type TEXT NOT NULL,
    resource_id   TEXT NOT NULL,
    n             INT  NOT NULL,
    PRIMARY KEY (resource_type, resource_id)
);

CREATE TABLE IF NOT EXISTS search_snapshots (
    id      UUID PRIMARY KEY,
    created TIMESTAMPTZ NOT NULL,
    data    JSONB       NOT NULL
);
`

// PgStore persists resource versions in Postgres. The unique constraint
// on (type, id, version) is the final guard against duplicate versions.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("creating resource schema: %w", err)
	}
	return nil
}

// Add writes through the context's transaction when one is active, so
// transaction bundles commit or roll back as a unit.
func (s *PgStore) Add(ctx context.Context, entry fhir.Entry) error {
	return addEntry(ctx, db.From(ctx, s.pool), entry)
}

func addEntry(ctx context.Context, q db.Querier, entry fhir.Entry) error {
	if !entry.Key.HasVersion() {
		return fhir.BadRequestf("cannot store %s without a version", entry.Key.Identity())
	}
	var body []byte
	if entry.Resource != nil {
		var err error
		if body, err = json.Marshal(entry.Resource); err != nil {
			return fmt.Errorf("encoding %s: %w", entry.Key, err)
		}
	}
	_, err := q.Exec(ctx,
		`INSERT INTO resource_versions (resource_type, resource_id, version_id, method, deleted, last_updated, body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.Key.TypeName, entry.Key.ResourceID, entry.Key.VersionID,
		entry.Method, entry.IsDeleted(), entry.When, body)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fhir.DuplicateVersionError(entry.Key)
		}
		return fmt.Errorf("storing %s: %w", entry.Key, err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, key fhir.Key) (fhir.Entry, error) {
	sql := `SELECT resource_type, resource_id, version_id, method, deleted, last_updated, body
	          FROM resource_versions WHERE resource_type = $1 AND resource_id = $2`
	args := []interface{}{key.TypeName, key.ResourceID}
	if key.HasVersion() {
		sql += ` AND version_id = $3`
		args = append(args, key.VersionID)
	} else {
		sql += ` ORDER BY version_id DESC LIMIT 1`
	}

	row := db.From(ctx, s.pool).QueryRow(ctx, sql, args...)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return fhir.Entry{}, fhir.NotFoundError(key)
	}
	if err != nil {
		return fhir.Entry{}, fmt.Errorf("reading %s: %w", key, err)
	}
	return entry, nil
}

func (s *PgStore) GetMany(ctx context.Context, keys []fhir.Key) ([]fhir.Entry, error) {
	out := make([]fhir.Entry, 0, len(keys))
	for _, key := range keys {
		entry, err := s.Get(ctx, key)
		if err != nil {
			if fhir.KindOf(err) == fhir.KindNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *PgStore) CurrentVersion(ctx context.Context, key fhir.Key) (int, error) {
	var version int
	err := db.From(ctx, s.pool).QueryRow(ctx,
		`SELECT COALESCE(MAX(version_id), 0) FROM resource_versions WHERE resource_type = $1 AND resource_id = $2`,
		key.TypeName, key.ResourceID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading current version of %s: %w", key.Identity(), err)
	}
	return version, nil
}

func (s *PgStore) History(ctx context.Context, key fhir.Key, since time.Time, limit int) ([]fhir.Entry, error) {
	sql := `SELECT resource_type, resource_id, version_id, method, deleted, last_updated, body
	          FROM resource_versions WHERE TRUE`
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		sql += fmt.Sprintf(clause, len(args))
	}
	if key.TypeName != "" {
		add(" AND resource_type = $%d", key.TypeName)
	}
	if key.ResourceID != "" {
		add(" AND resource_id = $%d", key.ResourceID)
	}
	if !since.IsZero() {
		add(" AND last_updated > $%d", since)
	}
	sql += ` ORDER BY last_updated DESC, version_id DESC`
	if limit > 0 {
		add(" LIMIT $%d", limit)
	}

	rows, err := db.From(ctx, s.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PgStore) CurrentKeys(ctx context.Context, offset, limit int) ([]fhir.Key, error) {
	rows, err := db.From(ctx, s.pool).Query(ctx,
		`SELECT resource_type, resource_id, version_id FROM (
		    SELECT DISTINCT ON (resource_type, resource_id) resource_type, resource_id, version_id, deleted
		      FROM resource_versions ORDER BY resource_type, resource_id, version_id DESC
		 ) cur WHERE NOT deleted ORDER BY resource_type, resource_id OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("listing current resources: %w", err)
	}
	defer rows.Close()

	var keys []fhir.Key
	for rows.Next() {
		var k fhir.Key
		if err := rows.Scan(&k.TypeName, &k.ResourceID, &k.VersionID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (fhir.Entry, error) {
	var (
		entry   fhir.Entry
		deleted bool
		body    []byte
	)
	err := row.Scan(&entry.Key.TypeName, &entry.Key.ResourceID, &entry.Key.VersionID,
		&entry.Method, &deleted, &entry.When, &body)
	if err != nil {
		return fhir.Entry{}, err
	}
	if deleted {
		entry.State = fhir.StateDeleted
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &entry.Resource); err != nil {
			return fhir.Entry{}, fmt.Errorf("decoding %s: %w", entry.Key, err)
		}
	}
	return entry, nil
}

func scanEntries(rows pgx.Rows) ([]fhir.Entry, error) {
	var out []fhir.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// PgGenerator issues ids and versions from upsert counters; the RETURNING
// clause makes each draw atomic.
type PgGenerator struct {
	pool *pgxpool.Pool
}

func NewPgGenerator(pool *pgxpool.Pool) *PgGenerator {
	return &PgGenerator{pool: pool}
}

func (g *PgGenerator) NextResourceID(ctx context.Context, resourceType string) (string, error) {
	var n int64
	err := db.From(ctx, g.pool).QueryRow(ctx,
		`INSERT INTO id_sequences (resource_type, n) VALUES ($1, 1)
		 ON CONFLICT (resource_type) DO UPDATE SET n = id_sequences.n + 1
		 RETURNING n`, resourceType).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("generating id for %s: %w", resourceType, err)
	}
	return fmt.Sprintf("%d", n), nil
}

func (g *PgGenerator) NextVersionID(ctx context.Context, resourceType, resourceID string) (int, error) {
	var n int
	err := db.From(ctx, g.pool).QueryRow(ctx,
		`INSERT INTO version_sequences (resource_type, resource_id, n) VALUES ($1, $2, 1)
		 ON CONFLICT (resource_type, resource_id) DO UPDATE SET n = version_sequences.n + 1
		 RETURNING n`, resourceType, resourceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("generating version for %s/%s: %w", resourceType, resourceID, err)
	}
	return n, nil
}

// PgSnapshots stores search snapshots as JSONB blobs.
type PgSnapshots struct {
	pool *pgxpool.Pool
}

func NewPgSnapshots(pool *pgxpool.Pool) *PgSnapshots {
	return &PgSnapshots{pool: pool}
}

func (p *PgSnapshots) Save(ctx context.Context, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO search_snapshots (id, created, data) VALUES ($1, $2, $3)`,
		snapshot.ID, snapshot.Created, data)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (p *PgSnapshots) Load(ctx context.Context, id string) (*Snapshot, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM search_snapshots WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fhir.BadRequestf("unknown or expired page snapshot %q", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snapshot, nil
}
