package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/caretide/fhir-server/internal/platform/db"
	"github.com/caretide/fhir-server/internal/platform/fhir"
	"github.com/caretide/fhir-server/internal/platform/search"
)

// pgSchema holds the index table. The GIN index carries the filter
// predicates, which all run through jsonb operators on document.
const pgSchema = `
CREATE TABLE IF NOT EXISTS search_index (
    id            BIGSERIAL PRIMARY KEY,
    identity      TEXT        NOT NULL,
    resource_type TEXT        NOT NULL,
    selflink      TEXT        NOT NULL,
    level         INT         NOT NULL,
    last_updated  TIMESTAMPTZ NOT NULL,
    document      JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_search_index_identity ON search_index (identity);
CREATE INDEX IF NOT EXISTS idx_search_index_type ON search_index (resource_type) WHERE level = 0;
CREATE INDEX IF NOT EXISTS idx_search_index_document ON search_index USING GIN (document);
`

// PgStore persists index documents in Postgres, compiling filter trees to
// parameterized JSONB predicates.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema creates the index table if needed.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("creating search index schema: %w", err)
	}
	return nil
}

// Replace runs inside the context's transaction when one is active;
// otherwise it opens its own so delete and insert land together.
func (s *PgStore) Replace(ctx context.Context, identity string, docs []*Document) error {
	if db.InTx(ctx) {
		return s.replace(ctx, identity, docs)
	}
	return db.InTransaction(ctx, s.pool, func(ctx context.Context) error {
		return s.replace(ctx, identity, docs)
	})
}

func (s *PgStore) replace(ctx context.Context, identity string, docs []*Document) error {
	q := db.From(ctx, s.pool)
	if _, err := q.Exec(ctx, `DELETE FROM search_index WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("clearing index documents for %s: %w", identity, err)
	}
	for _, doc := range docs {
		body, err := json.Marshal(encodeValue(doc.Fields))
		if err != nil {
			return fmt.Errorf("encoding index document for %s: %w", identity, err)
		}
		_, err = q.Exec(ctx,
			`INSERT INTO search_index (identity, resource_type, selflink, level, last_updated, document)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			doc.Identity, doc.ResourceType, doc.SelfLink, doc.Level, doc.LastUpdated, body)
		if err != nil {
			return fmt.Errorf("writing index document for %s: %w", identity, err)
		}
	}
	return nil
}

func (s *PgStore) Delete(ctx context.Context, key fhir.Key) error {
	_, err := db.From(ctx, s.pool).Exec(ctx, `DELETE FROM search_index WHERE identity = $1`, key.Identity())
	if err != nil {
		return fmt.Errorf("deleting index documents for %s: %w", key.Identity(), err)
	}
	return nil
}

func (s *PgStore) Clean(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE search_index`); err != nil {
		return fmt.Errorf("cleaning search index: %w", err)
	}
	return nil
}

func (s *PgStore) Query(ctx context.Context, resourceType string, filter search.Filter, sortKeys []search.SortKey) ([]fhir.Key, error) {
	c := &sqlCompiler{}
	typeArg := c.arg(resourceType)
	where := c.filterSQL(filter)
	order := orderClause(c, sortKeys)

	sql := fmt.Sprintf(
		`SELECT selflink FROM search_index WHERE resource_type = %s AND level = 0 AND %s ORDER BY %s`,
		typeArg, where, order)

	rows, err := db.From(ctx, s.pool).Query(ctx, sql, c.args...)
	if err != nil {
		return nil, fmt.Errorf("querying search index: %w", err)
	}
	defer rows.Close()

	var keys []fhir.Key
	for rows.Next() {
		var selflink string
		if err := rows.Scan(&selflink); err != nil {
			return nil, err
		}
		key, err := fhir.ParseKey(selflink)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *PgStore) ReferencesFrom(ctx context.Context, keys []fhir.Key, param string) ([]fhir.Key, error) {
	identities := make([]string, 0, len(keys))
	for _, k := range keys {
		identities = append(identities, k.Identity())
	}

	rows, err := db.From(ctx, s.pool).Query(ctx,
		`SELECT DISTINCT ref FROM search_index s,
		        jsonb_array_elements_text(COALESCE(s.document->$1, '[]'::jsonb)) AS ref
		  WHERE s.identity = ANY($2) AND s.level = 0`,
		param, identities)
	if err != nil {
		return nil, fmt.Errorf("resolving references: %w", err)
	}
	defer rows.Close()

	var out []fhir.Key
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		if key, err := fhir.ParseKey(ref); err == nil {
			out = append(out, key)
		}
	}
	return out, rows.Err()
}

func (s *PgStore) ReferencesTo(ctx context.Context, resourceType, param string, targets []fhir.Key) ([]fhir.Key, error) {
	identities := make([]string, 0, len(targets))
	for _, t := range targets {
		identities = append(identities, t.Identity())
	}

	rows, err := db.From(ctx, s.pool).Query(ctx,
		`SELECT s.selflink FROM search_index s
		  WHERE s.resource_type = $1 AND s.level = 0
		    AND EXISTS (SELECT 1 FROM jsonb_array_elements_text(COALESCE(s.document->$2, '[]'::jsonb)) AS ref
		                 WHERE ref = ANY($3))`,
		resourceType, param, identities)
	if err != nil {
		return nil, fmt.Errorf("resolving reverse references: %w", err)
	}
	defer rows.Close()

	var out []fhir.Key
	for rows.Next() {
		var selflink string
		if err := rows.Scan(&selflink); err != nil {
			return nil, err
		}
		if key, err := fhir.ParseKey(selflink); err == nil {
			out = append(out, key)
		}
	}
	return out, rows.Err()
}

// orderClause renders the sort keys onto index columns, with identity as
// the stable tie-break.
func orderClause(c *sqlCompiler, sortKeys []search.SortKey) string {
	var parts []string
	for _, k := range sortKeys {
		var expr string
		switch k.Param {
		case "_id":
			expr = "split_part(identity, '/', 2)"
		case "_lastUpdated":
			expr = "last_updated"
		default:
			p := c.arg(k.Param)
			expr = fmt.Sprintf(
				"lower(COALESCE(document->%s->0->>'code', document->%s->0->>'start', document->%s->0->>'value', document->%s->0->>'full', document->%s->0->>'text', document->%s->>0))",
				p, p, p, p, p, p)
		}
		if k.Descending {
			expr += " DESC"
		}
		parts = append(parts, expr)
	}
	parts = append(parts, "identity")
	return strings.Join(parts, ", ")
}

// encodeValue rewrites decimals as raw JSON numbers so numeric JSONB
// comparisons work server-side.
func encodeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case decimal.Decimal:
		return json.RawMessage(val.String())
	case map[string][]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, items := range val {
			out[k] = encodeValue(items)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = encodeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = encodeValue(item)
		}
		return out
	default:
		return v
	}
}
