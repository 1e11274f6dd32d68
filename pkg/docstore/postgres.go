package docstore

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStore implements Store over a single jsonb documents table.
// Each document carries a seq_no drawn from a store-wide sequence; the
// primary term lives in store_meta and is read once at connect time.
type PostgresStore struct {
	db          *stdsql.DB
	primaryTerm int64
}

// PostgresConfig holds connection settings for the document store.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgresStore connects, runs migrations, and loads the store's
// primary term.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := stdsql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging document store: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating document store: %w", err)
	}

	var term int64
	if err := db.QueryRowContext(ctx,
		`SELECT value FROM store_meta WHERE key = 'primary_term'`).Scan(&term); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reading primary term: %w", err)
	}

	return &PostgresStore{db: db, primaryTerm: term}, nil
}

// Close releases the underlying connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func runMigrations(db *stdsql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, index, id string) (*Document, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT source, seq_no, primary_term FROM documents WHERE index_name = $1 AND id = $2`,
		index, id)

	var raw []byte
	doc := &Document{Index: index, ID: id}
	if err := row.Scan(&raw, &doc.SeqNo, &doc.PrimaryTerm); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, fmt.Errorf("get %s/%s: %w", index, id, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s/%s: %w", index, id, err)
	}
	source, err := decodeSource(raw)
	if err != nil {
		return nil, err
	}
	doc.Source = source
	return doc, nil
}

func (p *PostgresStore) Index(ctx context.Context, index, id string, doc any) (*Document, error) {
	raw, err := encodeSource(doc)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.New().String()
	}

	row := p.db.QueryRowContext(ctx, `
		INSERT INTO documents (index_name, id, seq_no, primary_term, source, updated_at)
		VALUES ($1, $2, nextval('documents_seq_no'), $3, $4, now())
		ON CONFLICT (index_name, id) DO UPDATE
		SET seq_no = nextval('documents_seq_no'), source = EXCLUDED.source, updated_at = now()
		RETURNING seq_no`,
		index, id, p.primaryTerm, raw)

	result := &Document{Index: index, ID: id, PrimaryTerm: p.primaryTerm}
	if err := row.Scan(&result.SeqNo); err != nil {
		return nil, fmt.Errorf("index %s/%s: %w", index, id, err)
	}
	result.Source, err = decodeSource(raw)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PostgresStore) Create(ctx context.Context, index, id string, doc any) (*Document, error) {
	raw, err := encodeSource(doc)
	if err != nil {
		return nil, err
	}

	row := p.db.QueryRowContext(ctx, `
		INSERT INTO documents (index_name, id, seq_no, primary_term, source, updated_at)
		VALUES ($1, $2, nextval('documents_seq_no'), $3, $4, now())
		ON CONFLICT (index_name, id) DO NOTHING
		RETURNING seq_no`,
		index, id, p.primaryTerm, raw)

	result := &Document{Index: index, ID: id, PrimaryTerm: p.primaryTerm}
	if err := row.Scan(&result.SeqNo); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, fmt.Errorf("create %s/%s: %w", index, id, ErrConflict)
		}
		return nil, fmt.Errorf("create %s/%s: %w", index, id, err)
	}
	result.Source, err = decodeSource(raw)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PostgresStore) Update(ctx context.Context, index, id string, doc any, seqNo, primaryTerm int64) (*Document, error) {
	raw, err := encodeSource(doc)
	if err != nil {
		return nil, err
	}

	row := p.db.QueryRowContext(ctx, `
		UPDATE documents
		SET seq_no = nextval('documents_seq_no'), source = $5, updated_at = now()
		WHERE index_name = $1 AND id = $2 AND seq_no = $3 AND primary_term = $4
		RETURNING seq_no`,
		index, id, seqNo, primaryTerm, raw)

	result := &Document{Index: index, ID: id, PrimaryTerm: p.primaryTerm}
	if err := row.Scan(&result.SeqNo); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			// Distinguish missing from stale below; both map to
			// caller-visible errors that stop the CAS loop correctly.
			var exists bool
			checkErr := p.db.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM documents WHERE index_name = $1 AND id = $2)`,
				index, id).Scan(&exists)
			if checkErr == nil && !exists {
				return nil, fmt.Errorf("update %s/%s: %w", index, id, ErrNotFound)
			}
			return nil, fmt.Errorf("update %s/%s: %w", index, id, ErrConflict)
		}
		return nil, fmt.Errorf("update %s/%s: %w", index, id, err)
	}
	result.Source, err = decodeSource(raw)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PostgresStore) Search(ctx context.Context, index string, q Query) (*SearchResult, error) {
	start := time.Now()
	where, args := buildWhere(index, q)

	scoreExpr := "1.0"
	if q.Match != "" {
		scoreExpr = fmt.Sprintf(
			"ts_rank(to_tsvector('english', source::text), plainto_tsquery('english', $%d))",
			len(args)+1)
		args = append(args, q.Match)
	}

	query := fmt.Sprintf(
		`SELECT id, source, %s AS score FROM documents WHERE %s`, scoreExpr, where)
	query += orderClause(q)
	if q.Size > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Size)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			hit Hit
			raw []byte
		)
		if err := rows.Scan(&hit.ID, &raw, &hit.Score); err != nil {
			return nil, fmt.Errorf("search %s: scanning row: %w", index, err)
		}
		if hit.Source, err = decodeSource(raw); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}

	total, err := p.Count(ctx, index, q)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Hits: hits, Total: total, TookMS: time.Since(start).Milliseconds()}, nil
}

func (p *PostgresStore) Count(ctx context.Context, index string, q Query) (int, error) {
	where, args := buildWhere(index, q)
	if q.Match != "" {
		where += fmt.Sprintf(
			" AND to_tsvector('english', source::text) @@ plainto_tsquery('english', $%d)",
			len(args)+1)
		args = append(args, q.Match)
	}

	var count int
	err := p.db.QueryRowContext(ctx,
		"SELECT count(*) FROM documents WHERE "+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", index, err)
	}
	return count, nil
}

func (p *PostgresStore) DeleteByQuery(ctx context.Context, index string, q Query) (int, error) {
	where, args := buildWhere(index, q)
	res, err := p.db.ExecContext(ctx,
		"DELETE FROM documents WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete_by_query %s: %w", index, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete_by_query %s: %w", index, err)
	}
	return int(n), nil
}

func (p *PostgresStore) Bulk(ctx context.Context, ops []BulkOp) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bulk: beginning tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range ops {
		raw, err := encodeSource(op.Doc)
		if err != nil {
			return err
		}
		id := op.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (index_name, id, seq_no, primary_term, source, updated_at)
			VALUES ($1, $2, nextval('documents_seq_no'), $3, $4, now())
			ON CONFLICT (index_name, id) DO UPDATE
			SET seq_no = nextval('documents_seq_no'), source = EXCLUDED.source, updated_at = now()`,
			op.Index, id, p.primaryTerm, raw); err != nil {
			return fmt.Errorf("bulk op %s/%s: %w", op.Index, id, err)
		}
	}
	return tx.Commit()
}

// buildWhere translates the query's filter portion (index pattern,
// terms, ranges) into a WHERE fragment plus args.
func buildWhere(index string, q Query) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if strings.ContainsRune(index, '*') {
		args = append(args, strings.ReplaceAll(index, "*", "%"))
		clauses = append(clauses, fmt.Sprintf("index_name LIKE $%d", len(args)))
	} else {
		args = append(args, index)
		clauses = append(clauses, fmt.Sprintf("index_name = $%d", len(args)))
	}

	for field, want := range q.Terms {
		args = append(args, fmt.Sprintf("%v", want))
		clauses = append(clauses, fmt.Sprintf(
			"source #>> '{%s}' = $%d", jsonPath(field), len(args)))
	}
	for field, r := range q.Ranges {
		if r.GTE != nil {
			args = append(args, fmt.Sprintf("%v", stringValue(r.GTE)))
			clauses = append(clauses, fmt.Sprintf(
				"source #>> '{%s}' >= $%d", jsonPath(field), len(args)))
		}
		if r.LTE != nil {
			args = append(args, fmt.Sprintf("%v", stringValue(r.LTE)))
			clauses = append(clauses, fmt.Sprintf(
				"source #>> '{%s}' <= $%d", jsonPath(field), len(args)))
		}
	}
	return strings.Join(clauses, " AND "), args
}

func orderClause(q Query) string {
	if len(q.Sort) == 0 {
		if q.Match != "" {
			return " ORDER BY score DESC, id ASC"
		}
		return " ORDER BY id ASC"
	}
	var parts []string
	for _, f := range q.Sort {
		dir := "ASC"
		if f.Desc {
			dir = "DESC"
		}
		// jsonb ordering compares numbers numerically and strings
		// lexically, which covers scores and RFC3339 timestamps.
		parts = append(parts, fmt.Sprintf("source #> '{%s}' %s", jsonPath(f.Field), dir))
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// jsonPath converts a dotted field path to a Postgres text[] path
// body. Field names come from code, never user input.
func jsonPath(field string) string {
	return strings.Join(strings.Split(field, "."), ",")
}

func encodeSource(doc any) ([]byte, error) {
	source, err := toSource(doc)
	if err != nil {
		return nil, err
	}
	return marshalSource(source)
}
