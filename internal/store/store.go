package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Store wraps the pooled Postgres connection used by the assistant.
type Store struct {
	DB *sql.DB
}

// ColumnDef describes one column of an introspected table.
type ColumnDef struct {
	Name     string
	DataType string
	Nullable bool
}

// ForeignKeyDef describes a foreign-key relationship of an introspected table.
type ForeignKeyDef struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// TableSchema is the introspection result for a single allow-listed table.
type TableSchema struct {
	Name        string
	Columns     []ColumnDef
	ForeignKeys []ForeignKeyDef
	SampleRows  []Row
}

// Row is a single result record keyed by column name.
type Row map[string]interface{}

// ChunkRecord is a stored evidence chunk with its similarity distance when
// returned from a vector search.
type ChunkRecord struct {
	ID       string
	Text     string
	Metadata map[string]interface{}
	Distance float64
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Ping reports database reachability.
func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

// IntrospectSchema enumerates the allow-listed tables and returns their columns,
// foreign keys and up to maxSampleRows sample rows each. Any failure aborts the
// whole introspection; callers never see a partial result.
func (s *Store) IntrospectSchema(ctx context.Context, allowedTables []string, maxSampleRows int) ([]TableSchema, error) {
	if len(allowedTables) == 0 {
		return nil, fmt.Errorf("allowed table list is empty")
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema='public' AND table_name = ANY($1)
ORDER BY table_name`, pq.Array(allowedTables))
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]TableSchema, 0, len(names))
	for _, name := range names {
		table := TableSchema{Name: name}

		cols, err := s.DB.QueryContext(ctx, `
SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema='public' AND table_name=$1
ORDER BY ordinal_position`, name)
		if err != nil {
			return nil, fmt.Errorf("columns of %s: %w", name, err)
		}
		for cols.Next() {
			var col ColumnDef
			var nullable string
			if err := cols.Scan(&col.Name, &col.DataType, &nullable); err != nil {
				cols.Close()
				return nil, err
			}
			col.Nullable = nullable == "YES"
			table.Columns = append(table.Columns, col)
		}
		cols.Close()
		if err := cols.Err(); err != nil {
			return nil, err
		}

		fks, err := s.DB.QueryContext(ctx, `
SELECT kcu.column_name, ccu.table_name AS fk_table, ccu.column_name AS fk_column
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.table_schema='public' AND tc.table_name=$1 AND tc.constraint_type='FOREIGN KEY'`, name)
		if err != nil {
			return nil, fmt.Errorf("foreign keys of %s: %w", name, err)
		}
		for fks.Next() {
			var fk ForeignKeyDef
			if err := fks.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
				fks.Close()
				return nil, err
			}
			table.ForeignKeys = append(table.ForeignKeys, fk)
		}
		fks.Close()
		if err := fks.Err(); err != nil {
			return nil, err
		}

		if maxSampleRows > 0 {
			samples, err := s.queryRows(ctx, fmt.Sprintf(`SELECT * FROM %s LIMIT %d`, pq.QuoteIdentifier(name), maxSampleRows), 0)
			if err != nil {
				return nil, fmt.Errorf("sample rows of %s: %w", name, err)
			}
			table.SampleRows = samples
		}
		out = append(out, table)
	}
	return out, nil
}

// ExecuteReadOnly runs a single validated statement inside a read-only
// transaction with a local statement timeout. The transaction never commits
// data changes even if an unsafe statement slips past the validator. maxRows
// caps the result independently of the statement's own LIMIT.
func (s *Store) ExecuteReadOnly(ctx context.Context, query string, timeout time.Duration, maxRows int) ([]Row, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("set statement timeout: %w", err)
	}

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := scanRows(rows, maxRows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		// The transaction is read-only; a failed commit loses nothing.
		return out, nil
	}
	return out, nil
}

func (s *Store) queryRows(ctx context.Context, query string, maxRows int) ([]Row, error) {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows, maxRows)
}

func scanRows(rows *sql.Rows, maxRows int) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []Row{}
	for rows.Next() {
		if maxRows > 0 && len(out) >= maxRows {
			break
		}
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(Row, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rec[col] = v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SearchChunks returns the k nearest chunks to the supplied vector by inner
// product. Vectors in the chunk table are unit-normalized, so inner-product
// ordering matches cosine similarity.
func (s *Store) SearchChunks(ctx context.Context, table string, vector []float32, k int) ([]ChunkRecord, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if k <= 0 {
		k = 50
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
SELECT content_hash, chunk_text, metadata, embedding <#> $1::vector AS distance
FROM %s
ORDER BY embedding <#> $1::vector
LIMIT $2`, pq.QuoteIdentifier(table)), vecLiteral, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChunkRecord
	for rows.Next() {
		var (
			rec       ChunkRecord
			metaBytes []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &metaBytes, &rec.Distance); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &rec.Metadata)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// ListChunks returns every stored chunk without embeddings, for building
// keyword indexes over the corpus.
func (s *Store) ListChunks(ctx context.Context, table string) ([]ChunkRecord, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
SELECT content_hash, chunk_text, metadata FROM %s`, pq.QuoteIdentifier(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChunkRecord
	for rows.Next() {
		var (
			rec       ChunkRecord
			metaBytes []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &metaBytes); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &rec.Metadata)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// ChunkCount returns the number of stored evidence chunks.
func (s *Store) ChunkCount(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, pq.QuoteIdentifier(table))).Scan(&n)
	return n, err
}

// InsertChunk stores one evidence chunk keyed by the content hash of its text
// and source tag. Inserting the same (text, source) pair twice is a no-op; the
// boolean reports whether a row was written.
func (s *Store) InsertChunk(ctx context.Context, table, text, source string, metadata map[string]interface{}, vector []float32) (bool, error) {
	if text == "" {
		return false, fmt.Errorf("chunk text must not be empty")
	}
	if len(vector) == 0 {
		return false, fmt.Errorf("embedding vector required")
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return false, err
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["source"] = source
	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (content_hash, chunk_text, metadata, embedding, created_at)
VALUES ($1,$2,$3,$4::vector,NOW())
ON CONFLICT (content_hash) DO NOTHING`, pq.QuoteIdentifier(table)),
		ChunkHash(text, source), text, metaBytes, vecLiteral)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ChunkHash content-addresses a chunk by its text and source tag.
func ChunkHash(text, source string) string {
	h := sha256.Sum256([]byte(source + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// Chat session persistence

// EnsureChatSession creates the session row if absent.
func (s *Store) EnsureChatSession(ctx context.Context, id, userID string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO chat_sessions (id, user_id, created_at)
VALUES ($1,$2,NOW())
ON CONFLICT (id) DO NOTHING`, id, nullable(userID))
	return err
}

// AppendChatTurn records one question/answer exchange for a session.
func (s *Store) AppendChatTurn(ctx context.Context, sessionID, question, answer string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO chat_messages (session_id, question, answer, created_at)
VALUES ($1,$2,$3,NOW())`, sessionID, question, answer)
	return err
}

// RecentChatTurns returns up to limit most recent turns in chronological order.
func (s *Store) RecentChatTurns(ctx context.Context, sessionID string, limit int) ([][2]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT question, answer FROM (
  SELECT question, answer, created_at, id
  FROM chat_messages
  WHERE session_id=$1
  ORDER BY created_at DESC, id DESC
  LIMIT $2
) recent
ORDER BY created_at ASC, id ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var turns [][2]string
	for rows.Next() {
		var q, a string
		if err := rows.Scan(&q, &a); err != nil {
			return nil, err
		}
		turns = append(turns, [2]string{q, a})
	}
	return turns, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
