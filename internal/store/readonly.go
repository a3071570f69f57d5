package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	readOnlyMaxConns = 4
	readOnlyDriver   = "sqlite3_readonly"
)

var registerReadOnlyDriver sync.Once

// ErrNoColumns is wrapped in a *QueryError when a statement yields no result
// columns, e.g. an empty or comment-only statement.
var ErrNoColumns = errors.New("statement returns no columns")

// readOnlyConnect locks down every read-only connection. mode=ro only covers
// the main database, so attaching other databases is disabled as well.
func readOnlyConnect(conn *sqlite3.SQLiteConn) error {
	conn.SetLimit(sqlite3.SQLITE_LIMIT_ATTACHED, 0)
	conn.RegisterAuthorizer(func(op int, _, _, _ string) int {
		switch op {
		case sqlite3.SQLITE_ATTACH, sqlite3.SQLITE_DETACH:
			return sqlite3.SQLITE_DENY
		default:
			return sqlite3.SQLITE_OK
		}
	})
	return nil
}

// ReadOnly is a read-only connection to the reading database. It is safe for
// concurrent use and never blocks the writer.
type ReadOnly struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// OpenReadOnly opens an existing database without write access.
func OpenReadOnly(path string, logger *zap.Logger) (*ReadOnly, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_query_only=true&_busy_timeout=%d", path, busyTimeout.Milliseconds())
	registerReadOnlyDriver.Do(func() {
		sql.Register(readOnlyDriver, &sqlite3.SQLiteDriver{ConnectHook: readOnlyConnect})
	})
	db, err := sql.Open(readOnlyDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}
	db.SetMaxOpenConns(readOnlyMaxConns)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to read-only database: %w", err)
	}

	logger.Info("read-only database opened", zap.String("path", path))
	return &ReadOnly{db: db, path: path, logger: logger}, nil
}

// Close closes the connection.
func (r *ReadOnly) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close read-only database: %w", err)
	}
	return nil
}

// Metrics returns the current row count and on-disk size.
func (r *ReadOnly) Metrics(ctx context.Context) (Metrics, error) {
	return collectMetrics(ctx, r.db, r.path)
}

// QueryResult is the outcome of a read-only query.
type QueryResult struct {
	Columns   []string `json:"columns"`
	TookMS    uint64   `json:"took_ms"`
	RowsCount uint64   `json:"rows_count"`
	Rows      [][]Cell `json:"rows"`
}

type cellKind uint8

const (
	cellNull cellKind = iota
	cellInt
	cellFloat
)

// Cell is a single query value: null, an integer or a real.
type Cell struct {
	kind cellKind
	i    int64
	f    float64
}

// NullCell returns a null cell.
func NullCell() Cell { return Cell{} }

// IntCell returns an integer cell.
func IntCell(v int64) Cell { return Cell{kind: cellInt, i: v} }

// FloatCell returns a real cell.
func FloatCell(v float64) Cell { return Cell{kind: cellFloat, f: v} }

func (c Cell) IsNull() bool { return c.kind == cellNull }

// Int returns the value of an integer cell.
func (c Cell) Int() (int64, bool) { return c.i, c.kind == cellInt }

// Float returns the value of a real cell.
func (c Cell) Float() (float64, bool) { return c.f, c.kind == cellFloat }

func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case cellInt:
		return json.Marshal(c.i)
	case cellFloat:
		return json.Marshal(c.f)
	default:
		return []byte("null"), nil
	}
}

// Query runs statement on the read-only connection. Values are typed by their
// runtime storage class; text and blob values fail the whole query with an
// *UnexpectedTypeError. Driver errors are returned as *QueryError.
func (r *ReadOnly) Query(ctx context.Context, statement string) (*QueryResult, error) {
	start := time.Now()

	rows, err := r.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	// Blank and comment-only statements prepare to nothing and never end.
	if len(columns) == 0 {
		return nil, &QueryError{Err: ErrNoColumns}
	}

	result := &QueryResult{Columns: columns, Rows: [][]Cell{}}
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, &QueryError{Err: err}
		}

		row := make([]Cell, len(columns))
		for i, v := range values {
			switch v := v.(type) {
			case nil:
				row[i] = NullCell()
			case int64:
				row[i] = IntCell(v)
			case float64:
				row[i] = FloatCell(v)
			default:
				return nil, &UnexpectedTypeError{Column: columns[i], Type: storageClass(v)}
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Err: err}
	}

	result.TookMS = uint64(time.Since(start).Milliseconds())
	result.RowsCount = uint64(len(result.Rows))

	r.logger.Debug("query executed",
		zap.String("statement", statement),
		zap.Uint64("rows", result.RowsCount),
		zap.Uint64("took_ms", result.TookMS))
	return result, nil
}

func storageClass(v any) string {
	switch v.(type) {
	case string:
		return "TEXT"
	case []byte:
		return "BLOB"
	default:
		return fmt.Sprintf("%T", v)
	}
}
