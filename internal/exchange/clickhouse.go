package exchange

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"barbot-go/internal/signal"
)

// ClickHouseConfig points at a candles table with columns
// instrument, ts, open, high, low, close, volume.
type ClickHouseConfig struct {
	DSN          string
	Table        string
	MaxOpenConns int
	PingTimeout  time.Duration
}

// ClickHouseLoader reads historical bars through database/sql.
type ClickHouseLoader struct {
	db    *sql.DB
	table string
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// NewClickHouseLoader opens and pings the connection pool.
func NewClickHouseLoader(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseLoader, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("clickhouse dsn is required")
	}
	db, err := sql.Open("clickhouse", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return NewClickHouseLoaderFromDB(db, cfg.Table)
}

// NewClickHouseLoaderFromDB wraps an existing pool.
func NewClickHouseLoaderFromDB(db *sql.DB, table string) (*ClickHouseLoader, error) {
	if table == "" {
		table = "candles"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("clickhouse table %q is not a plain identifier", table)
	}
	return &ClickHouseLoader{db: db, table: table}, nil
}

// Load returns the instrument's bars in [from, to), ascending. A zero to means open-ended.
func (l *ClickHouseLoader) Load(ctx context.Context, instrument string, from, to time.Time) ([]signal.Bar, error) {
	instrument = strings.ToUpper(strings.TrimSpace(instrument))
	query, args := l.query(instrument, from, to)
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse query %s: %w", instrument, err)
	}
	defer rows.Close()

	var bars []signal.Bar
	for rows.Next() {
		b := signal.Bar{Instrument: instrument}
		if err := rows.Scan(&b.Ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("clickhouse scan %s: %w", instrument, err)
		}
		b.Ts = b.Ts.UTC()
		if err := b.Validate(); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse rows %s: %w", instrument, err)
	}
	return bars, nil
}

// LoadAll loads every instrument and merges them into replay order.
func (l *ClickHouseLoader) LoadAll(ctx context.Context, instruments []string, from, to time.Time) ([]signal.Bar, error) {
	var sets [][]signal.Bar
	for _, in := range normalizeInstruments(instruments) {
		bars, err := l.Load(ctx, in, from, to)
		if err != nil {
			return nil, err
		}
		sets = append(sets, bars)
	}
	return Merge(sets...), nil
}

func (l *ClickHouseLoader) query(instrument string, from, to time.Time) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT ts, open, high, low, close, volume FROM %s WHERE instrument = ? AND ts >= ?", l.table)
	args := []any{instrument, from.UTC()}
	if !to.IsZero() {
		b.WriteString(" AND ts < ?")
		args = append(args, to.UTC())
	}
	b.WriteString(" ORDER BY ts ASC")
	return b.String(), args
}

// Close releases the pool.
func (l *ClickHouseLoader) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
