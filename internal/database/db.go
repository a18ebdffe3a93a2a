package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/cache"
	"github.com/ZyrticX/DELTA-MIX/internal/model"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// maxRowsPerStatement keeps a multi-row upsert well under the 65535 bind limit
const maxRowsPerStatement = 1000

// DB represents a database connection
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
}

// DSN renders the lib/pq connection string
func (p ConnectionParams) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, sslMode,
	)
}

// New creates a new database connection and ensures the schema exists
func New(ctx context.Context, params ConnectionParams) (*DB, error) {
	db, err := sql.Open("postgres", params.DSN())
	if err != nil {
		return nil, WrapDBError("open", err)
	}

	if params.MaxOpenConns > 0 {
		db.SetMaxOpenConns(params.MaxOpenConns)
		db.SetMaxIdleConns(params.MaxOpenConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	// Check connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, WrapDBError("ping", err)
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, WrapDBError("create_tables", err)
	}

	return &DB{DB: db, logger: log.With().Str("component", "postgres").Logger()}, nil
}

// createTables creates the necessary tables if they don't exist
func createTables(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS correlation_snapshots (
			stock_symbol TEXT NOT NULL,
			snapshot_date DATE NOT NULL,
			lookback_days INTEGER NOT NULL,
			forward_days INTEGER NOT NULL,
			correlation_threshold NUMERIC(6,4) NOT NULL,
			window_type TEXT NOT NULL DEFAULT 'trading_days',
			matched_stocks JSONB NOT NULL DEFAULT '[]',
			num_matches INTEGER NOT NULL DEFAULT 0,
			future_return_pct DOUBLE PRECISION,
			movement_type TEXT,
			pattern_signature TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (stock_symbol, snapshot_date, lookback_days, forward_days, correlation_threshold)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_date ON correlation_snapshots (snapshot_date)`,
		`CREATE TABLE IF NOT EXISTS stock_list (
			symbol TEXT PRIMARY KEY,
			company_name TEXT,
			sector TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS daily_analysis_cache (
			analysis_date DATE NOT NULL,
			stock_symbol TEXT NOT NULL,
			params_hash TEXT NOT NULL,
			result JSONB NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (analysis_date, stock_symbol, params_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_cache_expires ON daily_analysis_cache (expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSnapshots writes a batch of snapshots, replacing rows with the same key
func (db *DB) UpsertSnapshots(ctx context.Context, batch []model.CorrelationSnapshot) (int, error) {
	rows := dedupeSnapshots(batch)
	written := 0
	for start := 0; start < len(rows); start += maxRowsPerStatement {
		end := min(start+maxRowsPerStatement, len(rows))
		query, args, err := buildSnapshotUpsert(rows[start:end])
		if err != nil {
			return written, err
		}
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return written, WrapDBError("upsert_snapshots", err)
		}
		written += end - start
	}

	db.logger.Debug().Int("rows", written).Msg("Upserted snapshots")
	return written, nil
}

var snapshotColumns = []string{
	"stock_symbol", "snapshot_date", "lookback_days", "forward_days", "correlation_threshold",
	"window_type", "matched_stocks", "num_matches", "future_return_pct", "movement_type", "pattern_signature",
}

// buildSnapshotUpsert renders one INSERT ... ON CONFLICT statement for rows
func buildSnapshotUpsert(rows []model.CorrelationSnapshot) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO correlation_snapshots (")
	sb.WriteString(strings.Join(snapshotColumns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(snapshotColumns))
	for i, s := range rows {
		if s.StockSymbol == "" {
			return "", nil, &ValidationError{Field: "stock_symbol", Reason: "must not be empty"}
		}

		matched := s.MatchedStocks
		if matched == nil {
			matched = []model.MatchedStock{}
		}
		matchedJSON, err := json.Marshal(matched)
		if err != nil {
			return "", nil, fmt.Errorf("encoding matched stocks for %s: %w", s.StockSymbol, err)
		}

		var futureReturn sql.NullFloat64
		if s.FutureReturnPct != nil {
			futureReturn = sql.NullFloat64{Float64: *s.FutureReturnPct, Valid: true}
		}
		movement := sql.NullString{String: string(s.MovementType), Valid: s.MovementType != ""}
		windowType := s.Params.WindowType
		if windowType == "" {
			windowType = model.WindowTradingDays
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(placeholders(len(args)+1, len(snapshotColumns)))
		args = append(args,
			s.StockSymbol,
			model.Day(s.SnapshotDate),
			s.Params.LookbackDays,
			s.Params.ForwardDays,
			model.CanonicalThreshold(s.Params.CorrelationThreshold),
			windowType,
			string(matchedJSON),
			len(matched),
			futureReturn,
			movement,
			s.PatternSignature,
		)
	}

	sb.WriteString(` ON CONFLICT (stock_symbol, snapshot_date, lookback_days, forward_days, correlation_threshold)
		DO UPDATE SET
			window_type = EXCLUDED.window_type,
			matched_stocks = EXCLUDED.matched_stocks,
			num_matches = EXCLUDED.num_matches,
			future_return_pct = EXCLUDED.future_return_pct,
			movement_type = EXCLUDED.movement_type,
			pattern_signature = EXCLUDED.pattern_signature`)

	return sb.String(), args, nil
}

// placeholders renders "($first, ..., $first+n-1)"
func placeholders(first, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", first+i)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// dedupeSnapshots keeps the last row per key; Postgres rejects a statement
// that updates the same row twice.
func dedupeSnapshots(batch []model.CorrelationSnapshot) []model.CorrelationSnapshot {
	index := make(map[model.SnapshotKey]int, len(batch))
	out := make([]model.CorrelationSnapshot, 0, len(batch))
	for _, s := range batch {
		k := s.Key()
		if i, ok := index[k]; ok {
			out[i] = s
			continue
		}
		index[k] = len(out)
		out = append(out, s)
	}
	return out
}

// QuerySnapshots returns snapshots matching filter, newest first
func (db *DB) QuerySnapshots(ctx context.Context, filter SnapshotFilter) ([]model.CorrelationSnapshot, error) {
	query, args := buildSnapshotQuery(filter)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapDBError("query_snapshots", err)
	}
	defer rows.Close()

	var out []model.CorrelationSnapshot
	for rows.Next() {
		var (
			s            model.CorrelationSnapshot
			threshold    decimal.Decimal
			matchedJSON  []byte
			futureReturn sql.NullFloat64
			movement     sql.NullString
			signature    sql.NullString
		)
		if err := rows.Scan(
			&s.StockSymbol, &s.SnapshotDate, &s.Params.LookbackDays, &s.Params.ForwardDays, &threshold,
			&s.Params.WindowType, &matchedJSON, &s.NumMatches, &futureReturn, &movement, &signature, &s.CreatedAt,
		); err != nil {
			return nil, WrapDBError("scan_snapshot", err)
		}

		s.SnapshotDate = model.Day(s.SnapshotDate)
		s.Params.CorrelationThreshold = threshold.InexactFloat64()
		if err := json.Unmarshal(matchedJSON, &s.MatchedStocks); err != nil {
			return nil, fmt.Errorf("decoding matched stocks for %s: %w", s.StockSymbol, err)
		}
		if futureReturn.Valid {
			v := futureReturn.Float64
			s.FutureReturnPct = &v
		}
		if movement.Valid {
			s.MovementType = model.MovementType(movement.String)
		}
		if signature.Valid {
			s.PatternSignature = signature.String
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapDBError("query_snapshots", err)
	}

	return out, nil
}

// buildSnapshotQuery renders the SELECT for a filter
func buildSnapshotQuery(filter SnapshotFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.Symbol != "" {
		add("stock_symbol = $%d", filter.Symbol)
	}
	if !filter.From.IsZero() {
		add("snapshot_date >= $%d", model.Day(filter.From))
	}
	if !filter.To.IsZero() {
		add("snapshot_date <= $%d", model.Day(filter.To))
	}
	if !filter.Before.IsZero() {
		add("snapshot_date < $%d", model.Day(filter.Before))
	}
	if filter.Params != nil {
		add("lookback_days = $%d", filter.Params.LookbackDays)
		add("forward_days = $%d", filter.Params.ForwardDays)
		add("correlation_threshold = $%d", model.CanonicalThreshold(filter.Params.CorrelationThreshold))
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(snapshotColumns, ", "))
	sb.WriteString(", created_at FROM correlation_snapshots")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY snapshot_date DESC, stock_symbol")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	return sb.String(), args
}

// UpsertStockUniverse inserts or updates the tracked stocks
func (db *DB) UpsertStockUniverse(ctx context.Context, stocks []model.Stock) error {
	if len(stocks) == 0 {
		return nil
	}

	seen := make(map[string]int, len(stocks))
	unique := make([]model.Stock, 0, len(stocks))
	for _, s := range stocks {
		if i, ok := seen[s.Symbol]; ok {
			unique[i] = s
			continue
		}
		seen[s.Symbol] = len(unique)
		unique = append(unique, s)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO stock_list (symbol, company_name, sector, is_active, updated_at) VALUES ")
	args := make([]any, 0, len(unique)*4)
	for i, s := range unique {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, NOW())", n+1, n+2, n+3, n+4))
		args = append(args, s.Symbol, s.CompanyName, s.Sector, s.IsActive)
	}
	sb.WriteString(` ON CONFLICT (symbol)
		DO UPDATE SET
			company_name = EXCLUDED.company_name,
			sector = EXCLUDED.sector,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`)

	if _, err := db.ExecContext(ctx, sb.String(), args...); err != nil {
		return WrapDBError("upsert_stock_universe", err)
	}
	return nil
}

// DeactivateMissing marks every stock not in active as inactive
func (db *DB) DeactivateMissing(ctx context.Context, active []string) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE stock_list
		SET is_active = FALSE, updated_at = NOW()
		WHERE is_active AND NOT (symbol = ANY($1))
	`, pq.Array(active))
	if err != nil {
		return 0, WrapDBError("deactivate_missing", err)
	}
	return res.RowsAffected()
}

// GetActiveUniverse lists active symbols alphabetically
func (db *DB) GetActiveUniverse(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT symbol FROM stock_list WHERE is_active ORDER BY symbol`)
	if err != nil {
		return nil, WrapDBError("get_active_universe", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, WrapDBError("get_active_universe", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, WrapDBError("get_active_universe", rows.Err())
}

// CacheGet loads an unexpired cached result into dest
func (db *DB) CacheGet(ctx context.Context, key cache.Key, dest any) (bool, error) {
	var result []byte
	err := db.QueryRowContext(ctx, `
		SELECT result
		FROM daily_analysis_cache
		WHERE analysis_date = $1 AND stock_symbol = $2 AND params_hash = $3 AND expires_at > NOW()
	`, model.Day(key.Date), key.Symbol, key.ParamsHash).Scan(&result)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, WrapDBError("cache_get", err)
	}

	if err := json.Unmarshal(result, dest); err != nil {
		return false, fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return true, nil
}

// CachePut stores value for ttl
func (db *DB) CachePut(ctx context.Context, key cache.Key, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO daily_analysis_cache (analysis_date, stock_symbol, params_hash, result, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (analysis_date, stock_symbol, params_hash)
		DO UPDATE SET
			result = EXCLUDED.result,
			expires_at = EXCLUDED.expires_at
	`, model.Day(key.Date), key.Symbol, key.ParamsHash, string(data), time.Now().Add(ttl))

	return WrapDBError("cache_put", err)
}

// PurgeExpiredCache deletes expired cache rows
func (db *DB) PurgeExpiredCache(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM daily_analysis_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, WrapDBError("purge_expired_cache", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, WrapDBError("purge_expired_cache", err)
	}
	db.logger.Info().Int64("purged", n).Msg("Purged expired cache rows")
	return n, nil
}
