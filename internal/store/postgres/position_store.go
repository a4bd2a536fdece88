package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, created_at, symbol,
	long_exchange, short_exchange, long_instrument, short_instrument,
	entry_long_price, entry_short_price, entry_spread_pct,
	quantity, notional_usd, margin_used_usd, leverage,
	entry_fees_usd, exit_fees_usd, total_fees_usd,
	entry_long_min_qty, entry_short_min_qty, entry_long_qty_step, entry_short_qty_step,
	status, remaining_quantity,
	close_attempts, first_close_attempt, last_close_attempt, liquidity_warnings,
	long_leg_closed, short_leg_closed, long_leg_closed_at, short_leg_closed_at,
	closed_at, exit_long_price, exit_short_price, exit_spread_pct,
	gross_profit_usd, net_profit_usd, roi_pct,
	open_reason, close_reason`

// openStatusFilter matches every non-terminal status; it must stay aligned
// with domain.OpenStatuses.
const openStatusFilter = `status IN ('open', 'partially_closed', 'partial_leg_closed')`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string

	err := row.Scan(
		&p.ID, &p.CreatedAt, &p.Symbol,
		&p.LongExchange, &p.ShortExchange, &p.LongInstrument, &p.ShortInstrument,
		&p.EntryLongPrice, &p.EntryShortPrice, &p.EntrySpreadPct,
		&p.Quantity, &p.NotionalUSD, &p.MarginUsedUSD, &p.Leverage,
		&p.EntryFeesUSD, &p.ExitFeesUSD, &p.TotalFeesUSD,
		&p.EntryLongMinQty, &p.EntryShortMinQty, &p.EntryLongQtyStep, &p.EntryShortQtyStep,
		&status, &p.RemainingQuantity,
		&p.CloseAttempts, &p.FirstCloseAttempt, &p.LastCloseAttempt, &p.LiquidityWarnings,
		&p.LongLegClosed, &p.ShortLegClosed, &p.LongLegClosedAt, &p.ShortLegClosedAt,
		&p.ClosedAt, &p.ExitLongPrice, &p.ExitShortPrice, &p.ExitSpreadPct,
		&p.GrossProfitUSD, &p.NetProfitUSD, &p.ROIPct,
		&p.OpenReason, &p.CloseReason,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

const positionInsert = `
	INSERT INTO positions (
		id, created_at, symbol,
		long_exchange, short_exchange, long_instrument, short_instrument,
		entry_long_price, entry_short_price, entry_spread_pct,
		quantity, notional_usd, margin_used_usd, leverage,
		entry_fees_usd, exit_fees_usd, total_fees_usd,
		entry_long_min_qty, entry_short_min_qty, entry_long_qty_step, entry_short_qty_step,
		status, remaining_quantity,
		close_attempts, first_close_attempt, last_close_attempt, liquidity_warnings,
		long_leg_closed, short_leg_closed, long_leg_closed_at, short_leg_closed_at,
		closed_at, exit_long_price, exit_short_price, exit_spread_pct,
		gross_profit_usd, net_profit_usd, roi_pct,
		open_reason, close_reason, updated_at
	) VALUES (
		$1, $2, $3,
		$4, $5, $6, $7,
		$8, $9, $10,
		$11, $12, $13, $14,
		$15, $16, $17,
		$18, $19, $20, $21,
		$22, $23,
		$24, $25, $26, $27,
		$28, $29, $30, $31,
		$32, $33, $34, $35,
		$36, $37, $38,
		$39, $40, NOW()
	)`

func positionInsertArgs(p domain.Position) []any {
	return []any{
		p.ID, p.CreatedAt, p.Symbol,
		p.LongExchange, p.ShortExchange, p.LongInstrument, p.ShortInstrument,
		p.EntryLongPrice, p.EntryShortPrice, p.EntrySpreadPct,
		p.Quantity, p.NotionalUSD, p.MarginUsedUSD, p.Leverage,
		p.EntryFeesUSD, p.ExitFeesUSD, p.TotalFeesUSD,
		p.EntryLongMinQty, p.EntryShortMinQty, p.EntryLongQtyStep, p.EntryShortQtyStep,
		string(p.Status), p.RemainingQuantity,
		p.CloseAttempts, p.FirstCloseAttempt, p.LastCloseAttempt, p.LiquidityWarnings,
		p.LongLegClosed, p.ShortLegClosed, p.LongLegClosedAt, p.ShortLegClosedAt,
		p.ClosedAt, p.ExitLongPrice, p.ExitShortPrice, p.ExitSpreadPct,
		p.GrossProfitUSD, p.NetProfitUSD, p.ROIPct,
		p.OpenReason, p.CloseReason,
	}
}

// CreatePosition inserts a new position without the uniqueness re-check.
func (s *PositionStore) CreatePosition(ctx context.Context, p domain.Position) error {
	if _, err := s.pool.Exec(ctx, positionInsert, positionInsertArgs(p)...); err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// OpenPosition re-checks pair uniqueness and inserts the position in one
// transaction, so two concurrent opens for the same symbol and exchanges
// cannot both commit.
func (s *PositionStore) OpenPosition(ctx context.Context, p domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: open position %s: begin: %w", p.ID, err)
	}
	defer tx.Rollback(ctx)

	// Serialize competing opens for the symbol via the advisory lock, then
	// re-check before inserting.
	if _, err := tx.Exec(ctx,
		"SELECT pg_advisory_xact_lock(hashtext($1))", p.Symbol,
	); err != nil {
		return fmt.Errorf("postgres: open position %s: lock: %w", p.ID, err)
	}

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM positions
			WHERE symbol = $1
			  AND `+openStatusFilter+`
			  AND (long_exchange  IN ($2, $3) OR
			       short_exchange IN ($2, $3))
		)`, p.Symbol, p.LongExchange, p.ShortExchange,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: open position %s: uniqueness check: %w", p.ID, err)
	}
	if exists {
		return domain.ErrDuplicatePosition
	}

	if _, err := tx.Exec(ctx, positionInsert, positionInsertArgs(p)...); err != nil {
		return fmt.Errorf("postgres: open position %s: insert: %w", p.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: open position %s: commit: %w", p.ID, err)
	}
	return nil
}

// GetPosition retrieves a single position by its ID.
func (s *PositionStore) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

const positionUpdateSet = `
		UPDATE positions SET
			status               = $2,
			remaining_quantity   = $3,
			exit_fees_usd        = $4,
			total_fees_usd       = $5,
			close_attempts       = $6,
			first_close_attempt  = $7,
			last_close_attempt   = $8,
			liquidity_warnings   = $9,
			long_leg_closed      = $10,
			short_leg_closed     = $11,
			long_leg_closed_at   = $12,
			short_leg_closed_at  = $13,
			closed_at            = $14,
			exit_long_price      = $15,
			exit_short_price     = $16,
			exit_spread_pct      = $17,
			gross_profit_usd     = $18,
			net_profit_usd       = $19,
			roi_pct              = $20,
			close_reason         = $21,
			created_at           = $22,
			updated_at           = NOW()`

func positionUpdateArgs(p domain.Position) []any {
	return []any{
		p.ID,
		string(p.Status), p.RemainingQuantity,
		p.ExitFeesUSD, p.TotalFeesUSD,
		p.CloseAttempts, p.FirstCloseAttempt, p.LastCloseAttempt, p.LiquidityWarnings,
		p.LongLegClosed, p.ShortLegClosed, p.LongLegClosedAt, p.ShortLegClosedAt,
		p.ClosedAt, p.ExitLongPrice, p.ExitShortPrice, p.ExitSpreadPct,
		p.GrossProfitUSD, p.NetProfitUSD, p.ROIPct,
		p.CloseReason, p.CreatedAt,
	}
}

// UpdatePosition replaces all mutable fields of a position.
func (s *PositionStore) UpdatePosition(ctx context.Context, p domain.Position) error {
	const query = positionUpdateSet + `
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, positionUpdateArgs(p)...)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClosePosition persists a terminal transition, refusing to touch a row that
// is already closed.
func (s *PositionStore) ClosePosition(ctx context.Context, p domain.Position) error {
	const query = positionUpdateSet + `
		WHERE id = $1 AND status != 'closed'`

	tag, err := s.pool.Exec(ctx, query, positionUpdateArgs(p)...)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM positions WHERE id = $1`, p.ID).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrNotFound
	case err != nil:
		return fmt.Errorf("postgres: close position %s: %w", p.ID, err)
	default:
		return domain.ErrPositionClosed
	}
}

// GetOpenPositions returns every position in a non-terminal status, oldest
// first so long-held positions are checked before fresh ones.
func (s *PositionStore) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE `+openStatusFilter+`
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// GetClosedPositions returns closed positions, most recently closed first.
// limit <= 0 returns all of them.
func (s *PositionStore) GetClosedPositions(ctx context.Context, limit int) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		 WHERE status = 'closed'
		 ORDER BY closed_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: get closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// HasOpenPositionForSymbolAndExchanges reports whether any non-terminal
// position for symbol uses ex1 or ex2 on either leg.
func (s *PositionStore) HasOpenPositionForSymbolAndExchanges(ctx context.Context, symbol, ex1, ex2 string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM positions
			WHERE symbol = $1
			  AND `+openStatusFilter+`
			  AND (long_exchange  IN ($2, $3) OR
			       short_exchange IN ($2, $3))
		)`, symbol, ex1, ex2,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check open position for %s: %w", symbol, err)
	}
	return exists, nil
}

// CreateCloseAttempt appends one close-attempt audit record.
func (s *PositionStore) CreateCloseAttempt(ctx context.Context, a domain.CloseAttempt) error {
	const query = `
		INSERT INTO close_attempts (
			id, position_id, attempted_at,
			available_long_qty, available_short_qty, required_qty, liquidity_sufficient,
			attempted_long_price, attempted_short_price, attempted_spread_pct,
			success, failure_reason, partial_close, closed_qty
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14
		)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.PositionID, a.AttemptedAt,
		a.AvailableLongQty, a.AvailableShortQty, a.RequiredQty, a.LiquiditySufficient,
		a.AttemptedLongPrice, a.AttemptedShortPrice, a.AttemptedSpreadPct,
		a.Success, a.FailureReason, a.PartialClose, a.ClosedQty,
	)
	if err != nil {
		return fmt.Errorf("postgres: create close attempt for %s: %w", a.PositionID, err)
	}
	return nil
}

// GetCloseAttempts returns a position's close attempts, oldest first.
// limit <= 0 returns all of them.
func (s *PositionStore) GetCloseAttempts(ctx context.Context, positionID string, limit int) ([]domain.CloseAttempt, error) {
	query := `
		SELECT id, position_id, attempted_at,
		       available_long_qty, available_short_qty, required_qty, liquidity_sufficient,
		       attempted_long_price, attempted_short_price, attempted_spread_pct,
		       success, failure_reason, partial_close, closed_qty
		FROM close_attempts
		WHERE position_id = $1
		ORDER BY attempted_at ASC`
	args := []any{positionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: get close attempts for %s: %w", positionID, err)
	}
	defer rows.Close()

	var attempts []domain.CloseAttempt
	for rows.Next() {
		var a domain.CloseAttempt
		if err := rows.Scan(
			&a.ID, &a.PositionID, &a.AttemptedAt,
			&a.AvailableLongQty, &a.AvailableShortQty, &a.RequiredQty, &a.LiquiditySufficient,
			&a.AttemptedLongPrice, &a.AttemptedShortPrice, &a.AttemptedSpreadPct,
			&a.Success, &a.FailureReason, &a.PartialClose, &a.ClosedQty,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan close attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan close attempts: %w", err)
	}
	return attempts, nil
}

// GetPositionStats aggregates outcomes across the whole position history in
// a single query.
func (s *PositionStore) GetPositionStats(ctx context.Context) (domain.PositionStats, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE status <> 'closed'),
			COUNT(*) FILTER (WHERE status = 'closed'),
			COALESCE(SUM(net_profit_usd) FILTER (WHERE status = 'closed'), 0),
			COALESCE(AVG(CASE WHEN net_profit_usd > 0 THEN 100.0 ELSE 0.0 END)
				FILTER (WHERE status = 'closed'), 0),
			COALESCE(AVG(roi_pct) FILTER (WHERE status = 'closed'), 0)
		FROM positions`

	var stats domain.PositionStats
	err := s.pool.QueryRow(ctx, query).Scan(
		&stats.OpenPositions,
		&stats.ClosedPositions,
		&stats.TotalNetPnLUSD,
		&stats.WinRatePct,
		&stats.AvgROIPct,
	)
	if err != nil {
		return domain.PositionStats{}, fmt.Errorf("postgres: position stats: %w", err)
	}
	return stats, nil
}
