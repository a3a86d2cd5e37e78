package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pointdist/internal/platform/database"
	"pointdist/internal/points/models"
	dErrors "pointdist/pkg/domain-errors"
	"pointdist/pkg/identity"
	"pointdist/pkg/platform/sentinel"
	"pointdist/pkg/platform/tx"
	"pointdist/pkg/week"
)

const defaultTxTimeout = 5 * time.Second

// Postgres persists distributions in PostgreSQL. Every method writes through
// the transaction bound to ctx, when there is one.
type Postgres struct {
	db        *sql.DB
	txTimeout time.Duration
}

// NewPostgres constructs a PostgreSQL-backed distribution store.
func NewPostgres(db *sql.DB, txTimeout time.Duration) *Postgres {
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	return &Postgres{db: db, txTimeout: txTimeout}
}

func (s *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := tx.From(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(tx.WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const distributionColumns = `id, group_id, week, final, date, created_at, finalized_at`

func scanDistribution(row interface{ Scan(...any) error }) (*models.Distribution, error) {
	var (
		d           models.Distribution
		id          string
		weekDate    time.Time
		finalizedAt sql.NullTime
	)
	if err := row.Scan(&id, &d.GroupID, &weekDate, &d.Final, &d.Date, &d.CreatedAt, &finalizedAt); err != nil {
		return nil, err
	}
	d.ID = models.DistributionID(id)
	d.Week = week.FromTime(weekDate)
	if finalizedAt.Valid {
		at := finalizedAt.Time
		d.FinalizedAt = &at
	}
	return &d, nil
}

func (s *Postgres) GetOrCreate(ctx context.Context, d *models.Distribution) (*models.Distribution, error) {
	exec := tx.ExecutorFor(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO distributions (id, group_id, week, final, date, created_at)
		VALUES ($1, $2, $3, FALSE, $4, $5)
		ON CONFLICT DO NOTHING
	`, string(d.ID), d.GroupID, d.Week.String(), d.Date, d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert distribution: %w", err)
	}
	return s.FindByWeek(ctx, d.GroupID, d.Week)
}

func (s *Postgres) FindByWeek(ctx context.Context, group string, wk week.Key) (*models.Distribution, error) {
	row := tx.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+distributionColumns+` FROM distributions WHERE group_id = $1 AND week = $2`,
		group, wk.String())
	d, err := scanDistribution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find distribution: %w", err)
	}
	return d, nil
}

func (s *Postgres) ListFinal(ctx context.Context, group string) ([]*models.Distribution, error) {
	rows, err := tx.ExecutorFor(ctx, s.db).QueryContext(ctx,
		`SELECT `+distributionColumns+` FROM distributions WHERE group_id = $1 AND final ORDER BY week`,
		group)
	if err != nil {
		return nil, fmt.Errorf("list final distributions: %w", err)
	}
	defer rows.Close()

	var out []*models.Distribution
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan distribution: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// distributionState explains why a conditional write touched no row.
func (s *Postgres) distributionState(ctx context.Context, id models.DistributionID) error {
	var final bool
	err := tx.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT final FROM distributions WHERE id = $1`, string(id)).Scan(&final)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("load distribution state: %w", err)
	}
	if final {
		return fmt.Errorf("distribution %s: %w", id, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *Postgres) MarkFinal(ctx context.Context, id models.DistributionID, at time.Time) error {
	res, err := tx.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		UPDATE distributions SET final = TRUE, finalized_at = $2
		WHERE id = $1 AND final = FALSE
	`, string(id), at)
	if err != nil {
		return fmt.Errorf("mark distribution final: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark distribution final: %w", err)
	}
	if n == 0 {
		if err := s.distributionState(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("distribution %s: %w", id, sentinel.ErrInvalidState)
	}
	return nil
}

// lockOpen takes a share lock on the distribution row and fails unless it is
// still provisional. The lock conflicts with MarkFinal's row lock, so inside a
// transaction an allocation write and a finalization of the same week
// serialize; whichever comes second sees the other's outcome.
func (s *Postgres) lockOpen(ctx context.Context, id models.DistributionID) error {
	var final bool
	err := tx.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT final FROM distributions WHERE id = $1 FOR SHARE`, string(id)).Scan(&final)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("lock distribution: %w", err)
	}
	if final {
		return fmt.Errorf("distribution %s: %w", id, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *Postgres) UpsertAllocation(ctx context.Context, a *models.Allocation) error {
	if err := s.lockOpen(ctx, a.DistributionID); err != nil {
		return err
	}
	_, err := tx.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO allocations (distribution_id, from_member, to_member, week, points, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (distribution_id, from_member, to_member, week) DO UPDATE SET
			points = EXCLUDED.points,
			updated_at = EXCLUDED.updated_at
	`, string(a.DistributionID), string(a.From), string(a.To), a.Week.String(), a.Points, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert allocation: %w", err)
	}
	return nil
}

const allocationColumns = `distribution_id, from_member, to_member, week, points, updated_at`

func scanAllocation(row interface{ Scan(...any) error }) (models.Allocation, error) {
	var (
		a                models.Allocation
		distID, from, to string
		weekDate         time.Time
	)
	if err := row.Scan(&distID, &from, &to, &weekDate, &a.Points, &a.UpdatedAt); err != nil {
		return a, err
	}
	a.DistributionID = models.DistributionID(distID)
	a.From = identity.Identifier(from)
	a.To = identity.Identifier(to)
	a.Week = week.FromTime(weekDate)
	return a, nil
}

func (s *Postgres) FindAllocation(ctx context.Context, id models.DistributionID, from, to identity.Identifier) (*models.Allocation, error) {
	row := tx.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+allocationColumns+` FROM allocations
		WHERE distribution_id = $1 AND from_member = $2 AND to_member = $3`,
		string(id), string(from), string(to))
	a, err := scanAllocation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find allocation: %w", err)
	}
	return &a, nil
}

func (s *Postgres) ListAllocations(ctx context.Context, id models.DistributionID) ([]models.Allocation, error) {
	rows, err := tx.ExecutorFor(ctx, s.db).QueryContext(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE distribution_id = $1 ORDER BY from_member, to_member`,
		string(id))
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	out := []models.Allocation{}
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Postgres) DeleteAllocations(ctx context.Context, id models.DistributionID) error {
	_, err := tx.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM allocations WHERE distribution_id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete allocations: %w", err)
	}
	return nil
}

func (s *Postgres) Archive(ctx context.Context, a *models.ArchivedAllocation) error {
	_, err := tx.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO archived_allocations (id, distribution_id, group_id, week, to_member, points, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, string(a.DistributionID), a.GroupID, a.Week.String(), string(a.To), a.Points, a.ArchivedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("archive allocation: %w", err)
	}
	return nil
}

const archivedColumns = `id, distribution_id, group_id, week, to_member, points, archived_at`

func (s *Postgres) listArchived(ctx context.Context, where string, args ...any) ([]models.ArchivedAllocation, error) {
	rows, err := tx.ExecutorFor(ctx, s.db).QueryContext(ctx,
		`SELECT `+archivedColumns+` FROM archived_allocations WHERE `+where+` ORDER BY week, to_member, points, id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list archived allocations: %w", err)
	}
	defer rows.Close()

	var out []models.ArchivedAllocation
	for rows.Next() {
		var (
			a          models.ArchivedAllocation
			id         uuid.UUID
			distID, to string
			weekDate   time.Time
		)
		if err := rows.Scan(&id, &distID, &a.GroupID, &weekDate, &to, &a.Points, &a.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan archived allocation: %w", err)
		}
		a.ID = id
		a.DistributionID = models.DistributionID(distID)
		a.Week = week.FromTime(weekDate)
		a.To = identity.Identifier(to)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Postgres) ListArchivedByDistribution(ctx context.Context, id models.DistributionID) ([]models.ArchivedAllocation, error) {
	return s.listArchived(ctx, `distribution_id = $1`, string(id))
}

func (s *Postgres) ListArchivedByRecipient(ctx context.Context, group string, to identity.Identifier) ([]models.ArchivedAllocation, error) {
	return s.listArchived(ctx, `group_id = $1 AND to_member = $2`, group, string(to))
}
