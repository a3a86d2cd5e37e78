package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pointdist/internal/platform/database"
	"pointdist/internal/points/models"
	"pointdist/pkg/identity"
	"pointdist/pkg/platform/sentinel"
	"pointdist/pkg/platform/tx"
	"pointdist/pkg/week"
)

type distributionRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	GroupID     string `gorm:"not null;uniqueIndex:idx_distributions_group_week"`
	Week        string `gorm:"size:10;not null;uniqueIndex:idx_distributions_group_week"`
	Final       bool   `gorm:"not null"`
	Date        time.Time
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

func (distributionRow) TableName() string { return "distributions" }

type allocationRow struct {
	DistributionID string `gorm:"primaryKey;size:64"`
	FromMember     string `gorm:"primaryKey;size:64"`
	ToMember       string `gorm:"primaryKey;size:64"`
	Week           string `gorm:"primaryKey;size:10"`
	Points         int    `gorm:"not null"`
	UpdatedAt      time.Time
}

func (allocationRow) TableName() string { return "allocations" }

type archivedRow struct {
	ID             string `gorm:"primaryKey;size:36"`
	DistributionID string `gorm:"size:64;not null;index"`
	GroupID        string `gorm:"not null;index:idx_archived_group_recipient"`
	Week           string `gorm:"size:10;not null"`
	ToMember       string `gorm:"size:64;not null;index:idx_archived_group_recipient"`
	Points         int    `gorm:"not null"`
	ArchivedAt     time.Time
}

func (archivedRow) TableName() string { return "archived_allocations" }

// parseWeek rejects a corrupt stored week instead of panicking the request.
func parseWeek(table, raw string) (week.Key, error) {
	wk, err := week.Parse(raw)
	if err != nil {
		return week.Key{}, fmt.Errorf("%s: stored week: %w", table, err)
	}
	return wk, nil
}

func (r distributionRow) toModel() (*models.Distribution, error) {
	wk, err := parseWeek("distributions", r.Week)
	if err != nil {
		return nil, err
	}
	return &models.Distribution{
		ID:          models.DistributionID(r.ID),
		GroupID:     r.GroupID,
		Week:        wk,
		Final:       r.Final,
		Date:        r.Date,
		CreatedAt:   r.CreatedAt,
		FinalizedAt: r.FinalizedAt,
	}, nil
}

func (r allocationRow) toModel() (models.Allocation, error) {
	wk, err := parseWeek("allocations", r.Week)
	if err != nil {
		return models.Allocation{}, err
	}
	return models.Allocation{
		DistributionID: models.DistributionID(r.DistributionID),
		From:           identity.Identifier(r.FromMember),
		To:             identity.Identifier(r.ToMember),
		Week:           wk,
		Points:         r.Points,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

func (r archivedRow) toModel() (models.ArchivedAllocation, error) {
	wk, err := parseWeek("archived_allocations", r.Week)
	if err != nil {
		return models.ArchivedAllocation{}, err
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return models.ArchivedAllocation{}, fmt.Errorf("archived_allocations: stored id: %w", err)
	}
	return models.ArchivedAllocation{
		ID:             id,
		DistributionID: models.DistributionID(r.DistributionID),
		GroupID:        r.GroupID,
		Week:           wk,
		To:             identity.Identifier(r.ToMember),
		Points:         r.Points,
		ArchivedAt:     r.ArchivedAt,
	}, nil
}

// SQLite is the embedded, single-file distribution store.
type SQLite struct {
	db *gorm.DB
}

// NewSQLite wraps an open gorm handle; call Migrate before first use.
func NewSQLite(db *gorm.DB) *SQLite {
	return &SQLite{db: db}
}

// Migrate creates or updates the distribution tables.
func (s *SQLite) Migrate() error {
	return s.db.AutoMigrate(&distributionRow{}, &allocationRow{}, &archivedRow{})
}

func (s *SQLite) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := tx.GormFrom(ctx); ok {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(tx.WithGorm(ctx, gtx))
	})
}

func (s *SQLite) conn(ctx context.Context) *gorm.DB {
	return tx.GormFor(ctx, s.db)
}

func (s *SQLite) GetOrCreate(ctx context.Context, d *models.Distribution) (*models.Distribution, error) {
	row := distributionRow{
		ID:        string(d.ID),
		GroupID:   d.GroupID,
		Week:      d.Week.String(),
		Date:      d.Date,
		CreatedAt: d.CreatedAt,
	}
	if err := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("insert distribution: %w", err)
	}
	return s.FindByWeek(ctx, d.GroupID, d.Week)
}

func (s *SQLite) FindByWeek(ctx context.Context, group string, wk week.Key) (*models.Distribution, error) {
	var row distributionRow
	err := s.conn(ctx).Where("group_id = ? AND week = ?", group, wk.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find distribution: %w", err)
	}
	return row.toModel()
}

func (s *SQLite) ListFinal(ctx context.Context, group string) ([]*models.Distribution, error) {
	var rows []distributionRow
	if err := s.conn(ctx).Where("group_id = ? AND final = ?", group, true).Order("week").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list final distributions: %w", err)
	}
	out := make([]*models.Distribution, 0, len(rows))
	for _, r := range rows {
		d, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *SQLite) distributionState(ctx context.Context, id models.DistributionID) error {
	var row distributionRow
	err := s.conn(ctx).Select("id", "final").Where("id = ?", string(id)).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("load distribution state: %w", err)
	}
	if row.Final {
		return fmt.Errorf("distribution %s: %w", id, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *SQLite) MarkFinal(ctx context.Context, id models.DistributionID, at time.Time) error {
	res := s.conn(ctx).Model(&distributionRow{}).
		Where("id = ? AND final = ?", string(id), false).
		Updates(map[string]any{"final": true, "finalized_at": at})
	if res.Error != nil {
		return fmt.Errorf("mark distribution final: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := s.distributionState(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("distribution %s: %w", id, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *SQLite) UpsertAllocation(ctx context.Context, a *models.Allocation) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.distributionState(ctx, a.DistributionID); err != nil {
			return err
		}
		row := allocationRow{
			DistributionID: string(a.DistributionID),
			FromMember:     string(a.From),
			ToMember:       string(a.To),
			Week:           a.Week.String(),
			Points:         a.Points,
			UpdatedAt:      a.UpdatedAt,
		}
		err := s.conn(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "distribution_id"}, {Name: "from_member"}, {Name: "to_member"}, {Name: "week"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"points", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("upsert allocation: %w", err)
		}
		return nil
	})
}

func (s *SQLite) FindAllocation(ctx context.Context, id models.DistributionID, from, to identity.Identifier) (*models.Allocation, error) {
	var row allocationRow
	err := s.conn(ctx).
		Where("distribution_id = ? AND from_member = ? AND to_member = ?", string(id), string(from), string(to)).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find allocation: %w", err)
	}
	a, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLite) ListAllocations(ctx context.Context, id models.DistributionID) ([]models.Allocation, error) {
	var rows []allocationRow
	err := s.conn(ctx).Where("distribution_id = ?", string(id)).Order("from_member, to_member").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	out := make([]models.Allocation, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLite) DeleteAllocations(ctx context.Context, id models.DistributionID) error {
	err := s.conn(ctx).Where("distribution_id = ?", string(id)).Delete(&allocationRow{}).Error
	if err != nil {
		return fmt.Errorf("delete allocations: %w", err)
	}
	return nil
}

func (s *SQLite) Archive(ctx context.Context, a *models.ArchivedAllocation) error {
	row := archivedRow{
		ID:             a.ID.String(),
		DistributionID: string(a.DistributionID),
		GroupID:        a.GroupID,
		Week:           a.Week.String(),
		ToMember:       string(a.To),
		Points:         a.Points,
		ArchivedAt:     a.ArchivedAt,
	}
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("archive allocation: %w", err)
	}
	return nil
}

func (s *SQLite) listArchived(ctx context.Context, query string, args ...any) ([]models.ArchivedAllocation, error) {
	var rows []archivedRow
	err := s.conn(ctx).Where(query, args...).Order("week, to_member, points, id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list archived allocations: %w", err)
	}
	out := make([]models.ArchivedAllocation, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLite) ListArchivedByDistribution(ctx context.Context, id models.DistributionID) ([]models.ArchivedAllocation, error) {
	return s.listArchived(ctx, "distribution_id = ?", string(id))
}

func (s *SQLite) ListArchivedByRecipient(ctx context.Context, group string, to identity.Identifier) ([]models.ArchivedAllocation, error) {
	return s.listArchived(ctx, "group_id = ? AND to_member = ?", group, string(to))
}
