package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"pointdist/internal/member/models"
	"pointdist/internal/platform/database"
	"pointdist/pkg/email"
	"pointdist/pkg/identity"
	"pointdist/pkg/platform/sentinel"
	"pointdist/pkg/platform/tx"
)

type memberRow struct {
	Identifier string `gorm:"primaryKey;size:64"`
	GroupID    string `gorm:"primaryKey;uniqueIndex:idx_members_group_email"`
	Name       string `gorm:"not null"`
	Email      string `gorm:"not null;uniqueIndex:idx_members_group_email"`
	CreatedAt  time.Time
}

func (memberRow) TableName() string { return "members" }

func (r memberRow) toModel() *models.Member {
	return &models.Member{
		Identifier: identity.Identifier(r.Identifier),
		GroupID:    r.GroupID,
		Name:       r.Name,
		Email:      r.Email,
		CreatedAt:  r.CreatedAt,
	}
}

// SQLite is the embedded member store.
type SQLite struct {
	db *gorm.DB
}

// NewSQLite wraps an open gorm handle; call Migrate before first use.
func NewSQLite(db *gorm.DB) *SQLite {
	return &SQLite{db: db}
}

// Migrate creates or updates the members table.
func (s *SQLite) Migrate() error {
	return s.db.AutoMigrate(&memberRow{})
}

func (s *SQLite) Create(ctx context.Context, m *models.Member) error {
	row := memberRow{
		Identifier: string(m.Identifier),
		GroupID:    m.GroupID,
		Name:       m.Name,
		Email:      m.Email,
		CreatedAt:  m.CreatedAt,
	}
	if err := tx.GormFor(ctx, s.db).Create(&row).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *SQLite) find(ctx context.Context, query string, args ...any) (*models.Member, error) {
	var row memberRow
	if err := tx.GormFor(ctx, s.db).Where(query, args...).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find member: %w", err)
	}
	return row.toModel(), nil
}

func (s *SQLite) FindByIdentifier(ctx context.Context, group string, id identity.Identifier) (*models.Member, error) {
	return s.find(ctx, "group_id = ? AND identifier = ?", group, string(id))
}

func (s *SQLite) FindByEmail(ctx context.Context, group, address string) (*models.Member, error) {
	return s.find(ctx, "group_id = ? AND email = ?", group, email.Normalize(address))
}

func (s *SQLite) ListByGroup(ctx context.Context, group string) ([]*models.Member, error) {
	var rows []memberRow
	if err := tx.GormFor(ctx, s.db).Where("group_id = ?", group).Order("email").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	out := make([]*models.Member, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
