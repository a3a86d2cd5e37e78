package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pointdist/internal/member/models"
	"pointdist/internal/platform/database"
	"pointdist/pkg/email"
	"pointdist/pkg/identity"
	"pointdist/pkg/platform/sentinel"
	"pointdist/pkg/platform/tx"
)

// Postgres persists members in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed member store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, m *models.Member) error {
	_, err := tx.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO members (identifier, group_id, name, email, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, string(m.Identifier), m.GroupID, m.Name, m.Email, m.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

const memberColumns = `identifier, group_id, name, email, created_at`

func scanMember(row interface{ Scan(...any) error }) (*models.Member, error) {
	var (
		m  models.Member
		id string
	)
	if err := row.Scan(&id, &m.GroupID, &m.Name, &m.Email, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Identifier = identity.Identifier(id)
	return &m, nil
}

func (s *Postgres) FindByIdentifier(ctx context.Context, group string, id identity.Identifier) (*models.Member, error) {
	row := tx.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE group_id = $1 AND identifier = $2`,
		group, string(id))
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find member: %w", err)
	}
	return m, nil
}

func (s *Postgres) FindByEmail(ctx context.Context, group, address string) (*models.Member, error) {
	row := tx.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE group_id = $1 AND email = $2`,
		group, email.Normalize(address))
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find member by email: %w", err)
	}
	return m, nil
}

func (s *Postgres) ListByGroup(ctx context.Context, group string) ([]*models.Member, error) {
	rows, err := tx.ExecutorFor(ctx, s.db).QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE group_id = $1 ORDER BY email`, group)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	out := []*models.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
