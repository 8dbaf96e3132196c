package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PostgresAccountResolver maps bank account codes to benefactor ids. Only
// heads of household with the configured kind and registration status count.
// When an active column is set, rows where it is false are skipped too.
type PostgresAccountResolver struct {
	kind         string
	status       string
	activeColumn string
}

// NewPostgresAccountResolver creates a resolver for the given eligibility values
func NewPostgresAccountResolver(kind, status string) *PostgresAccountResolver {
	return &PostgresAccountResolver{kind: kind, status: status}
}

// WithActiveColumn requires the named boolean column to be true for a match.
// An empty name leaves eligibility to kind and registration status.
func (r *PostgresAccountResolver) WithActiveColumn(column string) *PostgresAccountResolver {
	r.activeColumn = strings.TrimSpace(column)
	return r
}

// ResolveAccount returns the single eligible account whose agreement number
// matches code.
func (r *PostgresAccountResolver) ResolveAccount(ctx context.Context, q Querier, code string) (uuid.UUID, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return uuid.Nil, ErrAccountNotFound
	}

	query := `
		SELECT id FROM benefactors
		WHERE agreement_number = $1 AND kind = $2 AND registration_status = $3`
	if r.activeColumn != "" {
		query += " AND " + pgx.Identifier{r.activeColumn}.Sanitize()
	}
	query += " LIMIT 2"

	rows, err := q.Query(ctx, query, code, r.kind, r.status)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve account: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return uuid.Nil, fmt.Errorf("failed to scan account: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve account: %w", err)
	}

	switch len(ids) {
	case 0:
		return uuid.Nil, ErrAccountNotFound
	case 1:
		return ids[0], nil
	default:
		return uuid.Nil, ErrAccountAmbiguous
	}
}
