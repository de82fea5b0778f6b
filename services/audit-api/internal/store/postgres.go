package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"auraaudit/pkg/database"
	"auraaudit/pkg/scoring"
	"auraaudit/shared/types"
)

const uniqueViolation = "23505"

// Postgres is the Store backed by the identities and audit_findings tables.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) InsertFinding(ctx context.Context, owner Owner, f types.AuditFinding) (types.Identity, error) {
	var id types.Identity
	err := database.WithTransaction(ctx, p.db, func(tx *sql.Tx) error {
		// The upsert locks the identity row, serializing score updates per user.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO identities (user_id, display_name)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE
			SET display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE identities.display_name END`,
			owner.UserID, owner.DisplayName); err != nil {
			return fmt.Errorf("upsert identity: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_findings (id, user_id, severity, title, description, category, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			f.ID, owner.UserID, string(f.Severity), f.Title, f.Description, f.Category, string(f.Status), f.Timestamp); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return ErrConflict
			}
			return fmt.Errorf("insert finding: %w", err)
		}

		counts, err := severityCounts(ctx, tx, owner.UserID)
		if err != nil {
			return err
		}
		score := scoring.Compute(counts)

		return tx.QueryRowContext(ctx, `
			UPDATE identities SET reputation_score = $2, updated_at = NOW()
			WHERE user_id = $1
			RETURNING user_id, display_name, reputation_score, updated_at`,
			owner.UserID, score.Value).Scan(&id.UserID, &id.DisplayName, &id.ReputationScore, &id.UpdatedAt)
	})
	if err != nil {
		return types.Identity{}, err
	}
	return id, nil
}

func severityCounts(ctx context.Context, tx *sql.Tx, userID string) (scoring.Counts, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM audit_findings WHERE user_id = $1 GROUP BY severity`, userID)
	if err != nil {
		return scoring.Counts{}, fmt.Errorf("count findings: %w", err)
	}
	defer rows.Close()

	m := make(map[types.Severity]int, len(types.Severities))
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return scoring.Counts{}, fmt.Errorf("scan count: %w", err)
		}
		m[types.Severity(sev)] = n
	}
	if err := rows.Err(); err != nil {
		return scoring.Counts{}, fmt.Errorf("count findings: %w", err)
	}
	return scoring.CountsFromMap(m), nil
}

func (p *Postgres) ListFindings(ctx context.Context, userID string) ([]types.AuditFinding, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, severity, title, description, category, status, created_at
		FROM audit_findings
		WHERE user_id = $1
		ORDER BY seq ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	findings := []types.AuditFinding{}
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	return findings, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFinding(s scanner) (types.AuditFinding, error) {
	var f types.AuditFinding
	var sev, status string
	if err := s.Scan(&f.ID, &sev, &f.Title, &f.Description, &f.Category, &status, &f.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.AuditFinding{}, ErrNotFound
		}
		return types.AuditFinding{}, fmt.Errorf("scan finding: %w", err)
	}
	f.Severity = types.Severity(sev)
	f.Status = types.Status(status)
	f.Timestamp = f.Timestamp.UTC()
	return f, nil
}

func (p *Postgres) GetIdentity(ctx context.Context, userID string) (types.Identity, error) {
	var id types.Identity
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, display_name, reputation_score, updated_at
		FROM identities WHERE user_id = $1`, userID).
		Scan(&id.UserID, &id.DisplayName, &id.ReputationScore, &id.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Identity{}, ErrNotFound
	}
	if err != nil {
		return types.Identity{}, fmt.Errorf("get identity: %w", err)
	}
	return id, nil
}

func (p *Postgres) UpdateStatus(ctx context.Context, userID, findingID string, status types.Status) (types.AuditFinding, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE audit_findings SET status = $3
		WHERE user_id = $1 AND id = $2
		RETURNING id, severity, title, description, category, status, created_at`,
		userID, findingID, string(status))
	return scanFinding(row)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
