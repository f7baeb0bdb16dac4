package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"settlex/internal/engine"
	"settlex/internal/model"
)

const disputeColumns = `id, subject_type, subject_id, reason, proof_url, status, outcome,
	opened_at, deadline_at, resolved_at, resolved_by`

type DisputeRepo struct {
	db *pgxpool.Pool
}

func NewDisputeRepo(db *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{db: db}
}

// Create inserts an open dispute. A partial unique index on open disputes per
// subject turns a duplicate into ErrDisputeOpen.
func (r *DisputeRepo) Create(ctx context.Context, d *model.Dispute) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO disputes (id, subject_type, subject_id, reason, proof_url, status, opened_at, deadline_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.SubjectType, d.SubjectID, d.Reason, d.ProofURL, d.Status, d.OpenedAt, d.DeadlineAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return engine.ErrDisputeOpen
		}
		return fmt.Errorf("disputes: insert: %w", err)
	}
	return nil
}

func (r *DisputeRepo) Get(ctx context.Context, id string) (*model.Dispute, error) {
	return scanDispute(r.db.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
}

func (r *DisputeRepo) FindExpired(ctx context.Context, now time.Time) ([]*model.Dispute, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE status != $1 AND deadline_at <= $2
		ORDER BY deadline_at`,
		model.DisputeResolved, now,
	)
	if err != nil {
		return nil, fmt.Errorf("disputes: find expired: %w", err)
	}
	defer rows.Close()

	var out []*model.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Resolve closes the dispute, conditional on it still being open. A dispute
// closed by a human between scan and sweep yields ErrConflict, which callers
// treat as "already handled".
func (r *DisputeRepo) Resolve(ctx context.Context, id string, outcome model.DisputeOutcome, by string, at time.Time) (*model.Dispute, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE disputes
		SET status = $2, outcome = $3, resolved_by = $4, resolved_at = $5
		WHERE id = $1 AND status != $2
		RETURNING `+disputeColumns,
		id, model.DisputeResolved, outcome, by, at,
	)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			if _, getErr := r.Get(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, engine.ErrConflict
		}
		return nil, err
	}
	return d, nil
}

func scanDispute(row pgx.Row) (*model.Dispute, error) {
	var d model.Dispute
	var outcome, resolvedBy *string
	err := row.Scan(&d.ID, &d.SubjectType, &d.SubjectID, &d.Reason, &d.ProofURL,
		&d.Status, &outcome, &d.OpenedAt, &d.DeadlineAt, &d.ResolvedAt, &resolvedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrNotFound
		}
		return nil, fmt.Errorf("disputes: scan: %w", err)
	}
	if outcome != nil {
		d.Outcome = model.DisputeOutcome(*outcome)
	}
	if resolvedBy != nil {
		d.ResolvedBy = *resolvedBy
	}
	return &d, nil
}
