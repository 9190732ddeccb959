package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-damage-issues/internal/database"
	"github.com/pesio-ai/be-damage-issues/internal/errors"
	"github.com/pesio-ai/be-damage-issues/internal/workflow"
)

// ApprovalStepsRepository reads and replaces the ledger stages of a document.
// Stage writes happen inside DocumentRepository transactions.
type ApprovalStepsRepository struct {
	db *database.DB
}

// NewApprovalStepsRepository creates a new ApprovalStepsRepository.
func NewApprovalStepsRepository(db *database.DB) *ApprovalStepsRepository {
	return &ApprovalStepsRepository{db: db}
}

const stepColumns = `
	document_id, position, user_type, label, status,
	acted_at, actor_id, actor_name, actor_branch, comment
`

func (r *ApprovalStepsRepository) getByDocumentID(ctx context.Context, q querier, documentID string) (workflow.Ledger, error) {
	query := `SELECT ` + stepColumns + `
		FROM damage_document_approvals
		WHERE document_id = $1
		ORDER BY position ASC
	`

	rows, err := q.Query(ctx, query, documentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	steps, err := r.scanRows(rows)
	if err != nil {
		return nil, err
	}
	return ledgerFromSteps(steps), nil
}

// GetByDocumentIDs loads the ledgers of several documents in one round trip.
func (r *ApprovalStepsRepository) GetByDocumentIDs(ctx context.Context, documentIDs []string) (map[string]workflow.Ledger, error) {
	out := make(map[string]workflow.Ledger, len(documentIDs))
	if len(documentIDs) == 0 {
		return out, nil
	}

	query := `SELECT ` + stepColumns + `
		FROM damage_document_approvals
		WHERE document_id = ANY($1)
		ORDER BY document_id, position ASC
	`

	rows, err := r.db.Query(ctx, query, documentIDs)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	steps, err := r.scanRows(rows)
	if err != nil {
		return nil, err
	}
	for _, s := range steps {
		out[s.DocumentID] = append(out[s.DocumentID], s.record())
	}
	return out, nil
}

// replace swaps a document's stages for l. It must run inside the caller's
// transaction so the ledger and the status never diverge.
func (r *ApprovalStepsRepository) replace(ctx context.Context, tx pgx.Tx, documentID string, l workflow.Ledger) error {
	if _, err := tx.Exec(ctx, `DELETE FROM damage_document_approvals WHERE document_id = $1`, documentID); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear approval steps")
	}

	query := `
		INSERT INTO damage_document_approvals
		    (document_id, position, user_type, label, status,
		     acted_at, actor_id, actor_name, actor_branch, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	batch := &pgx.Batch{}
	for i, rec := range l {
		s := stepFromRecord(documentID, i, rec)
		batch.Queue(query,
			s.DocumentID,
			s.Position,
			s.UserType,
			s.Label,
			s.Status,
			s.ActedAt,
			s.ActorID,
			s.ActorName,
			s.ActorBranch,
			s.Comment,
		)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write approval steps")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type stepScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalStepsRepository) scanStep(row stepScanner) (ApprovalStep, error) {
	var s ApprovalStep
	err := row.Scan(
		&s.DocumentID,
		&s.Position,
		&s.UserType,
		&s.Label,
		&s.Status,
		&s.ActedAt,
		&s.ActorID,
		&s.ActorName,
		&s.ActorBranch,
		&s.Comment,
	)
	return s, err
}

func (r *ApprovalStepsRepository) scanRows(rows pgx.Rows) ([]ApprovalStep, error) {
	var steps []ApprovalStep
	for rows.Next() {
		s, err := r.scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval steps")
	}
	return steps, nil
}
