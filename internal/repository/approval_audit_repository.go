package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-damage-issues/internal/database"
	"github.com/pesio-ai/be-damage-issues/internal/errors"
)

// ApprovalAuditRepository appends and reads immutable transition audit entries.
type ApprovalAuditRepository struct {
	db *database.DB
}

// NewApprovalAuditRepository creates a new ApprovalAuditRepository.
func NewApprovalAuditRepository(db *database.DB) *ApprovalAuditRepository {
	return &ApprovalAuditRepository{db: db}
}

// Append records one transition and fills in the generated id and timestamp.
// The schema rejects updates and deletes on the log.
func (r *ApprovalAuditRepository) Append(ctx context.Context, entry *ApprovalAuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO damage_approval_audit_log
		    (document_id, action, performed_by, role,
		     status_before, status_after, comment, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id::text, performed_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.DocumentID,
		entry.Action,
		entry.PerformedBy,
		entry.Role,
		entry.StatusBefore,
		entry.StatusAfter,
		entry.Comment,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// GetByDocumentID returns the full audit trail for a document ordered oldest-first.
func (r *ApprovalAuditRepository) GetByDocumentID(ctx context.Context, documentID string) ([]*ApprovalAuditEntry, error) {
	query := `
		SELECT id::text, document_id, action, performed_by, role, performed_at,
		       status_before, status_after, comment, metadata
		FROM damage_approval_audit_log
		WHERE document_id = $1
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ApprovalAuditRepository) scanRows(rows pgx.Rows) ([]*ApprovalAuditEntry, error) {
	entries := make([]*ApprovalAuditEntry, 0)
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read audit log")
	}
	return entries, nil
}

type auditScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalAuditRepository) scanEntry(sc auditScanner) (*ApprovalAuditEntry, error) {
	entry := &ApprovalAuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.DocumentID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.Role,
		&entry.PerformedAt,
		&entry.StatusBefore,
		&entry.StatusAfter,
		&entry.Comment,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}
