package repository

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-damage-issues/internal/database"
	"github.com/pesio-ai/be-damage-issues/internal/errors"
	"github.com/pesio-ai/be-damage-issues/internal/workflow"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func createError(err error, doc *workflow.Document) error {
	if isUniqueViolation(err) {
		return errors.Wrap(err, errors.ErrCodeConflict, fmt.Sprintf("document %s or number %s already exists", doc.ID, doc.Number))
	}
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to create document")
}

// DocumentRepository handles damage document data operations
type DocumentRepository struct {
	db    *database.DB
	steps *ApprovalStepsRepository
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *database.DB, steps *ApprovalStepsRepository) *DocumentRepository {
	return &DocumentRepository{db: db, steps: steps}
}

const documentColumns = `
	id, number, status, total_amount::text, branch, requester_name,
	version, created_at, updated_at
`

// Create inserts a document with its items and initial ledger
func (r *DocumentRepository) Create(ctx context.Context, doc *workflow.Document) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO damage_documents (id, number, status, total_amount, branch,
			                              requester_name, created_at, updated_at)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
			RETURNING version
		`

		err := tx.QueryRow(ctx, query,
			doc.ID,
			doc.Number,
			string(doc.Status),
			doc.TotalAmount.String(),
			doc.Branch,
			doc.RequesterName,
			doc.CreatedAt,
			doc.UpdatedAt,
		).Scan(&doc.Version)
		if err != nil {
			return createError(err, doc)
		}

		itemQuery := `
			INSERT INTO damage_document_items (document_id, line_number, description,
			                                   quantity, unit_price, amount)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric)
		`
		for i, it := range doc.Items {
			_, err := tx.Exec(ctx, itemQuery,
				doc.ID,
				i+1,
				it.Description,
				it.Quantity.String(),
				it.UnitPrice.String(),
				it.Amount.String(),
			)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create document item")
			}
		}

		return r.steps.replace(ctx, tx, doc.ID, doc.Approvals)
	})
}

// GetByID retrieves a document with its items and ledger
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*workflow.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM damage_documents WHERE id = $1`

	doc, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get document")
	}

	if doc.Items, err = r.getItems(ctx, id); err != nil {
		return nil, err
	}
	if doc.Approvals, err = r.steps.getByDocumentID(ctx, r.db, id); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) getItems(ctx context.Context, documentID string) ([]workflow.LineItem, error) {
	query := `
		SELECT description, quantity::text, unit_price::text, amount::text
		FROM damage_document_items
		WHERE document_id = $1
		ORDER BY line_number
	`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get document items")
	}
	defer rows.Close()

	items := make([]workflow.LineItem, 0)
	for rows.Next() {
		var it workflow.LineItem
		var qty, price, amount string
		if err := rows.Scan(&it.Description, &qty, &price, &amount); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan document item")
		}
		if it.Quantity, err = parseAmount(qty); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = parseAmount(price); err != nil {
			return nil, err
		}
		if it.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read document items")
	}
	return items, nil
}

// List retrieves document headers with filtering and pagination
func (r *DocumentRepository) List(ctx context.Context, f ListFilter) ([]*workflow.Document, int64, error) {
	query := `SELECT ` + documentColumns + ` FROM damage_documents WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM damage_documents WHERE 1=1`

	args := []interface{}{}
	argCount := 1

	if f.Branch != nil {
		query += fmt.Sprintf(" AND branch = $%d", argCount)
		countQuery += fmt.Sprintf(" AND branch = $%d", argCount)
		args = append(args, *f.Branch)
		argCount++
	}

	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		countQuery += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, *f.Status)
		argCount++
	}

	query += " ORDER BY created_at DESC, number DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)

	queryArgs := append(append([]interface{}{}, args...), f.Limit, f.Offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count documents")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list documents")
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// ListByStatuses returns one page of open documents in any of statuses, with
// their ledgers loaded, oldest first. An empty branch matches every branch.
func (r *DocumentRepository) ListByStatuses(ctx context.Context, statuses []workflow.DocumentStatus, branch string, limit, offset int) ([]*workflow.Document, error) {
	if len(statuses) == 0 {
		return []*workflow.Document{}, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `SELECT ` + documentColumns + `
		FROM damage_documents
		WHERE status = ANY($1)
		  AND ($2 = '' OR branch = $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Query(ctx, query, names, branch, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list documents by status")
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	ledgers, err := r.steps.GetByDocumentIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		d.Approvals = ledgers[d.ID]
	}
	return docs, nil
}

// SaveTransition writes a new status and ledger for doc, provided the stored
// version still equals expectedVersion. On success doc.Version is advanced.
func (r *DocumentRepository) SaveTransition(ctx context.Context, doc *workflow.Document, expectedVersion int64) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE damage_documents
			SET status     = $2,
			    version    = version + 1,
			    updated_at = $4
			WHERE id = $1 AND version = $3
			RETURNING version
		`

		err := tx.QueryRow(ctx, query, doc.ID, string(doc.Status), expectedVersion, doc.UpdatedAt).Scan(&doc.Version)
		if err == pgx.ErrNoRows {
			return r.missingOrStale(ctx, tx, doc.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update document status")
		}

		return r.steps.replace(ctx, tx, doc.ID, doc.Approvals)
	})
}

func (r *DocumentRepository) missingOrStale(ctx context.Context, q querier, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM damage_documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to check document")
	}
	if !exists {
		return errors.NotFound("document", id)
	}
	return errors.VersionConflict("document", id)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type documentScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row documentScanner) (*workflow.Document, error) {
	doc := &workflow.Document{}
	var status, amount string
	err := row.Scan(
		&doc.ID,
		&doc.Number,
		&status,
		&amount,
		&doc.Branch,
		&doc.RequesterName,
		&doc.Version,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.Status = workflow.DocumentStatus(status)
	if doc.TotalAmount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	return doc, nil
}

func scanDocuments(rows pgx.Rows) ([]*workflow.Document, error) {
	docs := make([]*workflow.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan document")
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read documents")
	}
	return docs, nil
}

// parseAmount reads a NUMERIC column selected as text.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, errors.ErrCodeInternal, "invalid numeric value")
	}
	return d, nil
}
