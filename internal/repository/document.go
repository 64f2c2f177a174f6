// Package repository holds the PostgreSQL document and export row stores.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/IteraFlow/internal/apperr"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
	"github.com/dharsanguruparan/IteraFlow/internal/processing"
)

var (
	_ processing.DocumentStore  = (*DocumentRepository)(nil)
	_ processing.ExportRowStore = (*DocumentRepository)(nil)
)

const documentColumns = `id, filename, content, content_type, tax_id, description, remote_id, status, processed, error_message, created_at, updated_at`

// DocumentRepository wraps all SQL used for documents and their export rows.
type DocumentRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewDocumentRepository constructs a repository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Add inserts a document, replacing an existing row with the same id.
func (r *DocumentRepository) Add(ctx context.Context, doc *model.Document) error {
	r.prepare(doc)
	if _, err := r.pool.Exec(ctx, insertDocument, insertArgs(doc)...); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// AddMany inserts all documents in one transaction.
func (r *DocumentRepository) AddMany(ctx context.Context, docs []*model.Document) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, doc := range docs {
			r.prepare(doc)
			batch.Queue(insertDocument, insertArgs(doc)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert documents: %w", err)
		}
		return nil
	})
}

const insertDocument = `
	INSERT INTO documents (` + documentColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (id) DO UPDATE SET
		filename = EXCLUDED.filename,
		content = EXCLUDED.content,
		content_type = EXCLUDED.content_type,
		tax_id = EXCLUDED.tax_id,
		description = EXCLUDED.description,
		remote_id = EXCLUDED.remote_id,
		status = EXCLUDED.status,
		processed = EXCLUDED.processed,
		error_message = EXCLUDED.error_message,
		updated_at = EXCLUDED.updated_at`

func (r *DocumentRepository) prepare(doc *model.Document) {
	now := r.now()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.Status == "" {
		doc.Status = string(model.StateNotUploaded)
	}
	doc.UpdatedAt = now
}

func insertArgs(doc *model.Document) []any {
	return []any{
		doc.ID, doc.Filename, doc.Content, doc.ContentType, doc.TaxID, doc.Description,
		doc.RemoteID, doc.Status, doc.Processed, doc.ErrorMessage, doc.CreatedAt, doc.UpdatedAt,
	}
}

// GetByID returns a document by id or apperr.ErrNotFound.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*model.Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	return doc, nil
}

// GetByIDs returns the documents that exist, in request order.
func (r *DocumentRepository) GetByIDs(ctx context.Context, ids []string) ([]model.Document, error) {
	if len(ids) == 0 {
		return []model.Document{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	found, err := collectDocuments(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Document, len(found))
	for _, doc := range found {
		byID[doc.ID] = doc
	}
	out := make([]model.Document, 0, len(found))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			out = append(out, doc)
			delete(byID, id)
		}
	}
	return out, nil
}

// GetAll returns every document, oldest first.
func (r *DocumentRepository) GetAll(ctx context.Context) ([]model.Document, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	return collectDocuments(rows)
}

// UpdateRemoteStatus records the remote id and status and clears the
// processed and error flags.
func (r *DocumentRepository) UpdateRemoteStatus(ctx context.Context, id string, remoteID *string, status string) error {
	return r.update(ctx, id, `
		UPDATE documents SET remote_id=$2, status=$3, processed=FALSE, error_message=NULL, updated_at=$4
		WHERE id=$1`, remoteID, status)
}

// MarkProcessed flags the document as successfully processed.
func (r *DocumentRepository) MarkProcessed(ctx context.Context, id string) error {
	return r.update(ctx, id, `
		UPDATE documents SET processed=TRUE, error_message=NULL, updated_at=$2 WHERE id=$1`)
}

// MarkError stores a failure message.
func (r *DocumentRepository) MarkError(ctx context.Context, id, message string) error {
	return r.update(ctx, id, `
		UPDATE documents SET processed=FALSE, error_message=$2, updated_at=$3 WHERE id=$1`, message)
}

// update runs stmt with id as $1, args next and the timestamp last.
func (r *DocumentRepository) update(ctx context.Context, id, stmt string, args ...any) error {
	params := append([]any{id}, args...)
	params = append(params, r.now())
	tag, err := r.pool.Exec(ctx, stmt, params...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("document", id)
	}
	return nil
}

func collectDocuments(rows pgx.Rows) ([]model.Document, error) {
	defer rows.Close()
	out := []model.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var (
		doc      model.Document
		remoteID sql.NullString
		errorMsg sql.NullString
	)
	if err := row.Scan(
		&doc.ID, &doc.Filename, &doc.Content, &doc.ContentType, &doc.TaxID, &doc.Description,
		&remoteID, &doc.Status, &doc.Processed, &errorMsg, &doc.CreatedAt, &doc.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if remoteID.Valid {
		id := remoteID.String
		doc.RemoteID = &id
	}
	if errorMsg.Valid {
		msg := errorMsg.String
		doc.ErrorMessage = &msg
	}
	return &doc, nil
}
