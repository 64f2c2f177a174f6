package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/IteraFlow/internal/apperr"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

const documentColumns = `id, filename, content, content_type, tax_id, description, remote_id, status, processed, error_message, created_at, updated_at`

const insertDocument = `
	INSERT INTO documents (` + documentColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		filename = excluded.filename,
		content = excluded.content,
		content_type = excluded.content_type,
		tax_id = excluded.tax_id,
		description = excluded.description,
		remote_id = excluded.remote_id,
		status = excluded.status,
		processed = excluded.processed,
		error_message = excluded.error_message,
		updated_at = excluded.updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Add inserts or replaces a document.
func (s *Store) Add(ctx context.Context, doc *model.Document) error {
	return s.insert(ctx, s.db, doc)
}

// AddMany inserts all documents in one transaction.
func (s *Store) AddMany(ctx context.Context, docs []*model.Document) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, doc := range docs {
			if err := s.insert(ctx, tx, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insert(ctx context.Context, db execer, doc *model.Document) error {
	now := s.now()
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
	_, err := db.ExecContext(ctx, insertDocument,
		doc.ID, doc.Filename, doc.Content, doc.ContentType, doc.TaxID, doc.Description,
		nullString(doc.RemoteID), doc.Status, doc.Processed, nullString(doc.ErrorMessage),
		doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetByID returns a document or apperr.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	return doc, nil
}

// GetByIDs returns the documents that exist, in request order.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]model.Document, error) {
	if len(ids) == 0 {
		return []model.Document{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	found, err := s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents WHERE id IN (`+placeholders+`)`, args...)
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
func (s *Store) GetAll(ctx context.Context) ([]model.Document, error) {
	return s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at, id`)
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	out := []model.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

// UpdateRemoteStatus records the remote id and status and clears the
// processed and error flags.
func (s *Store) UpdateRemoteStatus(ctx context.Context, id string, remoteID *string, status string) error {
	return s.update(ctx, id,
		`UPDATE documents SET remote_id = ?, status = ?, processed = 0, error_message = NULL, updated_at = ? WHERE id = ?`,
		nullString(remoteID), status)
}

// MarkProcessed flags the document as successfully processed.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	return s.update(ctx, id,
		`UPDATE documents SET processed = 1, error_message = NULL, updated_at = ? WHERE id = ?`)
}

// MarkError stores a failure message.
func (s *Store) MarkError(ctx context.Context, id, message string) error {
	return s.update(ctx, id,
		`UPDATE documents SET processed = 0, error_message = ?, updated_at = ? WHERE id = ?`, message)
}

// update binds args, then the timestamp, then id.
func (s *Store) update(ctx context.Context, id, stmt string, args ...any) error {
	params := append(args, s.now(), id)
	res, err := s.db.ExecContext(ctx, stmt, params...)
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("document", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*model.Document, error) {
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
	doc.RemoteID = fromNull(remoteID)
	doc.ErrorMessage = fromNull(errorMsg)
	return &doc, nil
}
