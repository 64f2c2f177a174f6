package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

// GetRowsByDocumentID returns the stored rows in the order they were fetched.
func (r *DocumentRepository) GetRowsByDocumentID(ctx context.Context, documentID string) ([]model.ExportRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, payload, created_at FROM export_rows
		WHERE document_id=$1 ORDER BY position, id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("select export rows: %w", err)
	}
	defer rows.Close()

	out := []model.ExportRow{}
	for rows.Next() {
		var (
			row     model.ExportRow
			payload []byte
		)
		if err := rows.Scan(&row.ID, &row.DocumentID, &payload, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		// Identity fields are not part of the JSON form, so these survive.
		if err := json.Unmarshal(payload, &row); err != nil {
			return nil, fmt.Errorf("decode export row %s: %w", row.ID, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export rows: %w", err)
	}
	return out, nil
}

// DeleteRowsByDocumentID drops all rows of a document.
func (r *DocumentRepository) DeleteRowsByDocumentID(ctx context.Context, documentID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM export_rows WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete export rows: %w", err)
	}
	return nil
}

// AddRows appends rows after any already stored for their documents.
func (r *DocumentRepository) AddRows(ctx context.Context, rows []model.ExportRow) error {
	if len(rows) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		offsets := map[string]int{}
		for _, row := range rows {
			if _, ok := offsets[row.DocumentID]; ok {
				continue
			}
			var next int
			if err := tx.QueryRow(ctx, `
				SELECT COALESCE(MAX(position)+1, 0) FROM export_rows WHERE document_id=$1`, row.DocumentID).Scan(&next); err != nil {
				return fmt.Errorf("next export position: %w", err)
			}
			offsets[row.DocumentID] = next
		}
		return r.insertRows(ctx, tx, rows, offsets)
	})
}

// ReplaceRows deletes and re-inserts a document's rows in one transaction.
func (r *DocumentRepository) ReplaceRows(ctx context.Context, documentID string, rows []model.ExportRow) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM export_rows WHERE document_id=$1`, documentID); err != nil {
			return fmt.Errorf("delete export rows: %w", err)
		}
		for i := range rows {
			rows[i].DocumentID = documentID
		}
		return r.insertRows(ctx, tx, rows, map[string]int{documentID: 0})
	})
}

func (r *DocumentRepository) insertRows(ctx context.Context, tx pgx.Tx, rows []model.ExportRow, offsets map[string]int) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = r.now()
		}
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode export row: %w", err)
		}
		pos := offsets[row.DocumentID]
		offsets[row.DocumentID] = pos + 1
		batch.Queue(`
			INSERT INTO export_rows (id, document_id, position, code, description, value, page, payload, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			row.ID, row.DocumentID, pos, row.Code.String(), row.Description.String(), row.Value.String(), row.Page.String(), payload, row.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert export rows: %w", err)
	}
	return nil
}
