package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

// GetRowsByDocumentID returns the stored rows in the order they were fetched.
func (s *Store) GetRowsByDocumentID(ctx context.Context, documentID string) ([]model.ExportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, payload, created_at FROM export_rows
		WHERE document_id = ? ORDER BY position, id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying export rows: %w", err)
	}
	defer rows.Close()

	out := []model.ExportRow{}
	for rows.Next() {
		var (
			row     model.ExportRow
			payload string
		)
		if err := rows.Scan(&row.ID, &row.DocumentID, &payload, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning export row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &row); err != nil {
			return nil, fmt.Errorf("unmarshaling export row %s: %w", row.ID, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteRowsByDocumentID drops all rows of a document.
func (s *Store) DeleteRowsByDocumentID(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM export_rows WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting export rows: %w", err)
	}
	return nil
}

// AddRows appends rows after any already stored for their documents.
func (s *Store) AddRows(ctx context.Context, rows []model.ExportRow) error {
	if len(rows) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		offsets := map[string]int{}
		for _, row := range rows {
			if _, ok := offsets[row.DocumentID]; ok {
				continue
			}
			var next int
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(position) + 1, 0) FROM export_rows WHERE document_id = ?`,
				row.DocumentID).Scan(&next); err != nil {
				return fmt.Errorf("next export position: %w", err)
			}
			offsets[row.DocumentID] = next
		}
		return s.insertRows(ctx, tx, rows, offsets)
	})
}

// ReplaceRows deletes and re-inserts a document's rows in one transaction.
func (s *Store) ReplaceRows(ctx context.Context, documentID string, rows []model.ExportRow) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM export_rows WHERE document_id = ?`, documentID); err != nil {
			return fmt.Errorf("deleting export rows: %w", err)
		}
		for i := range rows {
			rows[i].DocumentID = documentID
		}
		return s.insertRows(ctx, tx, rows, map[string]int{documentID: 0})
	})
}

func (s *Store) insertRows(ctx context.Context, tx *sql.Tx, rows []model.ExportRow, offsets map[string]int) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO export_rows (id, document_id, position, code, description, value, page, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing export row insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = s.now()
		}
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshalling export row: %w", err)
		}
		pos := offsets[row.DocumentID]
		offsets[row.DocumentID] = pos + 1
		if _, err := stmt.ExecContext(ctx,
			row.ID, row.DocumentID, pos, row.Code.String(), row.Description.String(),
			row.Value.String(), row.Page.String(), string(payload), row.CreatedAt); err != nil {
			return fmt.Errorf("inserting export row: %w", err)
		}
	}
	return nil
}
