package processing

import (
	"context"

	"github.com/dharsanguruparan/IteraFlow/internal/itera"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

// DocumentStore persists documents. Missing documents are apperr.ErrNotFound;
// GetByIDs skips them.
type DocumentStore interface {
	GetByID(ctx context.Context, id string) (*model.Document, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.Document, error)
	GetAll(ctx context.Context) ([]model.Document, error)
	Add(ctx context.Context, doc *model.Document) error
	AddMany(ctx context.Context, docs []*model.Document) error
	UpdateRemoteStatus(ctx context.Context, id string, remoteID *string, status string) error
	MarkProcessed(ctx context.Context, id string) error
	MarkError(ctx context.Context, id, message string) error
}

// ExportRowStore persists export rows. ReplaceRows must be all-or-nothing.
type ExportRowStore interface {
	GetRowsByDocumentID(ctx context.Context, documentID string) ([]model.ExportRow, error)
	DeleteRowsByDocumentID(ctx context.Context, documentID string) error
	AddRows(ctx context.Context, rows []model.ExportRow) error
	ReplaceRows(ctx context.Context, documentID string, rows []model.ExportRow) error
}

// Remote is the extraction service. *itera.Client implements it.
type Remote interface {
	UploadDocument(ctx context.Context, in itera.UploadRequest) (*itera.UploadResult, error)
	GetStatus(ctx context.Context, remoteID string) (*itera.StatusInfo, error)
	GetExport(ctx context.Context, taxID string) ([]model.ExportRow, error)
	GetMapping(ctx context.Context, remoteID string) (string, error)
}

// Archive keeps copies of original uploads and mapping payloads.
// *s3storage.Storage implements it.
type Archive interface {
	ArchiveDocument(ctx context.Context, doc *model.Document) (string, error)
	ArchiveMapping(ctx context.Context, documentID string, mapping []byte) (string, error)
}

var _ Remote = (*itera.Client)(nil)
