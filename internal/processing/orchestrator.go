// Package processing drives documents through upload, remote processing and
// export collection.
package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/IteraFlow/internal/apperr"
	"github.com/dharsanguruparan/IteraFlow/internal/itera"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

// Orchestrator runs the per-document state machine
// NotUploaded -> Uploaded -> Processing -> Success | Error.
// Remote and store failures on one document are recorded on that document
// and never abort the rest of a batch.
type Orchestrator struct {
	docs       DocumentStore
	rows       ExportRowStore
	remote     Remote
	classifier *Classifier
	archive    Archive
	now        func() time.Time
	log        *slog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithArchive stores original uploads and mapping payloads in a.
func WithArchive(a Archive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an Orchestrator. A nil classifier selects the default
// vocabulary.
func New(docs DocumentStore, rows ExportRowStore, remote Remote, classifier *Classifier, logger *slog.Logger, opts ...Option) *Orchestrator {
	if classifier == nil {
		classifier = NewClassifier(nil, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		docs:       docs,
		rows:       rows,
		remote:     remote,
		classifier: classifier,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register stores new documents in the NotUploaded state and archives their
// content when an archive is configured. Archive failures are logged only.
func (o *Orchestrator) Register(ctx context.Context, docs ...*model.Document) error {
	now := o.now()
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		doc.Status = string(model.StateNotUploaded)
		doc.RemoteID = nil
		doc.Processed = false
		doc.ErrorMessage = nil
		doc.CreatedAt = now
		doc.UpdatedAt = now
	}
	var err error
	if len(docs) == 1 {
		err = o.docs.Add(ctx, docs[0])
	} else {
		err = o.docs.AddMany(ctx, docs)
	}
	if err != nil {
		return fmt.Errorf("store documents: %w", err)
	}
	if o.archive != nil {
		for _, doc := range docs {
			key, err := o.archive.ArchiveDocument(ctx, doc)
			if err != nil {
				o.log.Warn("processing.archive.document_failed", "document_id", doc.ID, "error", err)
				continue
			}
			o.log.Debug("processing.archive.document", "document_id", doc.ID, "key", key)
		}
	}
	o.log.Info("processing.register", "documents", len(docs))
	return nil
}

// Documents lists every stored document.
func (o *Orchestrator) Documents(ctx context.Context) ([]model.Document, error) {
	docs, err := o.docs.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Document returns one stored document or apperr.ErrNotFound.
func (o *Orchestrator) Document(ctx context.Context, id string) (*model.Document, error) {
	return o.docs.GetByID(ctx, id)
}

// ProcessBatch uploads every requested document that exists. Unknown ids are
// counted in TotalDocuments but not listed. A failed lookup returns a nil
// result and the error. Cancelling ctx stops before the next upload and
// returns the partial result together with ctx.Err().
func (o *Orchestrator) ProcessBatch(ctx context.Context, ids []string) (*model.BatchResult, error) {
	start := o.now()
	result := &model.BatchResult{DocumentStatuses: []model.DocumentProcessingStatus{}}

	docs, err := o.docs.GetByIDs(ctx, dedupe(ids))
	if err != nil {
		return nil, fmt.Errorf("look up documents: %w", err)
	}
	if len(docs) == 0 {
		result.Message = fmt.Sprintf("none of the %d requested documents were found", len(ids))
		result.ElapsedMs = o.now().Sub(start).Milliseconds()
		return result, nil
	}

	result.TotalDocuments = len(ids)
	for i := range docs {
		if err := ctx.Err(); err != nil {
			result.Recount()
			result.Message = fmt.Sprintf("batch cancelled after %d of %d documents", len(result.DocumentStatuses), len(docs))
			result.ElapsedMs = o.now().Sub(start).Milliseconds()
			return result, err
		}
		result.DocumentStatuses = append(result.DocumentStatuses, o.upload(ctx, &docs[i]))
	}
	result.Recount()

	missing := len(dedupe(ids)) - len(docs)
	result.Message = fmt.Sprintf("%d of %d documents uploaded, %d failed", result.ProcessingCount+result.SuccessCount, len(docs), result.ErrorCount)
	if missing > 0 {
		result.Message += fmt.Sprintf(", %d not found", missing)
	}
	result.ElapsedMs = o.now().Sub(start).Milliseconds()
	o.log.Info("processing.batch.uploaded",
		"requested", len(ids),
		"found", len(docs),
		"uploaded", result.ProcessingCount,
		"failed", result.ErrorCount,
		"elapsed_ms", result.ElapsedMs,
	)
	return result, nil
}

func (o *Orchestrator) upload(ctx context.Context, doc *model.Document) model.DocumentProcessingStatus {
	status := o.snapshot(doc)
	description := doc.Description
	if description == "" {
		description = doc.Filename
	}

	res, err := o.remote.UploadDocument(ctx, itera.UploadRequest{
		Content:     doc.Content,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		TaxID:       doc.TaxID,
		Description: description,
	})
	if err != nil {
		return o.fail(ctx, status, fmt.Sprintf("upload failed: %v", err))
	}

	var remoteID *string
	label := res.Status
	if res.RemoteID != "" {
		id := res.RemoteID
		remoteID = &id
		label = string(model.StateUploaded)
	}
	if err := o.docs.UpdateRemoteStatus(ctx, doc.ID, remoteID, label); err != nil {
		return o.fail(ctx, status, fmt.Sprintf("record upload: %v", err))
	}

	status.State = model.StateUploaded
	status.RemoteID = res.RemoteID
	status.RemoteStatus = res.Status
	status.IsProcessing = true
	if res.RemoteID != "" {
		status.Message = fmt.Sprintf("uploaded as remote document %s", res.RemoteID)
	} else {
		status.Message = "uploaded without a remote id: " + res.Message
	}
	o.log.Info("processing.document.uploaded", "document_id", doc.ID, "remote_id", res.RemoteID, "status", res.Status)
	return status
}

// fail records message on the document and returns an Error snapshot. A
// failure to record is logged; the snapshot still reports the original error.
func (o *Orchestrator) fail(ctx context.Context, status model.DocumentProcessingStatus, message string) model.DocumentProcessingStatus {
	if err := o.docs.MarkError(ctx, status.DocumentID, message); err != nil {
		o.log.Error("processing.document.mark_error_failed", "document_id", status.DocumentID, "error", err)
	}
	o.log.Warn("processing.document.failed", "document_id", status.DocumentID, "message", message)
	status.State = model.StateError
	status.IsProcessing = false
	status.IsSuccess = false
	status.Message = message
	return status
}

// CheckAndUpdateStatus refreshes one document from the remote service. It
// never returns an error: failures come back as a StateError snapshot.
func (o *Orchestrator) CheckAndUpdateStatus(ctx context.Context, id string) model.DocumentProcessingStatus {
	doc, err := o.docs.GetByID(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return model.DocumentProcessingStatus{
			DocumentID: id,
			State:      model.StateNotFound,
			Message:    fmt.Sprintf("document %s not found", id),
			CheckedAt:  o.now(),
		}
	}
	if err != nil {
		return model.DocumentProcessingStatus{
			DocumentID: id,
			State:      model.StateError,
			Message:    fmt.Sprintf("load document: %v", err),
			CheckedAt:  o.now(),
		}
	}

	status := o.snapshot(doc)
	switch {
	case !doc.Uploaded():
		status.State = model.StateNotUploaded
		status.Message = "document has not been uploaded"
		if doc.Failed() {
			status.Message += ": " + *doc.ErrorMessage
		}
		return status
	case doc.Processed:
		return o.terminalSuccess(ctx, status)
	case doc.Failed():
		status.State = model.StateError
		status.Message = *doc.ErrorMessage
		return status
	}

	info, err := o.remote.GetStatus(ctx, *doc.RemoteID)
	if err != nil {
		status.State = model.StateError
		status.Message = fmt.Sprintf("status check failed: %v", err)
		o.log.Warn("processing.status.check_failed", "document_id", id, "error", err)
		return status
	}
	if err := o.docs.UpdateRemoteStatus(ctx, id, doc.RemoteID, info.Status); err != nil {
		status.State = model.StateError
		status.Message = fmt.Sprintf("record status: %v", err)
		return status
	}
	status.RemoteStatus = info.Status

	switch o.classifier.Classify(info.Status) {
	case OutcomeSuccess:
		n, err := o.collectExport(ctx, doc)
		if err != nil {
			status.State = model.StateError
			status.Message = fmt.Sprintf("collect export: %v", err)
			o.log.Warn("processing.export.failed", "document_id", id, "error", err)
			return status
		}
		if err := o.docs.MarkProcessed(ctx, id); err != nil {
			status.State = model.StateError
			status.Message = fmt.Sprintf("mark processed: %v", err)
			return status
		}
		status.State = model.StateSuccess
		status.IsSuccess = true
		status.ExportRows = n
		status.Message = fmt.Sprintf("processing completed with %d export rows", n)
		o.log.Info("processing.document.completed", "document_id", id, "rows", n)
	case OutcomeFailure:
		message := fmt.Sprintf("remote processing ended with status %s", info.Status)
		if info.Message != "" {
			message += ": " + info.Message
		}
		if err := o.docs.MarkError(ctx, id, message); err != nil {
			status.Message = fmt.Sprintf("%s (record failed: %v)", message, err)
		} else {
			status.Message = message
		}
		status.State = model.StateError
		o.log.Info("processing.document.rejected", "document_id", id, "status", info.Status)
	default:
		status.State = model.StateProcessing
		status.IsProcessing = true
		status.Message = "still processing: " + info.Status
	}
	return status
}

func (o *Orchestrator) terminalSuccess(ctx context.Context, status model.DocumentProcessingStatus) model.DocumentProcessingStatus {
	status.State = model.StateSuccess
	status.IsSuccess = true
	rows, err := o.rows.GetRowsByDocumentID(ctx, status.DocumentID)
	if err != nil {
		status.Message = "processing completed"
		return status
	}
	status.ExportRows = len(rows)
	status.Message = fmt.Sprintf("processing completed with %d export rows", len(rows))
	return status
}

// collectExport fetches export rows for the document's tax id and replaces
// whatever was stored before.
func (o *Orchestrator) collectExport(ctx context.Context, doc *model.Document) (int, error) {
	rows, err := o.remote.GetExport(ctx, doc.TaxID)
	if err != nil {
		return 0, err
	}
	now := o.now()
	for i := range rows {
		rows[i].ID = uuid.NewString()
		rows[i].DocumentID = doc.ID
		rows[i].CreatedAt = now
	}
	if err := o.rows.ReplaceRows(ctx, doc.ID, rows); err != nil {
		return 0, fmt.Errorf("replace rows: %w", err)
	}
	return len(rows), nil
}

// RefreshExport re-fetches the export of a processed document and replaces
// the stored rows.
func (o *Orchestrator) RefreshExport(ctx context.Context, id string) model.ExportResult {
	result := model.ExportResult{DocumentID: id, Records: []model.ExportRow{}}
	doc, err := o.docs.GetByID(ctx, id)
	if err != nil {
		result.Message = lookupMessage(id, err)
		return result
	}
	if !doc.Processed {
		result.Message = "document has not finished processing"
		return result
	}
	if _, err := o.collectExport(ctx, doc); err != nil {
		result.Message = fmt.Sprintf("refresh export: %v", err)
		return result
	}
	return o.GetExportResults(ctx, id)
}

// GetExportResults returns the stored export rows of a document.
func (o *Orchestrator) GetExportResults(ctx context.Context, id string) model.ExportResult {
	result := model.ExportResult{DocumentID: id, Records: []model.ExportRow{}}
	if _, err := o.docs.GetByID(ctx, id); err != nil {
		result.Message = lookupMessage(id, err)
		return result
	}
	rows, err := o.rows.GetRowsByDocumentID(ctx, id)
	if err != nil {
		result.Message = fmt.Sprintf("load export rows: %v", err)
		return result
	}
	if len(rows) == 0 {
		result.Message = "no export data stored for this document"
		return result
	}
	result.IsSuccess = true
	result.TotalRecords = len(rows)
	result.Records = rows
	result.Message = fmt.Sprintf("%d export rows", len(rows))
	return result
}

// GetMapping returns the remote de-para table of a document verbatim and
// archives it when an archive is configured.
func (o *Orchestrator) GetMapping(ctx context.Context, id string) model.MappingResult {
	result := model.MappingResult{DocumentID: id}
	doc, err := o.docs.GetByID(ctx, id)
	if err != nil {
		result.Message = lookupMessage(id, err)
		return result
	}
	if !doc.Uploaded() {
		result.Message = "document has not been uploaded"
		return result
	}
	result.RemoteID = *doc.RemoteID
	mapping, err := o.remote.GetMapping(ctx, result.RemoteID)
	if err != nil {
		result.Message = fmt.Sprintf("get mapping: %v", err)
		return result
	}
	result.IsSuccess = true
	result.Mapping = mapping
	result.Message = "mapping retrieved"
	if o.archive != nil {
		key, err := o.archive.ArchiveMapping(ctx, id, []byte(mapping))
		if err != nil {
			o.log.Warn("processing.archive.mapping_failed", "document_id", id, "error", err)
		} else {
			result.ArchiveKey = key
		}
	}
	return result
}

func (o *Orchestrator) snapshot(doc *model.Document) model.DocumentProcessingStatus {
	return model.DocumentProcessingStatus{
		DocumentID:   doc.ID,
		Filename:     doc.Filename,
		RemoteID:     doc.RemoteIDValue(),
		RemoteStatus: doc.Status,
		CheckedAt:    o.now(),
	}
}

func lookupMessage(id string, err error) string {
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Sprintf("document %s not found", id)
	}
	return fmt.Sprintf("load document: %v", err)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
