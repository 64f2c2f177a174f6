package model

import "time"

// DocumentProcessingStatus is a snapshot of one document after an
// orchestration step.
type DocumentProcessingStatus struct {
	DocumentID   string          `json:"documentId"`
	Filename     string          `json:"filename,omitempty"`
	RemoteID     string          `json:"remoteId,omitempty"`
	State        ProcessingState `json:"state"`
	RemoteStatus string          `json:"remoteStatus,omitempty"`
	IsSuccess    bool            `json:"isSuccess"`
	IsProcessing bool            `json:"isProcessing"`
	Message      string          `json:"message"`
	ExportRows   int             `json:"exportRows,omitempty"`
	CheckedAt    time.Time       `json:"checkedAt"`
}

// Failed reports a terminal failure.
func (s DocumentProcessingStatus) Failed() bool {
	return !s.IsSuccess && !s.IsProcessing
}

// BatchResult aggregates one ProcessBatch / poll loop invocation. It is never
// persisted.
type BatchResult struct {
	TotalDocuments   int                        `json:"totalDocuments"`
	SuccessCount     int                        `json:"successCount"`
	ErrorCount       int                        `json:"errorCount"`
	ProcessingCount  int                        `json:"processingCount"`
	DocumentStatuses []DocumentProcessingStatus `json:"documentStatuses"`
	Message          string                     `json:"message"`
	TimedOut         bool                       `json:"timedOut,omitempty"`
	Rounds           int                        `json:"pollRounds,omitempty"`
	ElapsedMs        int64                      `json:"elapsedMs"`
}

// Recount derives the counters from the per-document snapshots.
func (b *BatchResult) Recount() {
	b.SuccessCount, b.ErrorCount, b.ProcessingCount = 0, 0, 0
	for _, s := range b.DocumentStatuses {
		switch {
		case s.IsSuccess:
			b.SuccessCount++
		case s.IsProcessing:
			b.ProcessingCount++
		default:
			b.ErrorCount++
		}
	}
}

// ExportResult is the stored export data of one document.
type ExportResult struct {
	DocumentID   string      `json:"documentId"`
	IsSuccess    bool        `json:"isSuccess"`
	Message      string      `json:"message"`
	TotalRecords int         `json:"totalRecords"`
	Records      []ExportRow `json:"records"`
}

// MappingResult carries the remote term-normalization table verbatim.
type MappingResult struct {
	DocumentID string `json:"documentId"`
	RemoteID   string `json:"remoteId,omitempty"`
	IsSuccess  bool   `json:"isSuccess"`
	Message    string `json:"message"`
	Mapping    string `json:"mapping,omitempty"`
	ArchiveKey string `json:"archiveKey,omitempty"`
}
