package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/dharsanguruparan/IteraFlow/internal/apperr"
	"github.com/dharsanguruparan/IteraFlow/internal/export"
	"github.com/dharsanguruparan/IteraFlow/internal/intake"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
	"github.com/dharsanguruparan/IteraFlow/internal/processing"
	"github.com/dharsanguruparan/IteraFlow/internal/queue"
	"github.com/dharsanguruparan/IteraFlow/internal/signing"
)

// multipartOverhead is allowed on top of the file limit for form fields and
// part headers.
const multipartOverhead = 1 << 20

type batchRequest struct {
	DocumentIDs            []string `json:"documentIds"`
	WaitForCompletion      *bool    `json:"waitForCompletion"`
	TimeoutSeconds         int      `json:"timeoutSeconds"`
	PollingIntervalSeconds int      `json:"pollingIntervalSeconds"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := s.orch.Documents(r.Context())
	if err != nil {
		s.log.Error("api.documents.list_failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	respondJSON(w, http.StatusOK, docs)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.intake.MaxFileSize+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}

	var in intake.Input
	var seenFile bool
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := readPart(part, &in, &seenFile); err != nil {
			part.Close()
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondError(w, http.StatusRequestEntityTooLarge, "file too large")
				return
			}
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		part.Close()
	}
	if !seenFile {
		respondError(w, http.StatusBadRequest, "missing file field")
		return
	}

	doc, err := s.intake.FromBytes(in)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.orch.Register(r.Context(), doc); err != nil {
		s.log.Error("api.documents.register_failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to store document")
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

// readPart copies one multipart field into in.
func readPart(part *multipart.Part, in *intake.Input, seenFile *bool) error {
	data, err := io.ReadAll(part)
	if err != nil {
		return err
	}
	switch part.FormName() {
	case "file":
		*seenFile = true
		in.Filename = part.FileName()
		in.ContentType = part.Header.Get("Content-Type")
		in.Content = data
	case "taxId":
		in.TaxID = string(data)
	case "description":
		in.Description = string(data)
	}
	return nil
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.DocumentIDs) == 0 {
		respondError(w, http.StatusBadRequest, "documentIds is required")
		return
	}
	opts := s.pollOptions(req)
	result, err := s.poller.Run(r.Context(), req.DocumentIDs, opts)
	if err != nil && result == nil {
		s.log.Error("api.batches.failed", "error", err)
		respondError(w, http.StatusInternalServerError, "batch failed")
		return
	}
	if !opts.Wait {
		s.scheduleChecks(r, result, opts)
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) pollOptions(req batchRequest) processing.PollOptions {
	opts := processing.PollOptions{
		Wait:        s.cfg.Batch.WaitForCompletion,
		Timeout:     s.cfg.Batch.Timeout(),
		Interval:    s.cfg.Batch.Interval(),
		Concurrency: s.cfg.Batch.Concurrency,
	}
	if req.WaitForCompletion != nil {
		opts.Wait = *req.WaitForCompletion
	}
	if req.TimeoutSeconds > 0 {
		opts.Timeout = secondsDuration(req.TimeoutSeconds)
	}
	if req.PollingIntervalSeconds > 0 {
		opts.Interval = secondsDuration(req.PollingIntervalSeconds)
	}
	return opts
}

func secondsDuration(n int) time.Duration { return time.Duration(n) * time.Second }

// scheduleChecks hands every document still in progress to the background
// worker. Enqueue failures are logged; clients can still poll the status route.
func (s *Server) scheduleChecks(r *http.Request, result *model.BatchResult, opts processing.PollOptions) {
	if s.scheduler == nil {
		return
	}
	deadline := s.now().Add(opts.Timeout)
	for _, st := range result.DocumentStatuses {
		if !st.IsProcessing {
			continue
		}
		payload := queue.CheckStatusPayload{DocumentID: st.DocumentID, Deadline: deadline, Attempt: 1}
		if err := s.scheduler.EnqueueCheckStatus(r.Context(), payload, opts.Interval); err != nil {
			s.log.Warn("api.batches.enqueue_failed", "document_id", st.DocumentID, "error", err)
		}
	}
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, id string) {
	doc, err := s.orch.Document(r.Context(), id)
	if errors.Is(err, apperr.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("document %s not found", id))
		return
	}
	if err != nil {
		s.log.Error("api.documents.get_failed", "document_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load document")
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, id string) {
	status := s.orch.CheckAndUpdateStatus(r.Context(), id)
	code := http.StatusOK
	if status.State == model.StateNotFound {
		code = http.StatusNotFound
	}
	respondJSON(w, code, status)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, id string) {
	s.respondExport(w, r, id, s.orch.GetExportResults(r.Context(), id))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, id string) {
	s.respondExport(w, r, id, s.orch.RefreshExport(r.Context(), id))
}

func (s *Server) respondExport(w http.ResponseWriter, r *http.Request, id string, result model.ExportResult) {
	if result.IsSuccess {
		respondJSON(w, http.StatusOK, result)
		return
	}
	respondJSON(w, s.failureCode(r, id), result)
}

func (s *Server) handleMapping(w http.ResponseWriter, r *http.Request, id string) {
	result := s.orch.GetMapping(r.Context(), id)
	if result.IsSuccess {
		respondJSON(w, http.StatusOK, result)
		return
	}
	respondJSON(w, s.failureCode(r, id), result)
}

// failureCode is 404 for unknown documents and 409 otherwise.
func (s *Server) failureCode(r *http.Request, id string) int {
	if _, err := s.orch.Document(r.Context(), id); errors.Is(err, apperr.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusConflict
}

func (s *Server) handleExportLink(w http.ResponseWriter, r *http.Request, id string) {
	result := s.orch.GetExportResults(r.Context(), id)
	if !result.IsSuccess {
		respondJSON(w, s.failureCode(r, id), result)
		return
	}
	q, expires := s.signer.Link(id)
	respondJSON(w, http.StatusOK, map[string]any{
		"url":       "/exports/download?" + q.Encode(),
		"expiresAt": expires,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := s.signer.Verify(r.URL.Query())
	switch {
	case errors.Is(err, signing.ErrExpired):
		respondError(w, http.StatusGone, "link expired")
		return
	case err != nil:
		respondError(w, http.StatusForbidden, "invalid signature")
		return
	}
	result := s.orch.GetExportResults(r.Context(), id)
	if !result.IsSuccess {
		respondJSON(w, s.failureCode(r, id), result)
		return
	}
	data, err := export.WriteXLSX(id, result.Records, s.log)
	if err != nil {
		s.log.Error("api.export.render_failed", "document_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to render export")
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".xlsx"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Warn("api.export.write_failed", "document_id", id, "error", err)
	}
}
