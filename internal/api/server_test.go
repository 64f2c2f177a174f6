package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/IteraFlow/internal/config"
	"github.com/dharsanguruparan/IteraFlow/internal/export"
	"github.com/dharsanguruparan/IteraFlow/internal/itera"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
	"github.com/dharsanguruparan/IteraFlow/internal/pdf/pdftest"
	"github.com/dharsanguruparan/IteraFlow/internal/processing"
	"github.com/dharsanguruparan/IteraFlow/internal/queue"
	"github.com/dharsanguruparan/IteraFlow/internal/storage"
)

const taxID = "12345678000195"

type stubRemote struct {
	mu     sync.Mutex
	status string
	rows   []model.ExportRow
}

func (s *stubRemote) UploadDocument(_ context.Context, in itera.UploadRequest) (*itera.UploadResult, error) {
	return &itera.UploadResult{RemoteID: "remote-" + in.Filename, Status: "Recebido"}, nil
}

func (s *stubRemote) GetStatus(_ context.Context, remoteID string) (*itera.StatusInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &itera.StatusInfo{RemoteID: remoteID, Status: s.status}, nil
}

func (s *stubRemote) GetExport(context.Context, string) ([]model.ExportRow, error) {
	out := make([]model.ExportRow, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

func (s *stubRemote) GetMapping(context.Context, string) (string, error) {
	return "A;B\n", nil
}

func (s *stubRemote) setStatus(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

type recordingScheduler struct {
	payloads []queue.CheckStatusPayload
}

func (r *recordingScheduler) EnqueueCheckStatus(_ context.Context, p queue.CheckStatusPayload, _ time.Duration) error {
	r.payloads = append(r.payloads, p)
	return nil
}

type fixture struct {
	handler   http.Handler
	remote    *stubRemote
	scheduler *recordingScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.SigningSecret = []byte("test-secret")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := storage.NewMemoryStore()
	remote := &stubRemote{
		status: "Processando",
		rows:   []model.ExportRow{{Code: "1.01", Description: "Caixa", Value: "1.234,50"}},
	}
	orch := processing.New(store, store, remote, nil, logger)
	sched := &recordingScheduler{}
	return &fixture{handler: New(cfg, orch, sched, logger).Handler(), remote: remote, scheduler: sched}
}

func (f *fixture) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("taxId", "12.345.678/0001-95"))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return f.do(t, http.MethodPost, "/documents", &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/documents", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.upload(t, "notes.txt", []byte("plain text is not accepted"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported content type")
}

func TestDocumentLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.upload(t, "balance.pdf", pdftest.Build("Balanco 2023"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	doc := decode[model.Document](t, rec)
	require.NotEmpty(t, doc.ID)
	assert.Equal(t, taxID, doc.TaxID)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, "balance.pdf (1 page)", doc.Description)

	rec = f.do(t, http.MethodGet, "/documents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Document](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/documents/"+doc.ID+"/export", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	body := `{"documentIds":["` + doc.ID + `","missing"],"waitForCompletion":false,"timeoutSeconds":60}`
	rec = f.do(t, http.MethodPost, "/batches", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decode[model.BatchResult](t, rec)
	assert.Equal(t, 2, batch.TotalDocuments)
	assert.Equal(t, 1, batch.ProcessingCount)
	require.Len(t, f.scheduler.payloads, 1)
	assert.Equal(t, doc.ID, f.scheduler.payloads[0].DocumentID)

	rec = f.do(t, http.MethodGet, "/documents/"+doc.ID+"/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StateProcessing, decode[model.DocumentProcessingStatus](t, rec).State)

	f.remote.setStatus("Concluido")
	rec = f.do(t, http.MethodGet, "/documents/"+doc.ID+"/status", nil, "")
	status := decode[model.DocumentProcessingStatus](t, rec)
	assert.True(t, status.IsSuccess)
	assert.Equal(t, 1, status.ExportRows)

	rec = f.do(t, http.MethodGet, "/documents/"+doc.ID+"/export", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[model.ExportResult](t, rec)
	assert.Equal(t, 1, result.TotalRecords)
	assert.Equal(t, "Caixa", result.Records[0].Description.String())

	rec = f.do(t, http.MethodPost, "/documents/"+doc.ID+"/export/refresh", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/documents/"+doc.ID+"/mapping", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A;B\n", decode[model.MappingResult](t, rec).Mapping)

	rec = f.do(t, http.MethodPost, "/documents/"+doc.ID+"/export-link", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	link := decode[struct {
		URL string `json:"url"`
	}](t, rec)
	require.True(t, strings.HasPrefix(link.URL, "/exports/download?"))

	rec = f.do(t, http.MethodGet, link.URL, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), doc.ID+".xlsx")
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestDownloadRejectsTamperedLink(t *testing.T) {
	f := newFixture(t)
	q := url.Values{}
	q.Set("document", "d1")
	q.Set("expires", "9999999999")
	q.Set("signature", "deadbeef")

	rec := f.do(t, http.MethodGet, "/exports/download?"+q.Encode(), nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownDocument(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/documents/nope", "/documents/nope/status", "/documents/nope/export", "/documents/nope/mapping"} {
		rec := f.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := f.do(t, http.MethodGet, "/documents/nope/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/documents/nope/export/refresh", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBatchRequiresIDs(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/batches", strings.NewReader(`{"documentIds":[]}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/batches", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
