package itera

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/dharsanguruparan/IteraFlow/internal/apperr"
	"github.com/dharsanguruparan/IteraFlow/internal/auth"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

// TokenProvider supplies bearer tokens. *auth.Cache implements it.
type TokenProvider interface {
	GetAccessToken(ctx context.Context) (string, error)
	Invalidate()
}

var _ TokenProvider = (*auth.Cache)(nil)

// UploadRequest describes one document submission.
type UploadRequest struct {
	Content     []byte
	Filename    string
	ContentType string
	TaxID       string
	Description string
}

// UploadResult is the remote acknowledgement of an upload. RemoteID is empty
// when the response did not carry one.
type UploadResult struct {
	RemoteID string `json:"remoteId,omitempty"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// StatusInfo is the remote processing status of a document.
type StatusInfo struct {
	RemoteID  string          `json:"remoteId,omitempty"`
	Status    string          `json:"status"`
	Message   string          `json:"message,omitempty"`
	Progress  string          `json:"progress,omitempty"`
	UpdatedAt string          `json:"updatedAt,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// StatusUploaded is reported when the upload response could not be parsed.
const StatusUploaded = "Uploaded"

// Client performs the authenticated remote operations.
type Client struct {
	cfg     Config
	http    *http.Client
	tokens  TokenProvider
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient builds a Client. A nil httpClient selects http.DefaultClient; a
// non-positive RateLimit disables limiting.
func NewClient(cfg Config, httpClient *http.Client, tokens TokenProvider, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		tokens:  tokens,
		limiter: rate.NewLimiter(limit, cfg.RateBurst),
		log:     logger,
	}
}

// New wires an Authenticator, a token cache and a Client sharing one HTTP
// client. The cache lives as long as the returned Client.
func New(cfg Config, httpClient *http.Client, tokenTTL time.Duration, logger *slog.Logger) (*Client, *auth.Cache) {
	authenticator := NewAuthenticator(cfg, httpClient, logger)
	cache := auth.NewCache(authenticator, tokenTTL, logger)
	return NewClient(cfg, httpClient, cache, logger), cache
}

// UploadDocument submits a document as multipart form data. Non-2xx is
// ErrUpload. A body that is empty or not a JSON object still counts as a
// successful upload, with the raw body as Message.
func (c *Client) UploadDocument(ctx context.Context, in UploadRequest) (*UploadResult, error) {
	const op = "upload document"
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := writeUploadForm(mw, in, c.cfg.Source); err != nil {
		return nil, apperr.Wrap(apperr.ErrUpload, op, err)
	}
	contentType := mw.FormDataContentType()
	payload := buf.Bytes()

	body, err := c.do(ctx, op, apperr.ErrUpload, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.UploadURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}, "filename", in.Filename, "tax_id", in.TaxID, "bytes", len(in.Content))
	if err != nil {
		return nil, err
	}
	return parseUpload(body), nil
}

func writeUploadForm(mw *multipart.Writer, in UploadRequest, source string) error {
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(in.Filename)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(in.Content); err != nil {
		return fmt.Errorf("write file part: %w", err)
	}
	fields := [][2]string{{"taxId", in.TaxID}, {"source", source}, {"description", in.Description}}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

func parseUpload(body []byte) *UploadResult {
	trimmed := bytes.TrimSpace(body)
	obj, ok := decodeObject(trimmed)
	if !ok {
		msg := string(trimmed)
		if msg == "" {
			msg = "upload accepted with empty response"
		}
		return &UploadResult{Status: StatusUploaded, Message: msg}
	}
	res := &UploadResult{
		RemoteID: lookup(obj, "id", "documentId", "documentoId", "idDocumento"),
		Status:   lookup(obj, "status", "situacao"),
		Message:  lookup(obj, "message", "mensagem"),
	}
	if res.Status == "" {
		res.Status = StatusUploaded
	}
	return res
}

// GetStatus returns the remote processing status of remoteID.
func (c *Client) GetStatus(ctx context.Context, remoteID string) (*StatusInfo, error) {
	const op = "get status"
	body, err := c.get(ctx, op, expand(c.cfg.StatusURL, "id", remoteID), "remote_id", remoteID)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(body)
	if obj, ok := decodeObject(trimmed); ok {
		return &StatusInfo{
			RemoteID:  lookup(obj, "id", "documentId", "documentoId", "idDocumento"),
			Status:    lookup(obj, "status", "situacao"),
			Message:   lookup(obj, "message", "mensagem", "detalhe"),
			Progress:  lookup(obj, "progress", "progresso"),
			UpdatedAt: lookup(obj, "updatedAt", "dataAtualizacao"),
			Raw:       json.RawMessage(trimmed),
		}, nil
	}
	var status string
	if err := json.Unmarshal(trimmed, &status); err == nil {
		return &StatusInfo{RemoteID: remoteID, Status: status, Raw: json.RawMessage(trimmed)}, nil
	}
	return nil, apperr.New(apperr.ErrRemote, op, "unparseable status body")
}

// GetExport returns every export row the remote service holds for taxID. The
// response is an object of arrays; all arrays are concatenated, top-level keys
// in sorted order, array order preserved. A body that is not a JSON object
// yields no rows.
func (c *Client) GetExport(ctx context.Context, taxID string) ([]model.ExportRow, error) {
	digits, err := model.NormalizeTaxID(taxID)
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, "get export", expand(c.cfg.ExportURL, "taxId", digits), "tax_id", digits)
	if err != nil {
		return nil, err
	}
	rows, skipped := FlattenExport(body)
	if skipped > 0 {
		c.log.Warn("itera.export.rows_skipped", "tax_id", digits, "skipped", skipped)
	}
	return rows, nil
}

// FlattenExport concatenates the arrays found under every top-level key of
// body. Array elements that are not objects are skipped and counted.
func FlattenExport(body []byte) ([]model.ExportRow, int) {
	obj, ok := decodeObject(bytes.TrimSpace(body))
	if !ok {
		return []model.ExportRow{}, 0
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := []model.ExportRow{}
	skipped := 0
	for _, k := range keys {
		var items []json.RawMessage
		if err := json.Unmarshal(obj[k], &items); err != nil {
			continue
		}
		for _, item := range items {
			var row model.ExportRow
			if err := json.Unmarshal(item, &row); err != nil {
				skipped++
				continue
			}
			rows = append(rows, row)
		}
	}
	return rows, skipped
}

// GetMapping returns the raw de-para table for remoteID.
func (c *Client) GetMapping(ctx context.Context, remoteID string) (string, error) {
	body, err := c.get(ctx, "get mapping", expand(c.cfg.MappingURL, "id", remoteID), "remote_id", remoteID)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) get(ctx context.Context, op, url string, attrs ...any) ([]byte, error) {
	return c.do(ctx, op, apperr.ErrRemote, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, attrs...)
}

// do runs one authenticated call under its own deadline. A 401 drops the
// cached token and the call is repeated once.
func (c *Client) do(ctx context.Context, op string, kind error, build func(context.Context) (*http.Request, error), attrs ...any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	rid := uuid.NewString()
	start := time.Now()
	log := c.log.With(append([]any{"op", op, "req_id", rid}, attrs...)...)
	log.Debug("itera.request.start")

	for attempt := 0; ; attempt++ {
		body, status, err := c.attempt(ctx, build)
		if err != nil {
			log.Error("itera.request.error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
			if errors.Is(err, apperr.ErrAuth) {
				return nil, err
			}
			return nil, apperr.Wrap(kind, op, err)
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			log.Warn("itera.request.unauthorized_retry")
			c.tokens.Invalidate()
			continue
		}
		if status < 200 || status > 299 {
			log.Warn("itera.request.failed", "status", status, "elapsed_ms", time.Since(start).Milliseconds())
			return nil, apperr.Status(kind, op, status, string(body))
		}
		log.Info("itera.request.ok", "status", status, "bytes", len(body), "elapsed_ms", time.Since(start).Milliseconds())
		return body, nil
	}
}

func (c *Client) attempt(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("rate limit wait: %w", err)
	}
	token, err := c.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, 0, err
	}
	req, err := build(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}
