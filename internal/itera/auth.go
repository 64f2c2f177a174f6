package itera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dharsanguruparan/IteraFlow/internal/apperr"
)

// Authenticator exchanges credentials for an access token. It satisfies
// auth.TokenRequester.
type Authenticator struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

// NewAuthenticator builds an Authenticator. A nil httpClient selects
// http.DefaultClient.
func NewAuthenticator(cfg Config, httpClient *http.Client, logger *slog.Logger) *Authenticator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{cfg: cfg.withDefaults(), http: httpClient, log: logger}
}

// RequestToken posts the configured credentials and returns the token from
// the response body.
func (a *Authenticator) RequestToken(ctx context.Context) (string, error) {
	const op = "request token"
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"username": a.cfg.Username,
		"password": a.cfg.Password,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.ErrAuth, op, fmt.Errorf("marshal credentials: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.AuthURL, bytes.NewReader(payload))
	if err != nil {
		return "", apperr.Wrap(apperr.ErrAuth, op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := a.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrAuth, op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrAuth, op, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.log.Warn("itera.auth.rejected", "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())
		return "", apperr.Status(apperr.ErrAuth, op, resp.StatusCode, string(body))
	}

	token := parseToken(body)
	if token == "" {
		return "", apperr.New(apperr.ErrAuth, op, "response carries no token")
	}
	a.log.Debug("itera.auth.ok", "elapsed_ms", time.Since(start).Milliseconds())
	return token, nil
}

func parseToken(body []byte) string {
	if obj, ok := decodeObject(body); ok {
		if tok := lookup(obj, "token", "accessToken", "access_token", "jwt"); tok != "" {
			return tok
		}
		// Some deployments nest the token under "data".
		if raw, ok := obj["data"]; ok {
			if inner, ok := decodeObject(raw); ok {
				return lookup(inner, "token", "accessToken", "access_token", "jwt")
			}
		}
		return ""
	}
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return s
	}
	return ""
}
