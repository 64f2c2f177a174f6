// Package itera talks to the Itera document-extraction API: authentication,
// upload, status, export and mapping.
package itera

import (
	"net/url"
	"strings"
	"time"
)

// Config carries credentials and endpoint templates. Templates may contain
// {id} (remote document id) or {taxId}; a template without the placeholder
// gets the value appended as a path segment.
type Config struct {
	Username string
	Password string

	AuthURL    string
	UploadURL  string
	StatusURL  string
	ExportURL  string
	MappingURL string

	// Source is sent as the "source" form field on upload.
	Source string

	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
}

const (
	defaultRequestTimeout = 30 * time.Second
	defaultSource         = "itera-orchestrator"
)

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.Source == "" {
		c.Source = defaultSource
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	return c
}

func expand(tmpl, key, value string) string {
	placeholder := "{" + key + "}"
	escaped := url.PathEscape(value)
	if strings.Contains(tmpl, placeholder) {
		return strings.ReplaceAll(tmpl, placeholder, escaped)
	}
	return strings.TrimRight(tmpl, "/") + "/" + escaped
}
