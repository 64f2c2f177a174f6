// Package signing issues and checks HMAC-signed, expiring export download
// links.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrExpired is returned for links past their expiry.
	ErrExpired = errors.New("link expired")
	// ErrInvalid is returned for malformed or tampered links.
	ErrInvalid = errors.New("invalid signature")
)

// Query parameter names of a signed link.
const (
	ParamDocument  = "document"
	ParamExpires   = "expires"
	ParamSignature = "signature"
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer whose links live for ttl.
func NewSigner(secret []byte, ttl time.Duration) *Signer {
	return &Signer{secret: secret, ttl: ttl, now: time.Now}
}

// Sign returns the hex signature for a document id and expiry.
func (s *Signer) Sign(documentID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "export:%s:%d", documentID, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// Link returns the query string for a download of documentID and its expiry.
func (s *Signer) Link(documentID string) (url.Values, time.Time) {
	expires := s.now().Add(s.ttl).Truncate(time.Second)
	q := url.Values{}
	q.Set(ParamDocument, documentID)
	q.Set(ParamExpires, strconv.FormatInt(expires.Unix(), 10))
	q.Set(ParamSignature, s.Sign(documentID, expires.Unix()))
	return q, expires
}

// Verify checks a link's query and returns the document id it grants.
func (s *Signer) Verify(q url.Values) (string, error) {
	documentID := q.Get(ParamDocument)
	exp, err := strconv.ParseInt(q.Get(ParamExpires), 10, 64)
	if documentID == "" || err != nil {
		return "", ErrInvalid
	}
	expected := s.Sign(documentID, exp)
	if !hmac.Equal([]byte(expected), []byte(q.Get(ParamSignature))) {
		return "", ErrInvalid
	}
	if !s.now().Before(time.Unix(exp, 0)) {
		return "", ErrExpired
	}
	return documentID, nil
}
