package signing

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerLink(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewSigner([]byte("topsecret"), 5*time.Minute)
	s.now = func() time.Time { return now }

	q, expires := s.Link("doc123")
	assert.Equal(t, now.Add(5*time.Minute), expires)

	id, err := s.Verify(q)
	require.NoError(t, err)
	assert.Equal(t, "doc123", id)

	tampered := cloneValues(q)
	tampered.Set(ParamDocument, "other")
	_, err = s.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalid)

	extended := cloneValues(q)
	extended.Set(ParamExpires, "1900000000")
	_, err = s.Verify(extended)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = NewSigner([]byte("other"), time.Minute).Verify(q)
	assert.ErrorIs(t, err, ErrInvalid)

	now = now.Add(6 * time.Minute)
	_, err = s.Verify(q)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestSignerRejectsMalformed(t *testing.T) {
	s := NewSigner([]byte("topsecret"), time.Minute)
	q, _ := s.Link("doc123")
	q.Set(ParamExpires, "soon")
	_, err := s.Verify(q)
	assert.ErrorIs(t, err, ErrInvalid)

	sig := s.Sign("file123", 1700000000)
	assert.Len(t, sig, 64)
	assert.NotEqual(t, sig, s.Sign("file123", 42))
}

func cloneValues(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}
