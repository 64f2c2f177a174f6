package itera

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/IteraFlow/internal/apperr"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

type staticTokens struct {
	token       string
	err         error
	invalidated atomic.Int32
}

func (s *staticTokens) GetAccessToken(context.Context) (string, error) { return s.token, s.err }
func (s *staticTokens) Invalidate()                                    { s.invalidated.Add(1) }

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *staticTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := &staticTokens{token: "tok"}
	cfg := Config{
		AuthURL:    srv.URL + "/auth",
		UploadURL:  srv.URL + "/upload",
		StatusURL:  srv.URL + "/documents/{id}/status",
		ExportURL:  srv.URL + "/export/{taxId}",
		MappingURL: srv.URL + "/mapping",
		Source:     "tests",
	}
	return NewClient(cfg, srv.Client(), tokens, nil), tokens
}

func TestRequestToken(t *testing.T) {
	t.Run("parses token and sends credentials", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var creds map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			assert.Equal(t, "user", creds["username"])
			assert.Equal(t, "secret", creds["password"])
			_, _ = io.WriteString(w, `{"accessToken":"abc.def.ghi"}`)
		}))
		defer srv.Close()

		a := NewAuthenticator(Config{Username: "user", Password: "secret", AuthURL: srv.URL}, srv.Client(), nil)
		token, err := a.RequestToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "abc.def.ghi", token)
	})

	t.Run("non-2xx is an auth error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
		}))
		defer srv.Close()

		a := NewAuthenticator(Config{AuthURL: srv.URL}, srv.Client(), nil)
		_, err := a.RequestToken(context.Background())
		assert.ErrorIs(t, err, apperr.ErrAuth)
		assert.Equal(t, http.StatusUnauthorized, apperr.StatusCode(err))
	})

	t.Run("unparseable body is an auth error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `<html>nope</html>`)
		}))
		defer srv.Close()

		a := NewAuthenticator(Config{AuthURL: srv.URL}, srv.Client(), nil)
		_, err := a.RequestToken(context.Background())
		assert.ErrorIs(t, err, apperr.ErrAuth)
	})
}

func TestUploadDocument(t *testing.T) {
	t.Run("sends multipart form with bearer token", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/upload", r.URL.Path)
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "12345678000195", r.FormValue("taxId"))
			assert.Equal(t, "tests", r.FormValue("source"))
			assert.Equal(t, "balance sheet", r.FormValue("description"))
			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			data, _ := io.ReadAll(file)
			assert.Equal(t, "report.pdf", header.Filename)
			assert.Equal(t, "application/pdf", header.Header.Get("Content-Type"))
			assert.Equal(t, "%PDF-1.4", string(data))
			_, _ = io.WriteString(w, `{"id":42,"status":"Recebido"}`)
		})

		res, err := client.UploadDocument(context.Background(), UploadRequest{
			Content:     []byte("%PDF-1.4"),
			Filename:    "report.pdf",
			ContentType: "application/pdf",
			TaxID:       "12345678000195",
			Description: "balance sheet",
		})
		require.NoError(t, err)
		assert.Equal(t, "42", res.RemoteID)
		assert.Equal(t, "Recebido", res.Status)
	})

	t.Run("non-JSON body is a synthesized success", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "Arquivo recebido")
		})

		res, err := client.UploadDocument(context.Background(), UploadRequest{Filename: "a.pdf"})
		require.NoError(t, err)
		assert.Empty(t, res.RemoteID)
		assert.Equal(t, StatusUploaded, res.Status)
		assert.Equal(t, "Arquivo recebido", res.Message)
	})

	t.Run("empty body is a synthesized success", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})

		res, err := client.UploadDocument(context.Background(), UploadRequest{Filename: "a.pdf"})
		require.NoError(t, err)
		assert.Equal(t, StatusUploaded, res.Status)
		assert.NotEmpty(t, res.Message)
	})

	t.Run("non-2xx is an upload error", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "too large", http.StatusRequestEntityTooLarge)
		})

		_, err := client.UploadDocument(context.Background(), UploadRequest{Filename: "a.pdf"})
		assert.ErrorIs(t, err, apperr.ErrUpload)
		assert.Equal(t, http.StatusRequestEntityTooLarge, apperr.StatusCode(err))
	})

	t.Run("token failure propagates as auth error", func(t *testing.T) {
		client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("remote must not be called without a token")
		})
		tokens.err = apperr.New(apperr.ErrAuth, "renew token", "down")

		_, err := client.UploadDocument(context.Background(), UploadRequest{Filename: "a.pdf"})
		assert.ErrorIs(t, err, apperr.ErrAuth)
	})
}

func TestGetStatus(t *testing.T) {
	t.Run("parses object", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/documents/77/status", r.URL.Path)
			_, _ = io.WriteString(w, `{"id":"77","status":"Processando","progresso":50}`)
		})

		info, err := client.GetStatus(context.Background(), "77")
		require.NoError(t, err)
		assert.Equal(t, "Processando", info.Status)
		assert.Equal(t, "50", info.Progress)
	})

	t.Run("accepts bare string", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `"Concluido"`)
		})

		info, err := client.GetStatus(context.Background(), "77")
		require.NoError(t, err)
		assert.Equal(t, "Concluido", info.Status)
	})

	t.Run("unparseable body is a remote error", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `<html/>`)
		})

		_, err := client.GetStatus(context.Background(), "77")
		assert.ErrorIs(t, err, apperr.ErrRemote)
	})

	t.Run("non-2xx is a remote error", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := client.GetStatus(context.Background(), "77")
		assert.ErrorIs(t, err, apperr.ErrRemote)
		assert.Equal(t, http.StatusBadGateway, apperr.StatusCode(err))
	})

	t.Run("401 invalidates the token and retries once", func(t *testing.T) {
		var calls atomic.Int32
		client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"status":"Processando"}`)
		})

		info, err := client.GetStatus(context.Background(), "1")
		require.NoError(t, err)
		assert.Equal(t, "Processando", info.Status)
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, int32(1), tokens.invalidated.Load())
	})

	t.Run("deadline bounds the call", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		})
		client.cfg.RequestTimeout = 50 * time.Millisecond

		_, err := client.GetStatus(context.Background(), "1")
		assert.ErrorIs(t, err, apperr.ErrRemote)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestGetExport(t *testing.T) {
	t.Run("flattens every top-level array", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/export/12345678000195", r.URL.Path)
			_, _ = io.WriteString(w, `{"b":[{"codigo":"2"},{"codigo":"3"}],"a":[{"codigo":"1"}]}`)
		})

		rows, err := client.GetExport(context.Background(), "12.345.678/0001-95")
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, model.Text("1"), rows[0].Code)
		assert.Equal(t, model.Text("2"), rows[1].Code)
		assert.Equal(t, model.Text("3"), rows[2].Code)
	})

	t.Run("non-object body yields no rows", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `[{"codigo":"1"}]`)
		})

		rows, err := client.GetExport(context.Background(), "12345678000195")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("invalid tax id is a validation error", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("remote must not be called")
		})

		_, err := client.GetExport(context.Background(), "12-3")
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}

func TestFlattenExport(t *testing.T) {
	rows, skipped := FlattenExport([]byte(`{"a":[{"codigo":"1"}], "b":[{"codigo":"2"}], "meta":{"total":2}, "count":2}`))

	require.Len(t, rows, 2)
	assert.Equal(t, 0, skipped)
	codes := []string{rows[0].Code.String(), rows[1].Code.String()}
	assert.ElementsMatch(t, []string{"1", "2"}, codes)

	rows, skipped = FlattenExport([]byte(`{"a":[{"codigo":"1"}, 5, "x"]}`))
	assert.Len(t, rows, 1)
	assert.Equal(t, 2, skipped)
}

func TestGetMapping(t *testing.T) {
	raw := "conta;termo\n1.01;Ativo Circulante\n"
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mapping/9", r.URL.Path)
		_, _ = io.WriteString(w, raw)
	})

	got, err := client.GetMapping(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestExpand(t *testing.T) {
	assert.Equal(t, "http://x/doc/a%20b/status", expand("http://x/doc/{id}/status", "id", "a b"))
	assert.Equal(t, "http://x/mapping/5", expand("http://x/mapping/", "id", "5"))
	assert.True(t, strings.HasSuffix(expand("http://x/export?cnpj={taxId}", "taxId", "1"), "cnpj=1"))
}
