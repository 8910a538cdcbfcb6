package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSupabase(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	objects := map[string]string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		key := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/")

		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "false", r.Header.Get("x-upsert"))
			if _, ok := objects[key]; ok {
				w.WriteHeader(http.StatusConflict)
				return
			}
			body, _ := io.ReadAll(r.Body)
			objects[key] = string(body)
			w.WriteHeader(http.StatusOK)
		case http.MethodHead:
			if _, ok := objects[key]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSupabase_PutExists(t *testing.T) {
	srv := fakeSupabase(t)
	s := NewSupabase(srv.URL+"/", "service-key", "documents")
	ctx := context.Background()

	ok, err := s.Exists(ctx, "abc_invoice.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "abc_invoice.pdf", strings.NewReader("data"), "application/pdf"))

	ok, err = s.Exists(ctx, "abc_invoice.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	err = s.Put(ctx, "abc_invoice.pdf", strings.NewReader("again"), "application/pdf")
	assert.ErrorIs(t, err, ErrObjectExists)

	assert.Equal(t, "documents/abc_invoice.pdf", s.Ref("abc_invoice.pdf"))
}
