package filestore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-Internal-API-Key"))
		switch r.URL.Path {
		case "/internal/files/abc":
			_, _ = w.Write([]byte(`{"name":"invoice.pdf","mime_type":"application/pdf","content":"JVBERi0="}`))
		case "/internal/files/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "key")

	file, err := client.GetFile(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", file.PublicID)
	assert.Equal(t, "application/pdf", file.MimeType)
	assert.Equal(t, "JVBERi0=", file.Content)

	_, err = client.GetFile(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = client.GetFile(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFileNotFound)

	_, err = client.GetFile(context.Background(), " ")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestGetFileWithoutBaseURL(t *testing.T) {
	_, err := NewClient("", "").GetFile(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
