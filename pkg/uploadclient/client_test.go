package uploadclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	var gotFields map[string]string
	var gotFile string
	var gotFilename string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		gotFile = string(data)
		gotFilename = header.Filename
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	policy := Policy{
		URL: srv.URL,
		FormData: map[string]string{
			"key":    "default/abc123/a.png",
			"policy": "signed",
		},
	}

	err := Upload(context.Background(), nil, policy, "a.png", strings.NewReader("png bytes"))
	require.NoError(t, err)

	assert.Equal(t, "default/abc123/a.png", gotFields["key"])
	assert.Equal(t, "signed", gotFields["policy"])
	assert.Equal(t, "png bytes", gotFile)
	assert.Equal(t, "a.png", gotFilename)
}

func TestUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "policy expired", http.StatusForbidden)
	}))
	defer srv.Close()

	err := Upload(context.Background(), nil, Policy{URL: srv.URL}, "a.png", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "policy expired")
}
