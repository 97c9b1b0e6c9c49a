package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-sinkhole/internal/dns/domain"
)

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestOpen_HTTP(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = io.WriteString(w, "0.0.0.0 ads.example.com\n")
	}))
	defer srv.Close()

	f := New(5 * time.Second)
	rc, err := f.Open(context.Background(), domain.Source{Location: srv.URL + "/hosts", Format: domain.FormatHosts})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0 ads.example.com\n", readAll(t, rc))
	assert.Equal(t, DefaultUserAgent, gotUA)
}

func TestOpen_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(time.Second).Open(context.Background(), domain.Source{Location: srv.URL})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Contains(t, err.Error(), "500")
}

func TestOpen_HTTPTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := New(50*time.Millisecond).Open(context.Background(), domain.Source{Location: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOpen_HTTPConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(time.Second).Open(context.Background(), domain.Source{Location: url})
	assert.Error(t, err)
}

func TestOpen_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("ads.example\n"), 0o644))

	f := New(time.Second)

	rc, err := f.Open(context.Background(), domain.Source{Location: path})
	require.NoError(t, err)
	assert.Equal(t, "ads.example\n", readAll(t, rc))

	rc, err = f.Open(context.Background(), domain.Source{Location: "file://" + path})
	require.NoError(t, err)
	assert.Equal(t, "ads.example\n", readAll(t, rc))
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := New(time.Second).Open(context.Background(), domain.Source{Location: filepath.Join(t.TempDir(), "nope")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpen_ZeroValueFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	var f Fetcher
	rc, err := f.Open(context.Background(), domain.Source{Location: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "ok", readAll(t, rc))
}
