package blockedlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	e := Entry{
		Time:   time.Date(2025, 8, 1, 12, 30, 0, 0, time.UTC),
		Domain: "pixel.ads.example.co.uk",
		Client: "192.168.1.20",
	}
	assert.Equal(t, "2025-08-01T12:30:00Z\tpixel.ads.example.co.uk\texample.co.uk\t192.168.1.20\n", Format(e))

	e.Client = ""
	assert.True(t, strings.HasSuffix(Format(e), "\t-\n"))
}

func TestOpen_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked.log")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0o644))

	w, err := Open(path)
	require.NoError(t, err)
	ts := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, w.Write(Entry{Time: ts, Domain: "ads.example.com", Client: "10.0.0.1"}))
	require.NoError(t, w.Write(Entry{Time: ts, Domain: "tracker.net", Client: "10.0.0.2"}))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "existing", lines[0])
	assert.Equal(t, "2025-08-01T00:00:00Z\tads.example.com\texample.com\t10.0.0.1", lines[1])
	assert.Equal(t, "2025-08-01T00:00:00Z\ttracker.net\ttracker.net\t10.0.0.2", lines[2])
}

func TestOpen_ConcurrentWritesDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked.log")
	w, err := Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = w.Write(Entry{Time: time.Now(), Domain: fmt.Sprintf("h%d.ads.example", i), Client: "127.0.0.1"})
		}(i)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 50)
	for _, l := range lines {
		assert.Len(t, strings.Split(l, "\t"), 4)
	}
}

func TestOpen_EmptyPathIsNop(t *testing.T) {
	w, err := Open("")
	require.NoError(t, err)
	assert.NoError(t, w.Write(Entry{Domain: "x.example"}))
	assert.NoError(t, w.Close())
}

func TestOpen_Error(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "blocked.log"))
	assert.Error(t, err)
}

type failingWriteCloser struct{}

func (failingWriteCloser) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (failingWriteCloser) Close() error              { return nil }

func TestWrite_Error(t *testing.T) {
	w := &fileWriter{w: failingWriteCloser{}}
	err := w.Write(Entry{Domain: "ads.example"})
	assert.ErrorContains(t, err, "disk full")
}
