// Package blockedlog appends one line per sinkholed query to a text file.
package blockedlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/haukened/rr-sinkhole/internal/dns/common/utils"
)

// Entry is one sinkholed query.
type Entry struct {
	Time   time.Time
	Domain string
	Client string
}

// Writer records blocked queries.
type Writer interface {
	Write(e Entry) error
	Close() error
}

type fileWriter struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// Open returns a Writer appending to path, or a no-op Writer when path is empty.
func Open(path string) (Writer, error) {
	if path == "" {
		return Nop(), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open blocked log: %w", err)
	}
	return &fileWriter{w: f}, nil
}

// Format renders e as "RFC3339<TAB>domain<TAB>registrable-domain<TAB>client\n".
func Format(e Entry) string {
	var b strings.Builder
	b.WriteString(e.Time.UTC().Format(time.RFC3339))
	b.WriteByte('\t')
	b.WriteString(e.Domain)
	b.WriteByte('\t')
	b.WriteString(utils.GetApexDomain(e.Domain))
	b.WriteByte('\t')
	client := e.Client
	if client == "" {
		client = "-"
	}
	b.WriteString(client)
	b.WriteByte('\n')
	return b.String()
}

func (w *fileWriter) Write(e Entry) error {
	line := Format(e)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.w, line); err != nil {
		return fmt.Errorf("write blocked log: %w", err)
	}
	return nil
}

func (w *fileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Close()
}

type nopWriter struct{}

func (nopWriter) Write(Entry) error { return nil }
func (nopWriter) Close() error      { return nil }

// Nop returns a Writer that discards entries.
func Nop() Writer { return nopWriter{} }
