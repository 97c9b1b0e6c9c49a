package parsers

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	logpkg "github.com/haukened/rr-sinkhole/internal/dns/common/log"
	"github.com/haukened/rr-sinkhole/internal/dns/common/utils"
	"github.com/haukened/rr-sinkhole/internal/dns/domain"
)

// MaxLineBytes bounds a single list line. Longer lines are skipped.
const MaxLineBytes = 64 * 1024

const readBufferSize = 4096

// Result summarizes one parsed source.
type Result struct {
	Lines   int // lines read
	Entries int // lines that produced a domain
	Added   int // entries not already present in the target set
	Skipped int // lines longer than MaxLineBytes
}

// Parse reads r line by line, runs each line through utils.NormalizeDomain
// and adds every non-empty result to into. Every format goes through the
// same normalizer; format only labels the log output.
//
// Lines longer than MaxLineBytes are counted in Result.Skipped and parsing
// continues. Only a read error from r is returned, together with the
// partial Result; entries already added stay in into.
func Parse(r io.Reader, format domain.SourceFormat, into domain.DomainSet, logger logpkg.Logger) (Result, error) {
	var res Result
	br := bufio.NewReaderSize(r, readBufferSize)
	buf := make([]byte, 0, readBufferSize)

	for {
		line, oversized, err := readLine(br, buf)
		buf = line[:0]
		if err != nil && !errors.Is(err, io.EOF) {
			logger.Debug(map[string]any{"line": res.Lines + 1, "error": err}, "list read aborted")
			return res, fmt.Errorf("read line %d: %w", res.Lines+1, err)
		}
		if err != nil && len(line) == 0 && !oversized {
			break
		}

		res.Lines++
		if oversized {
			res.Skipped++
			logger.Debug(map[string]any{"line": res.Lines, "max_bytes": MaxLineBytes}, "list line too long, skipped")
		} else {
			text := string(line)
			if res.Lines == 1 {
				text = strings.TrimPrefix(text, "\uFEFF")
			}
			if name := utils.NormalizeDomain(text); name != "" {
				res.Entries++
				if into.Add(name) {
					res.Added++
				}
			}
		}
		if err != nil {
			break
		}
	}

	logger.Debug(map[string]any{
		"format":  string(format),
		"lines":   res.Lines,
		"entries": res.Entries,
		"added":   res.Added,
		"skipped": res.Skipped,
	}, "list parsed")
	return res, nil
}

// readLine returns the next line without its trailing newline, reusing buf.
// A line longer than MaxLineBytes is drained up to its newline and reported
// as oversized with no content.
func readLine(br *bufio.Reader, buf []byte) ([]byte, bool, error) {
	buf = buf[:0]
	oversized := false
	n := 0
	for {
		chunk, err := br.ReadSlice('\n')
		n += len(chunk)
		content := n
		if err == nil {
			content-- // delimiter
		}
		if content > MaxLineBytes {
			oversized = true
			buf = buf[:0]
		}
		if !oversized {
			buf = append(buf, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err == nil && !oversized {
			buf = buf[:len(buf)-1]
		}
		return buf, oversized, err
	}
}
