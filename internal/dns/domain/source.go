package domain

import (
	"fmt"
	"strings"
)

// SourceFormat names the syntax of a blocklist source.
type SourceFormat string

const (
	FormatHosts   SourceFormat = "hosts"   // "0.0.0.0 name" lines
	FormatAdblock SourceFormat = "adblock" // "||name^" filter lines
	FormatDomains SourceFormat = "domains" // one bare domain per line
)

// ParseSourceFormat accepts the three format names, case-insensitive.
func ParseSourceFormat(s string) (SourceFormat, error) {
	switch f := SourceFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatHosts, FormatAdblock, FormatDomains:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported source format: %q", s)
	}
}

// Source is one configured blocklist: an http(s) URL, a file:// URL or a local path.
type Source struct {
	Location string
	Format   SourceFormat
}

// ParseSource parses "[<format>:]<location>". Without a recognized format
// prefix the whole string is the location and the format is hosts, so
// "https://..." is never mistaken for a format named "https".
func ParseSource(s string) (Source, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Source{}, fmt.Errorf("empty source")
	}
	src := Source{Location: s, Format: FormatHosts}
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		if f, err := ParseSourceFormat(prefix); err == nil {
			src.Format = f
			src.Location = strings.TrimSpace(rest)
		}
	}
	if src.Location == "" {
		return Source{}, fmt.Errorf("source %q has no location", s)
	}
	return src, nil
}

// ParseSources parses every entry, failing on the first invalid one.
func ParseSources(in []string) ([]Source, error) {
	out := make([]Source, 0, len(in))
	for _, s := range in {
		src, err := ParseSource(s)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// IsRemote reports whether the source is fetched over HTTP.
func (s Source) IsRemote() bool {
	l := strings.ToLower(s.Location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func (s Source) String() string {
	return string(s.Format) + ":" + s.Location
}
