package utils

import (
	"net/netip"
	"strings"
)

// commentMarkers lists the characters that open a comment line in the
// supported list formats: '#' for hosts and plain lists, '!' for adblock filters.
const commentMarkers = "#!"

// NormalizeDomain canonicalizes one raw list line into a bare lowercase domain.
// It accepts hosts-file entries ("0.0.0.0 ads.example"), adblock filter lines
// ("||ads.example^") and bare domains or URLs ("https://www.ads.example/x").
// It returns "" when nothing usable remains.
//
// The result only contains [a-z0-9.-], never starts or ends with '.' or '-',
// and is not further validated: noisy filter syntax can yield names that do
// not exist, and the allowlist is the correction mechanism for those.
func NormalizeDomain(line string) string {
	s := strings.ToLower(strings.TrimSpace(line))
	if s == "" || strings.IndexByte(commentMarkers, s[0]) >= 0 {
		return ""
	}

	fields := strings.Fields(s)
	candidate := fields[0]
	if len(fields) > 1 && isIPv4Literal(candidate) {
		// hosts form: the address is noise, the name follows it
		candidate = fields[1]
	}

	if i := strings.Index(candidate, "://"); i >= 0 {
		candidate = candidate[i+3:]
	}
	candidate = strings.TrimPrefix(candidate, "www.")
	if i := strings.IndexByte(candidate, '/'); i >= 0 {
		candidate = candidate[:i]
	}

	candidate = strings.Map(keepDomainRune, candidate)
	candidate = strings.Trim(candidate, ".-")

	// stripping punctuation can expose another "www." (e.g. "-www.ads.example");
	// peel until stable so a second pass never changes the result.
	for strings.HasPrefix(candidate, "www.") {
		candidate = strings.Trim(strings.TrimPrefix(candidate, "www."), ".-")
	}
	return candidate
}

// keepDomainRune drops every rune outside [a-z0-9.-].
func keepDomainRune(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
		return r
	default:
		return -1
	}
}

// isIPv4Literal reports whether s is a dotted-quad IPv4 address.
func isIPv4Literal(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

// Suffixes returns every right-aligned suffix of name with at least two labels,
// ordered from shortest to longest. For "a.b.c.d" it returns
// ["c.d", "b.c.d", "a.b.c.d"]. Single-label names have no suffixes.
// The returned strings share name's backing memory.
func Suffixes(name string) []string {
	var out []string
	dots := 0
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] != '.' {
			continue
		}
		dots++
		if dots >= 2 {
			out = append(out, name[i+1:])
		}
	}
	if dots > 0 {
		out = append(out, name)
	}
	return out
}
