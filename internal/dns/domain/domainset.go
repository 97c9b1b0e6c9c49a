package domain

import "slices"

// DomainSet is a set of normalized domain names.
type DomainSet map[string]struct{}

// NewDomainSet returns a set holding names. Empty strings are skipped.
func NewDomainSet(names ...string) DomainSet {
	s := make(DomainSet, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add inserts name and reports whether it was new.
func (s DomainSet) Add(name string) bool {
	if name == "" {
		return false
	}
	if _, ok := s[name]; ok {
		return false
	}
	s[name] = struct{}{}
	return true
}

func (s DomainSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s DomainSet) Len() int { return len(s) }

// Merge adds every member of other to s.
func (s DomainSet) Merge(other DomainSet) {
	for n := range other {
		s[n] = struct{}{}
	}
}

// Sorted returns the members in lexical order.
func (s DomainSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
