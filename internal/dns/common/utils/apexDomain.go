package utils

import "golang.org/x/net/publicsuffix"

// GetApexDomain returns the registrable domain (eTLD+1) of a normalized name,
// e.g. "ads.tracker.co.uk" -> "tracker.co.uk". Names the public suffix list
// cannot reduce are returned unchanged.
func GetApexDomain(name string) string {
	name = NormalizeDomain(name)
	if name == "" {
		return ""
	}
	apex, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apex
}
