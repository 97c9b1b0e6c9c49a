package domain

import "fmt"

// RRType is a DNS resource record type code. The sinkhole only needs to tell
// address questions apart from everything else; other codes pass through as
// their numeric value.
type RRType uint16

const (
	RRTypeA     RRType = 1
	RRTypeNS    RRType = 2
	RRTypeCNAME RRType = 5
	RRTypeSOA   RRType = 6
	RRTypePTR   RRType = 12
	RRTypeMX    RRType = 15
	RRTypeTXT   RRType = 16
	RRTypeAAAA  RRType = 28
	RRTypeSRV   RRType = 33
	RRTypeHTTPS RRType = 65
	RRTypeANY   RRType = 255
)

var rrTypeNames = map[RRType]string{
	RRTypeA:     "A",
	RRTypeNS:    "NS",
	RRTypeCNAME: "CNAME",
	RRTypeSOA:   "SOA",
	RRTypePTR:   "PTR",
	RRTypeMX:    "MX",
	RRTypeTXT:   "TXT",
	RRTypeAAAA:  "AAAA",
	RRTypeSRV:   "SRV",
	RRTypeHTTPS: "HTTPS",
	RRTypeANY:   "ANY",
}

// String returns the mnemonic for known types and the RFC 3597 "TYPEn" form otherwise.
func (t RRType) String() string {
	if name, ok := rrTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE%d", uint16(t))
}

// IsAddress reports whether a sinkhole answer can be synthesized for t.
func (t RRType) IsAddress() bool {
	return t == RRTypeA || t == RRTypeAAAA
}
