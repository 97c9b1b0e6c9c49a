package domain

// Verdict is the outcome of classifying a name.
type Verdict uint8

const (
	Allow Verdict = iota
	Block
)

func (v Verdict) String() string {
	if v == Block {
		return "block"
	}
	return "allow"
}

// MarshalText renders the verdict as "allow" or "block".
func (v Verdict) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// Reason records which rule produced a verdict.
type Reason string

const (
	ReasonNone      Reason = "none"      // no list mentions the name
	ReasonAllowlist Reason = "allowlist" // name or a parent is allowlisted
	ReasonExact     Reason = "exact"     // name itself is blocklisted
	ReasonSuffix    Reason = "suffix"    // a parent domain is blocklisted
)

// BlockDecision is the classifier's answer for one name. Matched holds the
// list member that decided it and is empty for ReasonNone.
type BlockDecision struct {
	Name    string  `json:"name"`
	Verdict Verdict `json:"verdict"`
	Matched string  `json:"matched,omitempty"`
	Reason  Reason  `json:"reason"`
}

// IsBlocked is a convenience accessor.
func (d BlockDecision) IsBlocked() bool { return d.Verdict == Block }

// Allowed returns an ALLOW decision.
func Allowed(name string, reason Reason, matched string) BlockDecision {
	return BlockDecision{Name: name, Verdict: Allow, Reason: reason, Matched: matched}
}

// Blocked returns a BLOCK decision.
func Blocked(name string, reason Reason, matched string) BlockDecision {
	return BlockDecision{Name: name, Verdict: Block, Reason: reason, Matched: matched}
}
