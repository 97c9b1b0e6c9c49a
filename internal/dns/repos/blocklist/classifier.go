package blocklist

import (
	"github.com/haukened/rr-sinkhole/internal/dns/common/utils"
	"github.com/haukened/rr-sinkhole/internal/dns/domain"
)

// Classifier decides whether a queried name is sinkholed.
type Classifier struct {
	state *State
}

func NewClassifier(state *State) *Classifier {
	return &Classifier{state: state}
}

// Classify normalizes qname and evaluates it against one consistent snapshot.
// It performs no I/O. An empty or unusable name is allowed.
func (c *Classifier) Classify(qname string) domain.BlockDecision {
	name := utils.NormalizeDomain(qname)
	return c.state.Snapshot().Decide(name)
}
