package relay

import (
	"context"

	"github.com/haukened/rr-sinkhole/internal/dns/domain"
)

// Classifier decides whether a question name is sinkholed.
type Classifier interface {
	Classify(qname string) domain.BlockDecision
}

// Forwarder exchanges a raw query with the upstream resolver.
type Forwarder interface {
	Forward(ctx context.Context, query []byte) ([]byte, error)
}
