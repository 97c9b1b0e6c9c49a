package domain

import (
	"fmt"
	"net/netip"
)

// Query is one decoded client question together with where it came from.
type Query struct {
	ID     uint16
	Name   string // question name as received, trailing dot included
	Type   RRType
	Client netip.AddrPort
}

// ClientAddr returns the client's IP address as text, or "-" when unknown.
func (q Query) ClientAddr() string {
	if !q.Client.IsValid() {
		return "-"
	}
	return q.Client.Addr().Unmap().String()
}

func (q Query) String() string {
	return fmt.Sprintf("%d %s %s from %s", q.ID, q.Name, q.Type, q.ClientAddr())
}
