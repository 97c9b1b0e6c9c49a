package domain

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuery_ClientAddr(t *testing.T) {
	q := Query{Client: netip.MustParseAddrPort("192.168.1.20:53000")}
	assert.Equal(t, "192.168.1.20", q.ClientAddr())

	mapped := Query{Client: netip.MustParseAddrPort("[::ffff:10.0.0.1]:5353")}
	assert.Equal(t, "10.0.0.1", mapped.ClientAddr())

	assert.Equal(t, "-", Query{}.ClientAddr())
}

func TestQuery_String(t *testing.T) {
	q := Query{
		ID:     4242,
		Name:   "ads.example.com.",
		Type:   RRTypeAAAA,
		Client: netip.MustParseAddrPort("127.0.0.1:1000"),
	}
	assert.Equal(t, "4242 ads.example.com. AAAA from 127.0.0.1", q.String())
}
