package wire

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/miekg/dns"

	"github.com/haukened/rr-sinkhole/internal/dns/domain"
)

const headerLen = 12

// ErrMalformedQuery is returned for datagrams that are not a usable DNS query.
var ErrMalformedQuery = errors.New("malformed query")

// Request is a decoded client datagram. The original message is kept so
// replies can echo its ID, flags and question.
type Request struct {
	Query domain.Query
	msg   *dns.Msg
}

// Options configures the sinkhole answers a Codec synthesizes.
type Options struct {
	IPv4 netip.Addr
	IPv6 netip.Addr
	TTL  uint32
}

// Codec decodes client queries and builds the replies the relay produces
// itself. Forwarded upstream answers never pass through it.
type Codec struct {
	ipv4 net.IP
	ipv6 net.IP
	ttl  uint32
}

// NewCodec builds a Codec. Invalid or missing addresses fall back to the
// unspecified address of their family.
func NewCodec(opts Options) *Codec {
	v4 := net.IPv4zero.To4()
	if opts.IPv4.Is4() {
		v4 = net.IP(opts.IPv4.AsSlice())
	}
	v6 := net.IPv6zero
	if opts.IPv6.IsValid() && !opts.IPv6.Is4() {
		v6 = net.IP(opts.IPv6.AsSlice())
	}
	return &Codec{ipv4: v4, ipv6: v6, ttl: opts.TTL}
}

// DecodeQuery unpacks one client datagram. Anything that fails to unpack,
// carries the response bit or has no question yields ErrMalformedQuery.
func (c *Codec) DecodeQuery(data []byte, client netip.AddrPort) (Request, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(data); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}
	if msg.Response {
		return Request{}, fmt.Errorf("%w: response bit set", ErrMalformedQuery)
	}
	if len(msg.Question) == 0 {
		return Request{}, fmt.Errorf("%w: no question", ErrMalformedQuery)
	}
	q := msg.Question[0]
	return Request{
		Query: domain.Query{
			ID:     msg.Id,
			Name:   q.Name,
			Type:   domain.RRType(q.Qtype),
			Client: client,
		},
		msg: msg,
	}, nil
}

// Sinkhole answers req with the configured sinkhole address: one A record
// for A questions, one AAAA record for AAAA questions, and an empty
// NOERROR answer for every other type.
func (c *Codec) Sinkhole(req Request) ([]byte, error) {
	resp := reply(req.msg, dns.RcodeSuccess)
	q := req.msg.Question[0]
	hdr := dns.RR_Header{Name: q.Name, Class: dns.ClassINET, Ttl: c.ttl}
	switch q.Qtype {
	case dns.TypeA:
		hdr.Rrtype = dns.TypeA
		resp.Answer = append(resp.Answer, &dns.A{Hdr: hdr, A: c.ipv4})
	case dns.TypeAAAA:
		hdr.Rrtype = dns.TypeAAAA
		resp.Answer = append(resp.Answer, &dns.AAAA{Hdr: hdr, AAAA: c.ipv6})
	}
	return pack(resp)
}

// ServFail answers req with SERVFAIL and no records.
func (c *Codec) ServFail(req Request) ([]byte, error) {
	return pack(reply(req.msg, dns.RcodeServerFailure))
}

func reply(req *dns.Msg, rcode int) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetRcode(req, rcode)
	resp.RecursionAvailable = true
	return resp
}

func pack(m *dns.Msg) ([]byte, error) {
	b, err := m.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack reply: %w", err)
	}
	return b, nil
}

// ResponseID returns the message ID of a raw DNS datagram.
func ResponseID(data []byte) (uint16, bool) {
	if len(data) < headerLen {
		return 0, false
	}
	return uint16(data[0])<<8 | uint16(data[1]), true
}
