package dns

import (
	"github.com/miekg/dns"
)

const (
	// defaultEDNSBufferSize follows the RFC 6891 recommendation.
	defaultEDNSBufferSize = 4096
	maxEDNSBufferSize     = 4096
	minEDNSBufferSize     = 512
)

// HandleEDNS0 mirrors the request's EDNS0 OPT record onto the response,
// negotiating the advertised UDP payload size and preserving the DO bit.
// Requests without EDNS0 get a response without it.
func HandleEDNS0(req, resp *dns.Msg) {
	if req == nil || resp == nil {
		return
	}

	opt := req.IsEdns0()
	if opt == nil {
		return
	}
	if resp.IsEdns0() != nil {
		return
	}

	out := &dns.OPT{
		Hdr: dns.RR_Header{
			Name:   ".",
			Rrtype: dns.TypeOPT,
		},
	}
	out.SetUDPSize(negotiateBufferSize(opt.UDPSize()))
	if opt.Do() {
		out.SetDo()
	}
	resp.Extra = append(resp.Extra, out)
}

// negotiateBufferSize clamps the client's requested payload size.
func negotiateBufferSize(requested uint16) uint16 {
	switch {
	case requested == 0:
		return defaultEDNSBufferSize
	case requested < minEDNSBufferSize:
		return minEDNSBufferSize
	case requested > maxEDNSBufferSize:
		return maxEDNSBufferSize
	default:
		return requested
	}
}
