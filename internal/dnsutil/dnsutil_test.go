package dnsutil

import (
	"context"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver answers canned responses keyed by (qtype, qname), whatever
// server is asked, avoiding live network I/O in tests.
type fakeResolver struct {
	servers []string
	answers map[string]*dns.Msg // key: qtype/qname
}

func (f *fakeResolver) SystemServers() []string { return f.servers }

func (f *fakeResolver) Exchange(ctx context.Context, server string, req *dns.Msg) (*dns.Msg, error) {
	q := req.Question[0]
	key := dns.TypeToString[q.Qtype] + "/" + q.Name
	if resp, ok := f.answers[key]; ok {
		return resp, nil
	}
	empty := new(dns.Msg)
	empty.SetReply(req)
	return empty, nil
}

func rrA(name, ip string) dns.RR {
	return &dns.A{Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET}, A: net.ParseIP(ip)}
}

func TestGetHostByName_ReturnsOneEntryPerAddress(t *testing.T) {
	resolver := &fakeResolver{
		servers: []string{"203.0.113.1:53"},
		answers: map[string]*dns.Msg{
			"A/ns1.example.com.": msgWithAnswers(rrA("ns1.example.com.", "192.0.2.1"), rrA("ns1.example.com.", "192.0.2.2")),
		},
	}
	l := &Lookup{Resolver: resolver}

	addrs, err := l.GetHostByName(context.Background(), "ns1.example.com")
	require.NoError(t, err)
	assert.Len(t, addrs, 2)
	assert.Equal(t, "192.0.2.1", addrs[0].IP)
	assert.Equal(t, "192.0.2.2", addrs[1].IP)
}

func TestGetHostByName_UnresolvableReturnsZeroAddress(t *testing.T) {
	resolver := &fakeResolver{servers: []string{"203.0.113.1:53"}, answers: map[string]*dns.Msg{}}
	l := &Lookup{Resolver: resolver}

	addrs, err := l.GetHostByName(context.Background(), "nowhere.example.com")
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "0.0.0.0", addrs[0].IP)
}

func msgWithAnswers(rrs ...dns.RR) *dns.Msg {
	m := new(dns.Msg)
	m.Answer = rrs
	return m
}
