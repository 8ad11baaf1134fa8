// Package dnsutil implements the two read-only lookup helpers the broker
// exposes directly over RPC: get_host_by_name and get_data_from_parent_zone
// (spec.md §4.4/§6). Neither does caching or recursive-resolver logic of
// its own; both are thin, context-aware wrappers around a miekg/dns
// exchange against either the system resolver or an explicit nameserver.
//
// Grounded on other_examples/The-ASTRACAT-Corporation-AstracatCATDNS-POPs__backend.go's
// Backend.Exchange(ctx, *dns.Msg) shape, narrowed from a pluggable
// recursive-resolver interface to direct miekg/dns client calls.
package dnsutil

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/zonemaster/broker/internal/models"
)

// HostAddress is one address found for a hostname. get_host_by_name renders
// each as a {hostname: ip} object keyed by the requested hostname.
type HostAddress struct {
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
}

// ParentZoneData is get_data_from_parent_zone's result (spec.md §6).
type ParentZoneData struct {
	NSList []models.NameServer `json:"ns_list"`
	DSList []models.DSInfo     `json:"ds_list"`
}

// Resolver performs the underlying DNS exchanges. The default
// implementation talks to the system resolver via a miekg/dns client;
// tests substitute a fake to avoid live network I/O.
type Resolver interface {
	// Exchange sends req to server ("host:port") and returns the reply.
	Exchange(ctx context.Context, server string, req *dns.Msg) (*dns.Msg, error)
	// SystemServers returns the resolvers configured in /etc/resolv.conf.
	SystemServers() []string
}

// ClientResolver is the production Resolver, backed by *dns.Client.
type ClientResolver struct {
	Client  *dns.Client
	Servers []string
}

// NewClientResolver builds a ClientResolver from /etc/resolv.conf, falling
// back to the public resolver 8.8.8.8 if the system config can't be read
// (containers frequently ship without one).
func NewClientResolver(timeout time.Duration) *ClientResolver {
	servers := []string{"8.8.8.8:53"}
	if cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cfg.Servers) > 0 {
		servers = make([]string, len(cfg.Servers))
		for i, s := range cfg.Servers {
			servers[i] = s
			if !strings.Contains(s, ":") {
				servers[i] = s + ":53"
			}
		}
	}
	return &ClientResolver{
		Client:  &dns.Client{Timeout: timeout},
		Servers: servers,
	}
}

func (r *ClientResolver) Exchange(ctx context.Context, server string, req *dns.Msg) (*dns.Msg, error) {
	resp, _, err := r.Client.ExchangeContext(ctx, req, server)
	return resp, err
}

func (r *ClientResolver) SystemServers() []string { return r.Servers }

// Lookup bundles the Resolver behind the two RPC operations, per spec.md §4.4.
type Lookup struct {
	Resolver Resolver
}

// NewLookup constructs a Lookup using the system resolver with the given
// per-exchange timeout.
func NewLookup(timeout time.Duration) *Lookup {
	return &Lookup{Resolver: NewClientResolver(timeout)}
}

// GetHostByName implements get_host_by_name: A and AAAA lookups against the
// system resolver, one HostAddress per address found. Per spec.md §9's
// resolved open question, an unresolvable hostname yields a single
// {hostname: "0.0.0.0"} entry rather than an error.
func (l *Lookup) GetHostByName(ctx context.Context, hostname string) ([]HostAddress, error) {
	fqdn := dns.Fqdn(hostname)
	var out []HostAddress
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := l.query(ctx, fqdn, qtype)
		if err != nil {
			continue // a single failed query type doesn't fail the whole call
		}
		out = append(out, addrs...)
	}
	if len(out) == 0 {
		return []HostAddress{{Hostname: hostname, IP: "0.0.0.0"}}, nil
	}
	return out, nil
}

func (l *Lookup) query(ctx context.Context, fqdn string, qtype uint16) ([]HostAddress, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range l.Resolver.SystemServers() {
		resp, err := l.Resolver.Exchange(ctx, server, msg)
		if err != nil {
			lastErr = err
			continue
		}
		var out []HostAddress
		for _, rr := range resp.Answer {
			switch v := rr.(type) {
			case *dns.A:
				out = append(out, HostAddress{Hostname: fqdn, IP: v.A.String()})
			case *dns.AAAA:
				out = append(out, HostAddress{Hostname: fqdn, IP: v.AAAA.String()})
			}
		}
		return out, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("dnsutil: no resolvers configured")
	}
	return nil, lastErr
}

// GetDataFromParentZone implements get_data_from_parent_zone: it resolves
// domain's parent's nameservers, then asks one of them directly for
// domain's NS and DS delegation records — the records that actually
// determine whether the domain is correctly delegated, as distinct from
// what domain's own nameservers claim about themselves.
func (l *Lookup) GetDataFromParentZone(ctx context.Context, domain string) (ParentZoneData, error) {
	parent := parentOf(domain)
	parentServers, err := l.nameserversOf(ctx, parent)
	if err != nil || len(parentServers) == 0 {
		parentServers = l.Resolver.SystemServers()
	}

	var data ParentZoneData
	for _, server := range parentServers {
		ns, err := l.delegationNS(ctx, server, domain)
		if err != nil {
			continue
		}
		data.NSList = ns
		break
	}
	for _, server := range parentServers {
		ds, err := l.delegationDS(ctx, server, domain)
		if err != nil {
			continue
		}
		data.DSList = ds
		break
	}
	return data, nil
}

// nameserversOf resolves domain's own NS records via the system resolver,
// then resolves each nameserver's address so GetDataFromParentZone has
// something to query directly.
func (l *Lookup) nameserversOf(ctx context.Context, domain string) ([]string, error) {
	fqdn := dns.Fqdn(domain)
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeNS)
	msg.RecursionDesired = true

	var nsNames []string
	for _, server := range l.Resolver.SystemServers() {
		resp, err := l.Resolver.Exchange(ctx, server, msg)
		if err != nil {
			continue
		}
		for _, rr := range resp.Answer {
			if ns, ok := rr.(*dns.NS); ok {
				nsNames = append(nsNames, ns.Ns)
			}
		}
		if len(nsNames) > 0 {
			break
		}
	}

	var servers []string
	for _, name := range nsNames {
		addrs, err := l.GetHostByName(ctx, name)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if a.IP != "0.0.0.0" {
				servers = append(servers, a.IP+":53")
			}
		}
	}
	return servers, nil
}

func (l *Lookup) delegationNS(ctx context.Context, server, domain string) ([]models.NameServer, error) {
	fqdn := dns.Fqdn(domain)
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeNS)
	resp, err := l.Resolver.Exchange(ctx, server, msg)
	if err != nil {
		return nil, err
	}
	var out []models.NameServer
	for _, rr := range append(resp.Answer, resp.Ns...) {
		ns, ok := rr.(*dns.NS)
		if !ok {
			continue
		}
		entry := models.NameServer{NS: strings.TrimSuffix(ns.Ns, ".")}
		if addrs, err := l.GetHostByName(ctx, ns.Ns); err == nil && len(addrs) > 0 && addrs[0].IP != "0.0.0.0" {
			entry.IP = addrs[0].IP
		}
		out = append(out, entry)
	}
	return out, nil
}

func (l *Lookup) delegationDS(ctx context.Context, server, domain string) ([]models.DSInfo, error) {
	fqdn := dns.Fqdn(domain)
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeDS)
	resp, err := l.Resolver.Exchange(ctx, server, msg)
	if err != nil {
		return nil, err
	}
	var out []models.DSInfo
	for _, rr := range resp.Answer {
		ds, ok := rr.(*dns.DS)
		if !ok {
			continue
		}
		out = append(out, models.DSInfo{
			KeyTag:    ds.KeyTag,
			Algorithm: ds.Algorithm,
			DigType:   ds.DigestType,
			Digest:    strings.ToLower(ds.Digest),
		})
	}
	return out, nil
}

func parentOf(domain string) string {
	d := strings.TrimSuffix(domain, ".")
	idx := strings.IndexByte(d, '.')
	if idx < 0 {
		return "."
	}
	return d[idx+1:]
}
