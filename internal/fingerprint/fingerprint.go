// Package fingerprint canonicalizes test parameters and derives the stable
// 64-bit identifier used both as the dedup key and, hex-encoded, as a Test's
// external id ("hash_id"). See spec.md §4.2.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/zonemaster/broker/internal/models"
)

// canonical is the serialized shape that participates in the fingerprint.
// client_id, client_version, priority, queue, and language are deliberately
// excluded per spec.md §4.2.
// Fields are declared in ascending order of their JSON keys, so the
// serialized object has sorted keys.
type canonical struct {
	Domain      string              `json:"domain"`
	DSInfo      []canonicalDS       `json:"ds_info"`
	IPv4        bool                `json:"ipv4"`
	IPv6        bool                `json:"ipv6"`
	NameServers []canonicalNS       `json:"nameservers"`
	Profile     string              `json:"profile"`
}

type canonicalNS struct {
	IP string `json:"ip"`
	NS string `json:"ns"`
}

type canonicalDS struct {
	Algorithm uint8  `json:"algorithm"`
	Digest    string `json:"digest"`
	DigType   uint8  `json:"digtype"`
	KeyTag    uint16 `json:"keytag"`
}

// Normalize lowercases the domain (stripping a trailing dot unless the
// domain is the root ".") and profile, and sorts nameservers/ds_info into
// canonical order, per spec.md §4.2. It mutates and returns a copy of p with
// normalized fields; callers should persist the returned Params, not the
// original.
func Normalize(p models.Params) models.Params {
	out := p
	out.Domain = normalizeDomain(p.Domain)
	out.Profile = strings.ToLower(strings.TrimSpace(p.Profile))

	ns := make([]models.NameServer, len(p.NameServers))
	for i, n := range p.NameServers {
		ns[i] = models.NameServer{NS: strings.ToLower(n.NS), IP: n.IP}
	}
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].NS != ns[j].NS {
			return ns[i].NS < ns[j].NS
		}
		return ns[i].IP < ns[j].IP
	})
	out.NameServers = ns

	ds := make([]models.DSInfo, len(p.DSInfo))
	copy(ds, p.DSInfo)
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].KeyTag != ds[j].KeyTag {
			return ds[i].KeyTag < ds[j].KeyTag
		}
		if ds[i].Algorithm != ds[j].Algorithm {
			return ds[i].Algorithm < ds[j].Algorithm
		}
		if ds[i].DigType != ds[j].DigType {
			return ds[i].DigType < ds[j].DigType
		}
		return ds[i].Digest < ds[j].Digest
	})
	out.DSInfo = ds

	return out
}

func normalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "." {
		return d
	}
	return strings.TrimSuffix(d, ".")
}

// Fingerprint computes the 64-bit identifier over the normalized params.
// p must already be normalized (see Normalize); Fingerprint does not
// re-normalize, so that callers can fingerprint with and without the
// query-only fields stripped out explicitly.
func Fingerprint(p models.Params) uint64 {
	c := canonical{
		Domain:  p.Domain,
		IPv4:    boolVal(p.IPv4),
		IPv6:    boolVal(p.IPv6),
		Profile: p.Profile,
	}
	c.NameServers = make([]canonicalNS, len(p.NameServers))
	for i, n := range p.NameServers {
		c.NameServers[i] = canonicalNS{NS: n.NS, IP: n.IP}
	}
	c.DSInfo = make([]canonicalDS, len(p.DSInfo))
	for i, d := range p.DSInfo {
		c.DSInfo[i] = canonicalDS{KeyTag: d.KeyTag, Algorithm: d.Algorithm, DigType: d.DigType, Digest: d.Digest}
	}

	// encoding/json marshals structs field-by-field in declaration order,
	// which the canonical types keep alphabetical by key, so keys come out
	// sorted; no whitespace is emitted by the default encoder, satisfying
	// "no whitespace" from spec.md §4.2.
	buf, err := json.Marshal(c)
	if err != nil {
		// canonical contains no types that can fail to marshal.
		panic("fingerprint: unexpected marshal error: " + err.Error())
	}
	sum := md5.Sum(buf)
	return uint64(sum[0])<<56 | uint64(sum[1])<<48 | uint64(sum[2])<<40 | uint64(sum[3])<<32 |
		uint64(sum[4])<<24 | uint64(sum[5])<<16 | uint64(sum[6])<<8 | uint64(sum[7])
}

// TestID renders a fingerprint as the 16-character lowercase hex test id.
func TestID(fp uint64) string {
	var b [8]byte
	b[0] = byte(fp >> 56)
	b[1] = byte(fp >> 48)
	b[2] = byte(fp >> 40)
	b[3] = byte(fp >> 32)
	b[4] = byte(fp >> 24)
	b[5] = byte(fp >> 16)
	b[6] = byte(fp >> 8)
	b[7] = byte(fp)
	return hex.EncodeToString(b[:])
}

func boolVal(b *bool) bool {
	return b != nil && *b
}
