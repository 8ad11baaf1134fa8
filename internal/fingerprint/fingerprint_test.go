package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zonemaster/broker/internal/models"
)

func boolPtr(b bool) *bool { return &b }

func TestFingerprint_PermutationInvariant(t *testing.T) {
	a := models.Params{
		Domain:  "Zonemaster.net.",
		IPv4:    boolPtr(true),
		IPv6:    boolPtr(true),
		Profile: "Default",
		NameServers: []models.NameServer{
			{NS: "ns2.example.com", IP: "1.2.3.4"},
			{NS: "ns1.example.com", IP: "5.6.7.8"},
		},
		DSInfo: []models.DSInfo{
			{KeyTag: 2, Algorithm: 8, DigType: 2, Digest: "bb"},
			{KeyTag: 1, Algorithm: 8, DigType: 2, Digest: "aa"},
		},
	}
	b := models.Params{
		Domain:  "zonemaster.net",
		IPv4:    boolPtr(true),
		IPv6:    boolPtr(true),
		Profile: "default",
		NameServers: []models.NameServer{
			{NS: "ns1.example.com", IP: "5.6.7.8"},
			{NS: "ns2.example.com", IP: "1.2.3.4"},
		},
		DSInfo: []models.DSInfo{
			{KeyTag: 1, Algorithm: 8, DigType: 2, Digest: "aa"},
			{KeyTag: 2, Algorithm: 8, DigType: 2, Digest: "bb"},
		},
	}

	fa := Fingerprint(Normalize(a))
	fb := Fingerprint(Normalize(b))
	assert.Equal(t, fa, fb)

	id := TestID(fa)
	assert.Len(t, id, 16)
}

func TestFingerprint_IgnoresNonSignificantFields(t *testing.T) {
	base := models.Params{Domain: "example.com", Profile: "default"}
	withExtras := models.Params{
		Domain:        "example.com",
		Profile:       "default",
		ClientID:      "gui",
		ClientVersion: "1.0",
		Language:      "en",
	}
	assert.Equal(t, Fingerprint(Normalize(base)), Fingerprint(Normalize(withExtras)))
}

func TestNormalizeDomain_RootIsPreserved(t *testing.T) {
	p := Normalize(models.Params{Domain: "."})
	assert.Equal(t, ".", p.Domain)
}

func TestNormalizeDomain_StripsTrailingDot(t *testing.T) {
	p := Normalize(models.Params{Domain: "Example.COM."})
	assert.Equal(t, "example.com", p.Domain)
}
