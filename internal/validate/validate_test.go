package validate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomain_RejectsUnsupportedCharacters(t *testing.T) {
	_, err := Domain("ex ample.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestDomain_AcceptsRoot(t *testing.T) {
	d, err := Domain(".")
	require.NoError(t, err)
	assert.Equal(t, ".", d)
}

func TestDomain_IDNA(t *testing.T) {
	d, err := Domain("xn--exmple-cua.com")
	require.NoError(t, err)
	assert.Equal(t, "xn--exmple-cua.com", d)
}

func TestDomain_LabelTooLong(t *testing.T) {
	label := ""
	for i := 0; i < 64; i++ {
		label += "a"
	}
	_, err := Domain(label + ".com")
	require.Error(t, err)
}

func TestIP_AcceptsV4AndV6(t *testing.T) {
	assert.NoError(t, IP("192.0.2.1"))
	assert.NoError(t, IP("2001:db8::1"))
	assert.Error(t, IP("not-an-ip"))
}

func TestProfile_LowercasesAndValidates(t *testing.T) {
	p, err := Profile("Default")
	require.NoError(t, err)
	assert.Equal(t, "default", p)

	_, err = Profile("-bad")
	assert.Error(t, err)
}

func TestUsernameAndAPIKey(t *testing.T) {
	assert.NoError(t, Username("alice"))
	assert.Error(t, Username("has space"))
	assert.NoError(t, APIKey("secret-key_1"))
	assert.Error(t, APIKey(""))
}

func TestLanguageTag(t *testing.T) {
	assert.NoError(t, LanguageTag("en"))
	assert.NoError(t, LanguageTag("en_US"))
	assert.Error(t, LanguageTag("english"))
}

func TestDigest_RejectsWrongLength(t *testing.T) {
	assert.Error(t, Digest("aabb"))
}

func TestDigest_ValidLengths(t *testing.T) {
	sha1 := make([]byte, 40)
	for i := range sha1 {
		sha1[i] = 'a'
	}
	assert.NoError(t, Digest(string(sha1)))
}

func TestCoerceInt(t *testing.T) {
	v, err := CoerceInt(json.RawMessage(`"42"`))
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = CoerceInt(json.RawMessage(`10.5`))
	require.NoError(t, err)
	assert.Equal(t, 11, v)

	v, err = CoerceInt(json.RawMessage(`-10.5`))
	require.NoError(t, err)
	assert.Equal(t, -11, v)
}

func TestCoerceBool(t *testing.T) {
	assert.False(t, CoerceBool(json.RawMessage(`false`)))
	assert.False(t, CoerceBool(json.RawMessage(`null`)))
	assert.False(t, CoerceBool(json.RawMessage(`""`)))
	assert.False(t, CoerceBool(json.RawMessage(`"0"`)))
	assert.False(t, CoerceBool(json.RawMessage(`0`)))
	assert.True(t, CoerceBool(json.RawMessage(`1`)))
	assert.True(t, CoerceBool(json.RawMessage(`"yes"`)))
	assert.True(t, CoerceBool(json.RawMessage(`true`)))
}
