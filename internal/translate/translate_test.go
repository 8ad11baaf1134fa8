package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zonemaster/broker/internal/models"
)

func TestWithLocale_RestoresPriorValue(t *testing.T) {
	c := NewCatalog()
	supported := map[string]struct{}{"en_US.UTF-8": {}}

	err := c.WithLocale("en_US.UTF-8", supported, func() error {
		assert.Equal(t, "en_US.UTF-8", c.locale)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "", c.locale)
}

func TestWithLocale_RejectsUnsupported(t *testing.T) {
	c := NewCatalog()
	err := c.WithLocale("xx_XX.UTF-8", map[string]struct{}{"en_US.UTF-8": {}}, func() error {
		t.Fatal("should not run")
		return nil
	})
	assert.Error(t, err)
}

func TestTranslate_FallsBackToSourceForm(t *testing.T) {
	c := NewCatalog()
	supported := map[string]struct{}{"en_US.UTF-8": {}}
	var got string
	err := c.WithLocale("en_US.UTF-8", supported, func() error {
		got = c.Translate(models.ResultEntry{Module: "UNKNOWN", Tag: "MYSTERY"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN/MYSTERY", got)
}

func TestRewritePolicyPaths(t *testing.T) {
	msg := "Test of Example disabled by policy.json and config.json"
	got := RewritePolicyPaths(msg)
	assert.NotContains(t, got, "policy.json")
	assert.NotContains(t, got, "config.json")
}

func TestDropPolicyDisabledExample(t *testing.T) {
	entry := models.ResultEntry{Module: "SYSTEM", Tag: "POLICY_DISABLED", Args: map[string]string{"name": "Example"}}
	assert.True(t, DropPolicyDisabledExample(entry))

	other := models.ResultEntry{Module: "SYSTEM", Tag: "POLICY_DISABLED", Args: map[string]string{"name": "Other"}}
	assert.False(t, DropPolicyDisabledExample(other))
}
