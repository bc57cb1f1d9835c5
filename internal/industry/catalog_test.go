package industry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NotEmpty(t, c.Industries)

	ind, ok := c.Lookup("plumbing")
	require.True(t, ok)
	assert.Equal(t, "Plumbing", ind.Label)
	assert.NotEmpty(t, ind.SearchTerms)

	ind, ok = c.Lookup("  Pest Control ")
	require.True(t, ok)
	assert.Equal(t, "pest_control", ind.Key)

	ind, ok = c.Lookup("HVAC")
	require.True(t, ok)
	assert.Equal(t, "hvac", ind.Key)

	_, ok = c.Lookup("space tourism")
	assert.False(t, ok)

	assert.Equal(t, "plumbing", c.Keys()[0])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "industry:\n  industries: []\n", "catalog is empty"},
		{"missing key", "industry:\n  industries:\n    - label: X\n", "has no key"},
		{"duplicate", "industry:\n  industries:\n    - key: a\n    - key: A\n", "duplicate key"},
		{"malformed", "industry: [", "parse catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, len(Default().Industries), len(c.Industries))

	path := filepath.Join(t.TempDir(), "industries.yaml")
	require.NoError(t, os.WriteFile(path, []byte("industry:\n  industries:\n    - key: bakeries\n      label: Bakeries\n"), 0o600))
	c, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"bakeries"}, c.Keys())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read catalog")
}
