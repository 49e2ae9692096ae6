package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRegistrySpec(t *testing.T) {
	cases := []struct {
		spec    string
		name    string
		version string
		file    string
	}{
		{"/react@18.2.0", "react", "18.2.0", ""},
		{"/react@18.2.0/index.js", "react", "18.2.0", "index.js"},
		{"/react@18.2.0/cjs/react.production.min.js", "react", "18.2.0", "cjs/react.production.min.js"},
		{"/@remix-run/router@1.0.0/dist/router.js", "@remix-run/router", "1.0.0", "dist/router.js"},
		{"/@scope/pkg@2.1.0", "@scope/pkg", "2.1.0", ""},
	}
	for _, tc := range cases {
		name, version, file, err := splitRegistrySpec(tc.spec)
		require.NoError(t, err, tc.spec)
		assert.Equal(t, tc.name, name, tc.spec)
		assert.Equal(t, tc.version, version, tc.spec)
		assert.Equal(t, tc.file, file, tc.spec)
	}
}

func TestSplitRegistrySpecRejectsMalformed(t *testing.T) {
	for _, spec := range []string{"", "/", "/react", "/@scope/pkg", "/react@"} {
		_, _, _, err := splitRegistrySpec(spec)
		assert.Error(t, err, spec)
	}
}

func TestRegistryContentType(t *testing.T) {
	assert.Contains(t, registryContentType("index.js"), "application/javascript")
	assert.Contains(t, registryContentType("lib/mod.mjs"), "application/javascript")
	assert.Contains(t, registryContentType("types.d.ts"), "application/javascript")
	assert.Contains(t, registryContentType("package.json"), "application/json")
	assert.Contains(t, registryContentType("styles.css"), "text/css")
	assert.Equal(t, "application/octet-stream", registryContentType("font.woff2"))
}
