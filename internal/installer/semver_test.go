package installer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeSatisfaction(t *testing.T) {
	cases := []struct {
		rng     string
		version string
		want    bool
	}{
		{"^1.2.3", "1.2.3", true},
		{"^1.2.3", "1.9.0", true},
		{"^1.2.3", "2.0.0", false},
		{"^1.2.3", "1.2.2", false},
		{"^0.2.3", "0.2.9", true},
		{"^0.2.3", "0.3.0", false},
		{"^0.0.3", "0.0.3", true},
		{"^0.0.3", "0.0.4", false},
		{"~1.2.3", "1.2.9", true},
		{"~1.2.3", "1.3.0", false},
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "1.2.4", false},
		{"*", "9.9.9", true},
		{"", "0.0.1", true},
		{"^1.2", "1.5.0", true},
		{"~1", "1.0.9", true},
	}
	for _, tc := range cases {
		r, err := ParseRange(tc.rng)
		require.NoError(t, err, tc.rng)
		v, err := parseLenient(tc.version)
		require.NoError(t, err, tc.version)
		assert.Equal(t, tc.want, r.Satisfies(v), "%s vs %s", tc.rng, tc.version)
	}
}

func TestParseRangeRejectsGarbage(t *testing.T) {
	_, err := ParseRange("^not.a.version")
	require.Error(t, err)
}

func TestHighestSatisfying(t *testing.T) {
	versions := []string{"1.0.0", "1.3.0", "1.3.0-beta.1", "2.0.0", "0.9.0"}

	r, err := ParseRange("^1.0.0")
	require.NoError(t, err)
	got, err := highestSatisfying(versions, r)
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", got)

	r, err = ParseRange("*")
	require.NoError(t, err)
	got, err = highestSatisfying(versions, r)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", got)
}

func TestHighestSatisfyingUnsatisfiable(t *testing.T) {
	r, err := ParseRange("^3.0.0")
	require.NoError(t, err)
	_, err = highestSatisfying([]string{"1.0.0", "2.0.0"}, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no version satisfies")
}
