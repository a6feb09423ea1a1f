package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEquivalentForms(t *testing.T) {
	for _, raw := range []string{"0900000001", "+84900000001", "090 000 0001", " 090-000-0001 ", "+84 90 000 0001"} {
		got, err := Normalize(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "+84900000001", got, raw)
	}
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "0901", "not a number", "+8400"} {
		_, err := Normalize(raw)
		assert.ErrorIs(t, err, ErrInvalid, raw)
	}
}
