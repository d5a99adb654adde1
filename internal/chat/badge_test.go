package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCap(t *testing.T) {
	cases := map[float64]int{
		0:    0,
		-5:   0,
		1.9:  1,
		99:   99,
		100:  99,
		9999: 99,
	}
	for in, want := range cases {
		assert.Equal(t, want, Cap(in), "cap(%v)", in)
	}
}

func TestFormatBadge(t *testing.T) {
	assert.Nil(t, FormatBadge(0))
	assert.Nil(t, FormatBadge(-3))
	assert.Nil(t, FormatBadge(0.5))

	b := FormatBadge(7)
	require.NotNil(t, b)
	assert.Equal(t, "7", *b)

	b = FormatBadge(250)
	require.NotNil(t, b)
	assert.Equal(t, "99", *b)
}
