package safe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubClamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b uint64
		want uint64
	}{
		{name: "normal", a: 100, b: 40, want: 60},
		{name: "equal", a: 7, b: 7, want: 0},
		{name: "clamped", a: 3, b: 10, want: 0},
		{name: "zero", a: 0, b: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SubClamp(tt.a, tt.b))
		})
	}
}

func TestAddChecked(t *testing.T) {
	t.Parallel()

	got, err := AddChecked(1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got)

	_, err = AddChecked(math.MaxUint64, 1)
	assert.Error(t, err)
}

func TestUint64(t *testing.T) {
	t.Parallel()

	got, err := Uint64(int64(42))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got)

	_, err = Uint64(-1)
	assert.Error(t, err)
}
