package terrain

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_FlatAndRamp(t *testing.T) {
	b := NewBuilder()
	p := b.Flat(0, 1).Ramp(0, 1, 0.25).Profile()

	require.Len(t, p.Readings, 10+40)
	assert.Equal(t, -20.0, p.Readings[0])
	assert.Equal(t, -20.0, p.Readings[10])
	// ramp heights are rounded to the centimetre
	assert.InDelta(t, -19.975, p.Readings[11], 0.006)
	assert.InDelta(t, -19.025, p.Readings[49], 0.006)
}

func TestBuilder_DescendingRamp(t *testing.T) {
	p := NewBuilder().Ramp(4, 0, -0.25).Profile()
	require.Len(t, p.Readings, 160)
	assert.Equal(t, -16.0, p.Readings[0])
	for i := 1; i < len(p.Readings); i++ {
		assert.LessOrEqual(t, p.Readings[i], p.Readings[i-1])
	}
}

func TestBuilder_ProfileIsSnapshot(t *testing.T) {
	b := NewBuilder().Flat(0, 1)
	p := b.Profile()
	b.Flat(1, 1)
	assert.Len(t, p.Readings, 10)
}

func TestGenerate_Shapes(t *testing.T) {
	s := DefaultShape()
	tests := []struct {
		name string
		want int
	}{
		{"zeros", 100},
		{"flat", 300},
		{"ramp", 100 + 160},
		{"square", 200},
		{"sawtooth", 200 + 160},
		{"trapezoid", 100 + 160 + 100 + 160},
		{"dropout", 100 + 50 + 100},
		{"low_signal", 100 + 50 + 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Generate(NewBuilder(), tt.name, s)
			require.NoError(t, err)
			assert.Len(t, p.Readings, tt.want)
			assert.Equal(t, DefaultInterval, p.Interval)
		})
	}
	assert.Len(t, Shapes(), len(tests))
}

func TestGenerate_SentinelSegments(t *testing.T) {
	p, err := Generate(NewBuilder(), "dropout", DefaultShape())
	require.NoError(t, err)
	counts := p.Counts()
	assert.Equal(t, 50, counts[Dropout])
	assert.Equal(t, 200, counts[Height])
	assert.Equal(t, DefaultDropout, p.Readings[100])
}

func TestGenerate_UnknownShape(t *testing.T) {
	_, err := Generate(NewBuilder(), "sine", DefaultShape())
	assert.Error(t, err)
}

func TestWriteRoundTrip(t *testing.T) {
	p, err := Generate(NewBuilder(), "trapezoid", DefaultShape())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, p))

	got, err := Parse(&buf, DefaultSentinels())
	require.NoError(t, err)
	assert.Equal(t, p.Interval, got.Interval)
	assert.Equal(t, p.Readings, got.Readings)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terrain", "square.csv")
	p, err := Generate(NewBuilder(), "square", DefaultShape())
	require.NoError(t, err)
	require.NoError(t, WriteFile(path, p))

	got, err := Load(path, DefaultSentinels())
	require.NoError(t, err)
	assert.Len(t, got.Readings, 200)
	assert.Equal(t, -16.0, got.Readings[150])
}
