package terrain

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	input := strings.Join([]string{
		"# generated profile",
		"0.1",
		"",
		"-20.0",
		"-19.5,ignored,columns",
		"  -9999  ",
		"# trailing comment",
		"-8888",
	}, "\n")

	p, err := Parse(strings.NewReader(input), DefaultSentinels())
	require.NoError(t, err)
	assert.Equal(t, 0.1, p.Interval)
	if diff := cmp.Diff([]float64{-20, -19.5, -9999, -8888}, p.Readings); diff != "" {
		t.Errorf("readings mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 0.4, p.Duration(), 1e-12)
	assert.Equal(t, map[Kind]int{Height: 2, Dropout: 1, LowSignal: 1}, p.Counts())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "missing the interval"},
		{"comments only", "# nothing\n\n", "missing the interval"},
		{"zero interval", "0\n1\n", "interval must be positive"},
		{"negative interval", "-0.1\n1\n", "interval must be positive"},
		{"bad number", "0.1\nabc\n", "line 2: invalid number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input), DefaultSentinels())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_NoReadings(t *testing.T) {
	_, err := Parse(strings.NewReader("0.1\n"), DefaultSentinels())
	assert.True(t, errors.Is(err, ErrEmptyProfile))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "terrain.csv")
	require.NoError(t, os.WriteFile(path, []byte("0.5\n-18\n-17\n"), 0o644))

	p, err := Load(path, DefaultSentinels())
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.Interval)
	assert.Equal(t, []float64{-18, -17}, p.Readings)

	_, err = Load(filepath.Join(dir, "missing.csv"), DefaultSentinels())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_WrapsParseErrorWithPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, []byte("0.1\n"), 0o644))

	_, err := Load(path, DefaultSentinels())
	require.ErrorIs(t, err, ErrEmptyProfile)
	assert.Contains(t, err.Error(), path)
}

func TestCursorWraps(t *testing.T) {
	p := &Profile{Interval: 1, Readings: []float64{1, 2, 3}}
	c := NewCursor(p)

	var got []float64
	for i := 0; i < 7; i++ {
		got = append(got, c.Next())
	}
	assert.Equal(t, []float64{1, 2, 3, 1, 2, 3, 1}, got)
	assert.Equal(t, 2, c.Laps())
}

func TestSentinels(t *testing.T) {
	s := Sentinels{Dropout: -1, LowSignal: -2}
	assert.Equal(t, Dropout, s.Classify(-1))
	assert.Equal(t, LowSignal, s.Classify(-2))
	assert.Equal(t, Height, s.Classify(-20))
	assert.NoError(t, s.Validate())

	assert.Error(t, Sentinels{Dropout: 5, LowSignal: 5}.Validate())
	assert.Equal(t, "low_signal", LowSignal.String())
}
