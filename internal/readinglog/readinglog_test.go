package readinglog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord(t *testing.T) {
	r := NewRecord(12.5, -20, -5.5, 1450, 100)
	want := Record{TimeUS: 12500000, TerrainCm: -2000, SubCm: -550, RfCm: 1450, Quality: 100}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("NewRecord mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRecord_TruncatesMicroseconds(t *testing.T) {
	r := NewRecord(1.0000019, 0, 0, 0, 0)
	assert.Equal(t, int64(1000001), r.TimeUS)
}

func TestWriter_FlushesEachRow(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	assert.Equal(t, "TimeUS,terrain_cm,sub_cm,rf_cm,signal_quality\n", buf.String())

	require.NoError(t, w.Write(Record{TimeUS: 100000, TerrainCm: -2000, SubCm: -550, RfCm: 1450, Quality: 100}))
	assert.Equal(t,
		"TimeUS,terrain_cm,sub_cm,rf_cm,signal_quality\n100000,-2000,-550,1450,100\n",
		buf.String(), "row should be visible without Close")

	require.NoError(t, w.Write(Record{TimeUS: 200000, TerrainCm: -1997.5, SubCm: -550.25, RfCm: 888, Quality: 50}))
	assert.True(t, strings.HasSuffix(buf.String(), "200000,-1997.5,-550.25,888,50\n"))
	assert.Equal(t, 2, w.Rows())
	require.NoError(t, w.Close())
}

func TestCreateAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "log.csv")
	w, err := Create(path)
	require.NoError(t, err)

	in := []Record{
		{TimeUS: 1000000, TerrainCm: -2000, SubCm: -550, RfCm: 1450, Quality: 100},
		{TimeUS: 1100000, TerrainCm: -9999, SubCm: -550, RfCm: 555, Quality: 10},
		{TimeUS: 1200000, TerrainCm: -520, SubCm: -550, RfCm: 888, Quality: 50},
	}
	for _, r := range in {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())

	got, err := ReadFile(path)
	require.NoError(t, err)
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("ReadFile mismatch (-want +got):\n%s", diff)
	}
}

func TestRead_HeaderOnly(t *testing.T) {
	got, err := Read(strings.NewReader("TimeUS,terrain_cm,sub_cm,rf_cm,signal_quality\n"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "", "unexpected header"},
		{"wrong header", "TimeUS,terrain,sub_cm,rf_cm,signal_quality\n", "column 1"},
		{"bad time", "TimeUS,terrain_cm,sub_cm,rf_cm,signal_quality\nabc,1,2,3,4\n", "line 2: TimeUS"},
		{"bad quality", "TimeUS,terrain_cm,sub_cm,rf_cm,signal_quality\n1,1,2,3,x\n", "signal_quality"},
		{"short row", "TimeUS,terrain_cm,sub_cm,rf_cm,signal_quality\n1,2,3\n", "wrong number of fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRead_BadHeaderIsSentinel(t *testing.T) {
	_, err := Read(strings.NewReader("a,b,c,d,e\n"))
	assert.True(t, errors.Is(err, ErrBadHeader))
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.csv"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
