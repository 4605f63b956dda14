package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	root := t.TempDir()
	safe := filepath.Join(root, "reports")
	outside := filepath.Join(root, "outside")
	require.NoError(t, os.MkdirAll(safe, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(safe, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safe, "run.png"), false},
		{"new nested path", filepath.Join(safe, "a", "b", "run.png"), false},
		{"dot dot", filepath.Join(safe, "..", "run.png"), true},
		{"absolute elsewhere", filepath.Join(outside, "run.png"), true},
		{"through symlink", filepath.Join(safe, "link", "run.png"), true},
		{"new file under symlink", filepath.Join(safe, "link", "new", "run.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, safe)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()

	assert.NoError(t, ValidatePathWithinAllowedDirs(filepath.Join(b, "x.csv"), []string{a, b}))
	assert.Error(t, ValidatePathWithinAllowedDirs(filepath.Join(b, "x.csv"), []string{a}))
	assert.Error(t, ValidatePathWithinAllowedDirs(filepath.Join(b, "x.csv"), nil))
}

func TestValidateExportPath(t *testing.T) {
	assert.NoError(t, ValidateExportPath(filepath.Join(t.TempDir(), "merged.csv")))
	assert.NoError(t, ValidateExportPath("merged.csv"), "relative paths land in the working directory")
	assert.Error(t, ValidateExportPath("/proc/rfsim-report/merged.csv"))
}
