package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithin(t *testing.T) {
	tmp := t.TempDir()
	safe := filepath.Join(tmp, "plots")
	elsewhere := filepath.Join(tmp, "elsewhere")
	require.NoError(t, os.MkdirAll(safe, 0o755))
	require.NoError(t, os.MkdirAll(elsewhere, 0o755))
	require.NoError(t, os.Symlink(elsewhere, filepath.Join(safe, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safe, "track.png"), false},
		{"nested new dir", filepath.Join(safe, "run1", "track.png"), false},
		{"dot dot escape", filepath.Join(safe, "..", "elsewhere", "x.png"), true},
		{"sibling", filepath.Join(elsewhere, "x.png"), true},
		{"symlinked parent", filepath.Join(safe, "link", "x.png"), true},
		{"the dir itself", safe, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Within(tt.path, safe)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPathEscapes)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOutputPath(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	assert.NoError(t, ValidateOutputPath(filepath.Join(b, "x.png"), a, b))
	assert.ErrorIs(t, ValidateOutputPath("/etc/passwd", a, b), ErrPathEscapes)

	// defaults: temp dir and working directory
	assert.NoError(t, ValidateOutputPath(filepath.Join(os.TempDir(), "x.png")))
	assert.NoError(t, ValidateOutputPath("track.png"))
}

func TestSanitizeFilename(t *testing.T) {
	for in, want := range map[string]string{
		"":                   "unknown",
		"box":                "box",
		"../../etc/passwd":   "etc_passwd",
		"session 42/cycle#3": "session_42_cycle_3",
		"...":                "unknown",
		"a--b__c.png":        "a--b__c.png",
		"αβγ":                "unknown",
	} {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}
