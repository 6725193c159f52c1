package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		title string
		want  string
	}{
		{"forward slash", "A/B", "A-B"},
		{"backslash", `A\B`, "A-B"},
		{"mixed", `X/Y\Z`, "X-Y-Z"},
		{"clean", "LM358 OpAmp", "LM358 OpAmp"},
		{"empty", "   ", "untitled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, SanitizeTitle(tc.title))
		})
	}
}

func TestArtifactPath(t *testing.T) {
	t.Parallel()

	got := ArtifactPath(filepath.Join("out", "batch1"), "A/B")
	require.Equal(t, filepath.Join("out", "batch1", "A-B.pdf"), got)
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":1}`)))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"v":1}`, string(data))

	// Overwrite is idempotent.
	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":2}`)))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"v":2}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files should not linger")
}
