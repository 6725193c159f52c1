package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSlug(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", "invalid_datasheet_urls_ti-opamps.json", "ti-opamps", true},
		{"with dir", "/data/in/invalid_datasheet_urls_stm32.json", "stm32", true},
		{"wrong prefix", "datasheet_urls_x.json", "", false},
		{"wrong suffix", "invalid_datasheet_urls_x.txt", "", false},
		{"empty slug", "invalid_datasheet_urls_.json", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			slug, ok := Slug(tc.in)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, slug)
		})
	}
}

func TestLoadDecodesItems(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "invalid_datasheet_urls_ti.json")
	payload := `[
		{"id": 1, "title": "LM358", "url": "http://x/1.pdf"},
		{"id": 2, "title": "NE555", "url": "http://x/2.pdf"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	b, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ti", b.Slug)
	require.Len(t, b.Items, 2)
	require.Equal(t, int64(2), b.Items[1].ID)
	require.Equal(t, "NE555", b.Items[1].Title)
}

func TestDiscoverSkipsMalformedBatches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "invalid_datasheet_urls_good.json")
	bad := filepath.Join(dir, "invalid_datasheet_urls_bad.json")
	unrelated := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(good, []byte(`[{"id":1,"title":"A","url":"http://x/1.pdf"}]`), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte(`{not json`), 0o600))
	require.NoError(t, os.WriteFile(unrelated, []byte(`ignore me`), 0o600))

	loader := NewLoader(dir, zap.NewNop())
	batches, err := loader.Discover()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, "good", batches[0].Slug)
}

func TestDiscoverEmptyDir(t *testing.T) {
	t.Parallel()

	loader := NewLoader(t.TempDir(), zap.NewNop())
	batches, err := loader.Discover()
	require.NoError(t, err)
	require.Empty(t, batches)
}
