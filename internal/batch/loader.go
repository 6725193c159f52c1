// Package batch discovers and loads download batches from input files.
package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/partvault/datasheet-harvester/internal/harvest"
)

const (
	filePrefix = "invalid_datasheet_urls_"
	fileSuffix = ".json"
)

// Loader reads batch input files from a directory.
type Loader struct {
	dir    string
	logger *zap.Logger
}

// NewLoader builds a Loader over dir.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{dir: dir, logger: logger}
}

// Slug extracts the batch slug from an input filename, reporting false when
// the name does not match the expected pattern.
func Slug(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, filePrefix) || !strings.HasSuffix(base, fileSuffix) {
		return "", false
	}
	slug := strings.TrimSuffix(strings.TrimPrefix(base, filePrefix), fileSuffix)
	if slug == "" {
		return "", false
	}
	return slug, true
}

// Load decodes one batch file.
func Load(path string) (harvest.Batch, error) {
	slug, ok := Slug(path)
	if !ok {
		return harvest.Batch{}, fmt.Errorf("input file %s does not match %s<slug>%s", path, filePrefix, fileSuffix)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return harvest.Batch{}, fmt.Errorf("read batch %s: %w", path, err)
	}
	var items []harvest.DownloadItem
	if err := json.Unmarshal(data, &items); err != nil {
		return harvest.Batch{}, fmt.Errorf("decode batch %s: %w", path, err)
	}
	return harvest.Batch{Slug: slug, Path: path, Items: items}, nil
}

// Discover returns every well-formed batch in the loader directory, sorted
// by slug. A malformed file aborts only that batch; it is logged and the
// remaining batches still load.
func (l *Loader) Discover() ([]harvest.Batch, error) {
	pattern := filepath.Join(l.dir, filePrefix+"*"+fileSuffix)
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(paths)

	batches := make([]harvest.Batch, 0, len(paths))
	for _, path := range paths {
		b, err := Load(path)
		if err != nil {
			l.logger.Error("skipping malformed batch", zap.String("path", path), zap.Error(err))
			continue
		}
		batches = append(batches, b)
	}
	return batches, nil
}
