package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/checksum"
	"github.com/starford/timetrail/internal/models"
	"github.com/starford/timetrail/internal/storage"
)

// MappingFile is the on-disk shape of the project mapping file.
type MappingFile struct {
	Mappings []models.Mapping `yaml:"mappings"`
}

// Validate validates every mapping record.
func (f *MappingFile) Validate() error {
	for i := range f.Mappings {
		mp := &f.Mappings[i]
		if err := validation.ValidateStruct(mp,
			validation.Field(&mp.Pattern, validation.Required),
			validation.Field(&mp.ProjectName, validation.Required),
		); err != nil {
			return fmt.Errorf("mapping %d: %w", i, err)
		}
	}
	return nil
}

// LoadMappings reads and validates the mapping file. A missing file yields
// no mappings. A malformed file is an apperr.ErrConfig error.
func LoadMappings(path string) ([]models.Mapping, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matcher: read mappings %s: %w", path, err)
	}
	return parseMappings(path, data)
}

func parseMappings(path string, data []byte) ([]models.Mapping, error) {
	var f MappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("matcher: parse mappings %s: %v: %w", path, err, apperr.ErrConfig)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("matcher: invalid mappings %s: %v: %w", path, err, apperr.ErrConfig)
	}
	return f.Mappings, nil
}

// SaveMappings atomically replaces the mapping file.
func SaveMappings(path string, mappings []models.Mapping) error {
	f := MappingFile{Mappings: mappings}
	if f.Mappings == nil {
		f.Mappings = []models.Mapping{}
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("matcher: %v: %w", err, apperr.ErrValidation)
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("matcher: encode mappings: %w", err)
	}
	return storage.WriteAtomic(path, data)
}

// AddMapping appends a record to the mapping file and returns the new set.
func AddMapping(path string, mp models.Mapping) ([]models.Mapping, error) {
	current, err := LoadMappings(path)
	if err != nil {
		return nil, err
	}
	next := append(current, mp)
	if err := SaveMappings(path, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Reload loads the mapping file at path and installs its records.
func (m *Matcher) Reload(path string) error {
	mappings, err := LoadMappings(path)
	if err != nil {
		return err
	}
	m.SetMappings(mappings)
	m.logger.Info("matcher: mappings loaded", slog.String("path", path), slog.Int("count", len(mappings)))
	return nil
}

// WatchMappings reloads the mapping file whenever it changes on disk until
// ctx is cancelled. Rewrites with identical content are ignored. A reload
// that fails keeps the previous mappings.
func (m *Matcher) WatchMappings(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("matcher: resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("matcher: mkdir %s: %w", dir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: atomic saves replace the file's inode.
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("matcher: watch %s: %w", dir, err)
	}

	last, _ := checksum.File(abs)
	m.logger.Info("matcher: watching mappings", slog.String("path", abs))

	var (
		timer   *time.Timer
		reloadC <-chan time.Time
	)
	const settle = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case <-reloadC:
			sum, err := checksum.File(abs)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				m.logger.Warn("matcher: checksum failed", slog.String("error", err.Error()))
				continue
			}
			if sum == last {
				continue
			}
			if err := m.Reload(abs); err != nil {
				m.logger.Error("matcher: reload failed", slog.String("error", err.Error()))
				continue
			}
			last = sum

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name != abs {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(settle)
				reloadC = timer.C
			} else {
				timer.Reset(settle)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.logger.Error("matcher: watch error", slog.String("error", watchErr.Error()))
		}
	}
}
