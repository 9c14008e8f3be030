package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/CZERTAINLY/Crawler/internal/model"
	"gopkg.in/yaml.v3"
)

const settingsFile = "_settings.yaml"

func settingsPath(root, job string) string {
	return filepath.Join(root, job, settingsFile)
}

// loadSettings reads the settings of job. When the file does not exist the
// default settings are written and created is true.
func loadSettings(ctx context.Context, root, job string) (settings model.Settings, created bool, err error) {
	path := settingsPath(root, job)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Settings{}, true, writeDefault(path, job)
	}
	if err != nil {
		return model.Settings{}, false, fmt.Errorf("opening settings file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	settings, err = model.LoadSettings(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.ErrorContext(ctx, "invalid settings", d.Attr("detail"))
		}
		return model.Settings{}, false, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	if settings.Name != job {
		slog.WarnContext(ctx, "settings name differs from the job: using the job", "name", settings.Name, "job", job)
		settings.Name = job
	}
	return settings, false, nil
}

func writeDefault(path, job string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(model.DefaultSettings(job)); err != nil {
		return fmt.Errorf("storing settings: %w", err)
	}
	return enc.Close()
}
