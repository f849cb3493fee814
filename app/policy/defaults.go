package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type defaultsFile struct {
	RetryDays   []int `yaml:"retry_days"`
	PluginRetry *struct {
		StartSeconds int     `yaml:"start_seconds"`
		Multiplier   float64 `yaml:"multiplier"`
		MaxAttempts  int     `yaml:"max_attempts"`
	} `yaml:"plugin_retry"`
}

// LoadDefaults reads the system default policy from a YAML file. Omitted sections keep
// the built-in defaults.
func LoadDefaults(path string) (RetryPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RetryPolicy{}, err
	}
	return ParseDefaults(raw)
}

func ParseDefaults(raw []byte) (RetryPolicy, error) {
	var file defaultsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return RetryPolicy{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	out := Default()
	if file.RetryDays != nil {
		out.Days = Schedule(file.RetryDays)
	}
	if file.PluginRetry != nil {
		out.Plugin = PluginBackoff{
			Start:       time.Duration(file.PluginRetry.StartSeconds) * time.Second,
			Multiplier:  file.PluginRetry.Multiplier,
			MaxAttempts: file.PluginRetry.MaxAttempts,
		}
	}
	if err := out.Validate(); err != nil {
		return RetryPolicy{}, err
	}
	return out, nil
}

// WatchDefaults reloads the defaults file whenever it is written or replaced and hands
// every valid version to onChange. It blocks until ctx is done.
func WatchDefaults(ctx context.Context, path string, onChange func(RetryPolicy)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory and filter by name.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	logger := logrus.WithField("module", "retry-defaults").WithField("path", path)
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			loaded, err := LoadDefaults(path)
			if err != nil {
				logger.WithError(err).Warn("Ignoring invalid retry defaults file")
				continue
			}
			logger.WithField("retry_days", loaded.Days.String()).Info("Retry defaults reloaded")
			onChange(loaded)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Defaults watcher error")
		}
	}
}
