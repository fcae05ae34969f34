// Package welcome keeps the /start greeting: the introduction text and the
// startup image. Both can be changed at runtime.
package welcome

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/m3rciful/drawbot/core/logger"
)

// Config locates the settings file and the image directory.
type Config struct {
	SettingsPath string `yaml:"settings_path" envconfig:"WELCOME_SETTINGS_PATH"`
	StaticDir    string `yaml:"static_dir" envconfig:"WELCOME_STATIC_DIR"`
}

// Settings is the content of the settings file.
type Settings struct {
	IntroductionText string `yaml:"introduction_text"`
	StartupImage     string `yaml:"startup_image"`
}

// Store serves the current settings and persists changes.
type Store struct {
	cfg Config

	mu  sync.RWMutex
	cur Settings
}

// Open loads the settings file. A missing file yields empty settings.
func Open(cfg Config) (*Store, error) {
	if cfg.SettingsPath == "" {
		return nil, errors.New("welcome: settings_path is required")
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = "static"
	}
	s := &Store{cfg: cfg}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rereads the settings file.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.cfg.SettingsPath)
	if errors.Is(err, fs.ErrNotExist) {
		s.set(Settings{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("welcome: read settings: %w", err)
	}
	var st Settings
	if err := yaml.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("welcome: parse settings: %w", err)
	}
	s.set(st)
	return nil
}

// Settings returns a copy of the current settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Introduction returns the greeting with escape sequences decoded.
func (s *Store) Introduction() string {
	return Unescape(s.Settings().IntroductionText)
}

// StartupImage reads the configured image. No image configured is (nil, nil).
func (s *Store) StartupImage() ([]byte, error) {
	name := s.Settings().StartupImage
	if name == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.imagePath(name))
	if err != nil {
		return nil, fmt.Errorf("welcome: read image: %w", err)
	}
	return data, nil
}

// SetIntroduction replaces the greeting and saves the settings.
func (s *Store) SetIntroduction(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur
	next.IntroductionText = text
	if err := s.persist(next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

// SaveStartupImage writes data under the static dir as name and makes it the
// startup image.
func (s *Store) SaveStartupImage(name string, data []byte) error {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return errors.New("welcome: image name is required")
	}
	if len(data) == 0 {
		return errors.New("welcome: empty image")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.cfg.StaticDir, 0o755); err != nil {
		return fmt.Errorf("welcome: create static dir: %w", err)
	}
	if err := writeAtomic(s.imagePath(name), data, 0o644); err != nil {
		return fmt.Errorf("welcome: save image: %w", err)
	}
	next := s.cur
	next.StartupImage = name
	if err := s.persist(next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

// Watch reloads the settings whenever the file changes, until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("welcome: watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.cfg.SettingsPath)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("welcome: watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.cfg.SettingsPath)
	logger.Debug(ctx, "welcome", "watch.start", slog.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				logger.Warn(ctx, "welcome", "reload.fail", slog.String("err", err.Error()))
				continue
			}
			logger.Info(ctx, "welcome", "reload.ok", slog.String("op", ev.Op.String()))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn(ctx, "welcome", "watch.error", slog.String("err", err.Error()))
		}
	}
}

func (s *Store) set(st Settings) {
	s.mu.Lock()
	s.cur = st
	s.mu.Unlock()
}

func (s *Store) imagePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.cfg.StaticDir, name)
}

// persist writes st to the settings file. Callers hold s.mu.
func (s *Store) persist(st Settings) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("welcome: encode settings: %w", err)
	}
	if dir := filepath.Dir(s.cfg.SettingsPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("welcome: create settings dir: %w", err)
		}
	}
	if err := writeAtomic(s.cfg.SettingsPath, data, 0o644); err != nil {
		return fmt.Errorf("welcome: write settings: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, perm); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
