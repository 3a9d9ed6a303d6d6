package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ModelSettings selects which completion model a prompt should use. It is
// stored as TOML:
//
//	[models]
//	simple = "gpt-4o-mini"
//	complex = "gpt-4o"
//	fallback = "gpt-4"
//
//	[settings]
//	max_tokens = 350
//	temperature = 0.2
//	intelligent_selection = true
//	complexity_threshold = 150
//	complex_keywords = ["analyze", "compare"]
type ModelSettings struct {
	Models struct {
		Simple   string `toml:"simple" json:"simple"`
		Complex  string `toml:"complex" json:"complex"`
		Fallback string `toml:"fallback" json:"fallback"`
	} `toml:"models" json:"models"`

	Settings struct {
		MaxTokens            int      `toml:"max_tokens" json:"max_tokens"`
		Temperature          float64  `toml:"temperature" json:"temperature"`
		IntelligentSelection bool     `toml:"intelligent_selection" json:"intelligent_selection"`
		ComplexityThreshold  int      `toml:"complexity_threshold" json:"complexity_threshold"`
		ComplexKeywords      []string `toml:"complex_keywords" json:"complex_keywords"`
	} `toml:"settings" json:"settings"`
}

// DefaultModelSettings is used when no settings file exists.
func DefaultModelSettings() ModelSettings {
	var m ModelSettings
	m.Models.Simple = "gpt-4o-mini"
	m.Models.Complex = "gpt-4o"
	m.Models.Fallback = "gpt-4"
	m.Settings.MaxTokens = 350
	m.Settings.Temperature = 0.2
	m.Settings.IntelligentSelection = true
	m.Settings.ComplexityThreshold = 150
	m.Settings.ComplexKeywords = []string{
		"analyze", "analysis", "compare", "comparison", "evaluate", "research",
		"investigate", "examine", "review", "strategy", "plan", "design", "architect",
	}
	return m
}

// Validate checks ranges and fills blank model names from the defaults.
func (m *ModelSettings) Validate() error {
	def := DefaultModelSettings()
	if strings.TrimSpace(m.Models.Simple) == "" {
		m.Models.Simple = def.Models.Simple
	}
	if strings.TrimSpace(m.Models.Complex) == "" {
		m.Models.Complex = def.Models.Complex
	}
	if strings.TrimSpace(m.Models.Fallback) == "" {
		m.Models.Fallback = def.Models.Fallback
	}
	if m.Settings.MaxTokens <= 0 {
		return errors.New("settings.max_tokens must be > 0")
	}
	if m.Settings.Temperature < 0 || m.Settings.Temperature > 2 {
		return errors.New("settings.temperature must be in [0,2]")
	}
	if m.Settings.ComplexityThreshold < 0 {
		return errors.New("settings.complexity_threshold must be >= 0")
	}
	return nil
}

// SelectModel returns the model for prompt. With intelligent selection off
// the fallback model is used; otherwise prompts longer than the threshold (in
// characters) or containing a complex keyword get the complex model.
func (m ModelSettings) SelectModel(prompt string) string {
	if !m.Settings.IntelligentSelection {
		return m.Models.Fallback
	}
	if utf8.RuneCountInString(prompt) > m.Settings.ComplexityThreshold {
		return m.Models.Complex
	}
	low := strings.ToLower(prompt)
	for _, kw := range m.Settings.ComplexKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(low, kw) {
			return m.Models.Complex
		}
	}
	return m.Models.Simple
}

// LoadModelSettings reads path. A missing file yields the defaults.
func LoadModelSettings(path string) (ModelSettings, error) {
	m := DefaultModelSettings()
	if _, err := toml.DecodeFile(path, &m); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultModelSettings(), nil
		}
		return ModelSettings{}, fmt.Errorf("model settings %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return ModelSettings{}, fmt.Errorf("model settings %s: %w", path, err)
	}
	return m, nil
}

// Settings holds the current ModelSettings and reloads them on request. It
// replaces ambient file polling with an explicit Refresh; Watch is an opt-in
// convenience that calls Refresh on file changes.
type Settings struct {
	path string

	mu      sync.RWMutex
	current ModelSettings
	loaded  time.Time
}

// NewSettings loads path once and returns the holder.
func NewSettings(path string) (*Settings, error) {
	s := &Settings{path: path}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns a copy of the active settings.
func (s *Settings) Current() ModelSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// LoadedAt reports when the active settings were read.
func (s *Settings) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// SelectModel applies the active settings to prompt.
func (s *Settings) SelectModel(prompt string) string {
	return s.Current().SelectModel(prompt)
}

// Refresh re-reads the file. On error the previous settings stay active.
func (s *Settings) Refresh() error {
	m, err := LoadModelSettings(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = m
	s.loaded = time.Now()
	s.mu.Unlock()
	return nil
}

// Watch refreshes the settings whenever the file is written or replaced,
// until ctx is done. The parent directory is watched so editors that save by
// rename are handled.
func (s *Settings) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()
		target := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.Refresh(); err != nil {
					log.Warn().Err(err).Str("path", s.path).Msg("model settings reload failed; keeping previous")
					continue
				}
				log.Info().Str("path", s.path).Msg("model settings reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("model settings watcher")
			}
		}
	}()
	return nil
}
