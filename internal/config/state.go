package config

import (
	"sync"

	"golang.org/x/text/language"

	"github.com/dshills/geoladris/internal/config/folder"
	"github.com/dshills/geoladris/internal/config/notify"
)

// folderState is one load of folder-backed state. Message bundles are
// read lazily, per locale, and share the snapshot's staleness clock.
type folderState struct {
	source      Source
	properties  map[string]string
	languages   []Language
	defaultLang string

	mu       sync.Mutex
	messages map[string]folder.Messages
}

func (s *folderState) messagesFor(tag language.Tag) folder.Messages {
	if s.source == nil {
		return folder.Messages{}
	}
	key := tag.String()
	s.mu.Lock()
	m, ok := s.messages[key]
	s.mu.Unlock()
	if ok {
		return m
	}

	m = s.source.Messages(tag)
	if m == nil {
		m = folder.Messages{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.messages[key]; ok {
		return prev
	}
	if s.messages == nil {
		s.messages = make(map[string]folder.Messages)
	}
	if len(s.messages) < maxCachedLocales {
		s.messages[key] = m
	}
	return m
}

// current returns fresh folder-backed state, reloading it if the cache
// policy requires.
func (c *Config) current() *folderState {
	s, err := c.state.Get(c.loadState)
	if err != nil || s == nil {
		// loadState does not fail.
		return &folderState{properties: map[string]string{}}
	}
	return s
}

func (c *Config) loadState() (*folderState, error) {
	s := &folderState{source: c.source}

	if c.source != nil {
		s.properties = c.source.Properties()
	}
	if s.properties == nil {
		s.properties = map[string]string{}
	}
	s.languages, s.defaultLang = c.parseLanguages(s.properties)

	if c.pluginSource != nil {
		ds, err := c.pluginSource.Plugins()
		switch {
		case err != nil && len(ds) == 0:
			c.logger.Warn("error loading plugins, keeping current set", "error", err)
		case err != nil:
			c.logger.Warn("error loading plugins", "error", err)
			c.replacePlugins(ds, "reload")
		default:
			c.replacePlugins(ds, "reload")
		}
	}

	c.logger.Debug("folder state loaded", "dir", c.Dir(), "properties", len(s.properties))
	c.notifier.Notify(notify.Change{
		Type:    notify.ChangeReload,
		Source:  c.Dir(),
		Plugins: c.registry.Snapshot().Len(),
	})
	return s, nil
}
