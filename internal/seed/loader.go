// Package seed loads topic definitions from YAML files and applies them to
// the question pool at startup.
package seed

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader loads and caches topic seeds from the filesystem.
type Loader struct {
	rootDir string
	topics  map[string]Topic
	mu      sync.RWMutex
}

// NewLoader creates a new seed loader and loads every YAML file under
// rootDir. A "<name>.description.md" file next to a YAML file supplies the
// description of a single-topic file that has none.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir: rootDir,
		topics:  make(map[string]Topic),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading seeds: %w", err)
	}

	slog.Info("topic seeds loaded", "dir", rootDir, "topics", len(l.topics))
	return l, nil
}

// GetTopic returns a seed by topic name.
func (l *Loader) GetTopic(name string) (Topic, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.topics[name]
	return t, ok
}

// AllTopics returns all loaded seeds ordered by name.
func (l *Loader) AllTopics() []Topic {
	l.mu.RLock()
	defer l.mu.RUnlock()
	topics := make([]Topic, 0, len(l.topics))
	for _, t := range l.topics {
		topics = append(topics, t)
	}
	slices.SortFunc(topics, func(a, b Topic) int { return strings.Compare(a.Name, b.Name) })
	return topics
}

func (l *Loader) loadAll() error {
	if _, err := os.Stat(l.rootDir); err != nil {
		return err
	}
	return filepath.WalkDir(l.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			return l.loadFile(path)
		}
		return nil
	})
}

func (l *Loader) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		slog.Warn("skipping invalid seed YAML", "path", path, "error", err)
		return nil
	}

	topics := f.Topics
	if f.Name != "" {
		if f.Description == "" {
			f.Description = description(path)
		}
		topics = append(topics, f.Topic)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range topics {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			slog.Warn("skipping seed topic without a name", "path", path)
			continue
		}
		if _, dup := l.topics[t.Name]; dup {
			slog.Warn("duplicate seed topic, later file wins", "path", path, "name", t.Name)
		}
		l.topics[t.Name] = t
	}
	return nil
}

func description(yamlPath string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(yamlPath, ".yaml"), ".yml")
	data, err := os.ReadFile(base + ".description.md")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
