// Package store persists Application definitions as YAML files under the
// apps/ subdirectory of the configuration directory. The files are the
// source of truth: the API and CLI write through this store, and externally
// edited files are picked up by the directory watcher.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sigsyaml "sigs.k8s.io/yaml"

	"driftsync/internal/config"
	"driftsync/pkg/apis/driftsync/v1alpha1"
	"driftsync/pkg/logging"
)

// NotFoundError reports a missing application definition.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("application %q not found", e.Name)
}

// IsNotFound checks whether err reports a missing application.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// Store reads and writes Application YAML files.
type Store struct {
	mu         sync.RWMutex
	configPath string
}

// NewStore creates a Store rooted at the given configuration directory.
func NewStore(configPath string) *Store {
	return &Store{configPath: configPath}
}

// Dir returns the directory the store reads and writes.
func (s *Store) Dir() string {
	return filepath.Join(s.configPath, config.AppsDir)
}

// Save writes the application to <configPath>/apps/<name>.yaml, creating
// the directory if needed.
func (s *Store) Save(app *v1alpha1.Application) error {
	if app.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := sigsyaml.Marshal(app)
	if err != nil {
		return fmt.Errorf("failed to marshal application %s: %w", app.Name, err)
	}

	path := filepath.Join(dir, sanitizeFilename(app.Name)+".yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	logging.Debug("Store", "Saved application %s to %s", app.Name, path)
	return nil
}

// Get loads one application by name.
func (s *Store) Get(name string) (*v1alpha1.Application, error) {
	if name == "" {
		return nil, fmt.Errorf("application name cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.Dir(), sanitizeFilename(name)+".yaml")
	return s.readFile(path)
}

// List loads every application in the directory, sorted by name. Files
// that fail to parse are skipped with a warning so one bad file never
// hides the rest.
func (s *Store) List() ([]*v1alpha1.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := s.Dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var apps []*v1alpha1.Application
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		app, err := s.readFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logging.Warn("Store", "Skipping %s: %v", entry.Name(), err)
			continue
		}
		apps = append(apps, app)
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return apps, nil
}

// Delete removes the application file.
func (s *Store) Delete(name string) error {
	if name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.Dir(), sanitizeFilename(name)+".yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &NotFoundError{Name: name}
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}

	logging.Info("Store", "Deleted application %s", name)
	return nil
}

// UpdateStatus re-reads the application, applies mutate to its status and
// writes it back under the lock, so concurrent status writers never lose
// updates.
func (s *Store) UpdateStatus(name string, mutate func(*v1alpha1.ApplicationStatus)) (*v1alpha1.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.Dir(), sanitizeFilename(name)+".yaml")
	app, err := s.readFile(path)
	if err != nil {
		return nil, err
	}

	mutate(&app.Status)

	data, err := sigsyaml.Marshal(app)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal application %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return app, nil
}

func (s *Store) readFile(path string) (*v1alpha1.Application, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			return nil, &NotFoundError{Name: name}
		}
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	var app v1alpha1.Application
	if err := sigsyaml.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if app.Name == "" {
		// tolerate hand-written files that omit metadata.name
		app.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &app, nil
}

// sanitizeFilename keeps application names safe as file names.
func sanitizeFilename(name string) string {
	sanitized := name
	for _, ch := range []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " "} {
		sanitized = strings.ReplaceAll(sanitized, ch, "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "unnamed"
	}
	return sanitized
}
