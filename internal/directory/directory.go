// Package directory loads the org roster from a YAML file and keeps
// it current while the process runs. Credentials live here and are
// handed only to the state machine's login step.
package directory

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/forcetools/orgupgrader/internal/domain"
)

type orgFile struct {
	Orgs []orgEntry `yaml:"orgs"`
}

type orgEntry struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Directory is the org lookup collaborator. Safe for concurrent use;
// Reload swaps the whole roster atomically.
type Directory struct {
	path string

	mu   sync.RWMutex
	orgs map[string]domain.Org
}

// Load reads the org file and returns a Directory over it
func Load(path string) (*Directory, error) {
	d := &Directory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the org file
func (d *Directory) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("reading org file: %w", err)
	}

	var f orgFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing org file: %w", err)
	}

	orgs := make(map[string]domain.Org, len(f.Orgs))
	for i, e := range f.Orgs {
		if e.ID == "" {
			return fmt.Errorf("org %d: id is required", i)
		}
		if e.URL == "" {
			return fmt.Errorf("org %s: url is required", e.ID)
		}
		orgs[e.ID] = domain.Org{
			ID:   e.ID,
			Name: e.Name,
			URL:  e.URL,
			Credentials: domain.Credentials{
				Username: e.Username,
				Password: e.Password,
			},
		}
	}

	d.mu.Lock()
	d.orgs = orgs
	d.mu.Unlock()
	return nil
}

// GetByID looks one org up
func (d *Directory) GetByID(id string) (domain.Org, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	org, ok := d.orgs[id]
	if !ok {
		return domain.Org{}, fmt.Errorf("org %s not found", id)
	}
	return org, nil
}

// GetByIDs looks a set of orgs up, failing on the first unknown id
func (d *Directory) GetByIDs(ids []string) ([]domain.Org, error) {
	out := make([]domain.Org, 0, len(ids))
	for _, id := range ids {
		org, err := d.GetByID(id)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, nil
}

// IDs returns all known org ids
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.orgs))
	for id := range d.orgs {
		ids = append(ids, id)
	}
	return ids
}
