package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"gopkg.in/yaml.v3"
)

type contactsFile struct {
	Contacts []domain.Contact `yaml:"contacts"`
}

// ContactDirectory resolves assignee ids from .plangrid/contacts.yaml.
type ContactDirectory struct {
	mu   sync.RWMutex
	path string
	byID map[string]domain.Contact
}

// LoadContacts reads the contacts file under the workspace root. A missing
// file yields an empty directory.
func LoadContacts(root string) (*ContactDirectory, error) {
	d := &ContactDirectory{path: filepath.Join(root, PlangridDir, ContactsFile), byID: map[string]domain.Contact{}}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the contacts file.
func (d *ContactDirectory) Reload() error {
	// #nosec G304 -- fixed file inside the workspace
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read contacts: %w", err)
	}
	var f contactsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to unmarshal contacts: %w", err)
	}
	byID := make(map[string]domain.Contact, len(f.Contacts))
	for _, c := range f.Contacts {
		if c.ID == "" {
			continue
		}
		byID[c.ID] = c
	}
	d.mu.Lock()
	d.byID = byID
	d.mu.Unlock()
	return nil
}

// Resolve looks a contact up by id.
func (d *ContactDirectory) Resolve(id string) (domain.Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byID[id]
	return c, ok
}

// Contacts returns every contact ordered by id.
func (d *ContactDirectory) Contacts() []domain.Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.Contact, 0, len(d.byID))
	for _, c := range d.byID {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Contact) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Save adds or replaces a contact and writes the file.
func (d *ContactDirectory) Save(c domain.Contact) error {
	if _, err := domain.NewContactID(c.ID); err != nil {
		return err
	}
	d.mu.Lock()
	d.byID[c.ID] = c
	d.mu.Unlock()

	data, err := yaml.Marshal(contactsFile{Contacts: d.Contacts()})
	if err != nil {
		return fmt.Errorf("failed to marshal contacts: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0700); err != nil {
		return err
	}
	return writeFile(d.path, data)
}

// DisplayNames maps assignee ids to contact names, keeping unknown ids.
func DisplayNames(dir domain.Directory, ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id
		if dir == nil {
			continue
		}
		if c, ok := dir.Resolve(id); ok && c.Name != "" {
			out[i] = c.Name
		}
	}
	return out
}
