package schema

import (
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Registry holds schemas by name.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

func NewRegistry(schemas ...*Schema) *Registry {
	r := &Registry{schemas: make(map[string]*Schema, len(schemas))}
	for _, s := range schemas {
		r.MustRegister(s)
	}
	return r
}

// Register adds s to the registry. Names are unique.
func (r *Registry) Register(s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[s.name]; exists {
		return definitionErrorf("schema %q is already registered", s.name)
	}
	r.schemas[s.name] = s
	return nil
}

func (r *Registry) MustRegister(s *Schema) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns the sorted names of the registered schemas.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFS registers every `*.yaml` / `*.yml` schema definition found under dir in fsys.
func (r *Registry) LoadFS(fsys fs.FS, dir string) error {
	return fs.WalkDir(fsys, dir, func(fp string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		if ext := strings.ToLower(path.Ext(fp)); ext != ".yaml" && ext != ".yml" {
			return nil
		}

		data, err := fs.ReadFile(fsys, fp)
		if err != nil {
			return errors.Wrapf(err, "reading %s", fp)
		}
		def, err := ParseDefinition(data)
		if err != nil {
			return errors.Wrapf(err, "parsing %s", fp)
		}
		s, err := def.Build()
		if err != nil {
			return errors.Wrapf(err, "building %s", fp)
		}
		return errors.Wrapf(r.Register(s), "registering %s", fp)
	})
}
