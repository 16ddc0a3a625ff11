package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// #region registry
// Registry maps policy content hashes to monotonically numbered versions.
// Versions are appended, never overwritten. With a directory, each version is
// persisted as one YAML file written atomically (temp file + hard link).
// Safe for concurrent use; resolution is serialized behind a single writer.
type Registry struct {
	mu        sync.Mutex
	dir       string
	byID      map[string]Record
	byHash    map[string]string // hash -> version id
	canonical map[string][]byte // version id -> canonical content
	next      int
}

// NewMemoryRegistry returns a registry that is not backed by files.
func NewMemoryRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]Record),
		byHash:    make(map[string]string),
		canonical: make(map[string][]byte),
		next:      1,
	}
}

// OpenRegistry loads every version file in dir, creating dir if needed.
// A stored file whose content does not re-hash to its recorded hash, or two
// files claiming the same hash or number, fail with ErrIntegrity.
func OpenRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create policy dir: %w", err)
	}
	r := NewMemoryRegistry()
	r.dir = dir

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read policy dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "v") || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var rec Record
		if err := yaml.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := r.admit(rec); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return r, nil
}

// admit verifies and indexes a loaded record.
func (r *Registry) admit(rec Record) error {
	canon, err := rec.Definition.CanonicalContent()
	if err != nil {
		return err
	}
	hash, err := rec.Definition.Hash()
	if err != nil {
		return err
	}
	if hash != rec.Version.Hash {
		return fmt.Errorf("%w: version %s content hashes to %s, recorded %s", ErrIntegrity, rec.Version.ID, hash, rec.Version.Hash)
	}
	if rec.Version.ID != versionID(rec.Version.Number) {
		return fmt.Errorf("%w: version id %s does not match number %d", ErrIntegrity, rec.Version.ID, rec.Version.Number)
	}
	if _, dup := r.byID[rec.Version.ID]; dup {
		return fmt.Errorf("%w: duplicate version %s", ErrIntegrity, rec.Version.ID)
	}
	if prior, dup := r.byHash[hash]; dup {
		return fmt.Errorf("%w: hash %s registered as both %s and %s", ErrIntegrity, hash, prior, rec.Version.ID)
	}
	r.byID[rec.Version.ID] = rec
	r.byHash[hash] = rec.Version.ID
	r.canonical[rec.Version.ID] = canon
	if rec.Version.Number >= r.next {
		r.next = rec.Version.Number + 1
	}
	return nil
}

// #endregion registry

// #region resolve
// Resolve returns the version for def, registering it when no identical
// content exists. created reports whether a new version was minted.
func (r *Registry) Resolve(def Definition) (v Version, created bool, err error) {
	if err := def.Validate(); err != nil {
		return Version{}, false, fmt.Errorf("validate policy: %w", err)
	}
	canon, err := def.CanonicalContent()
	if err != nil {
		return Version{}, false, err
	}
	hash, err := def.Hash()
	if err != nil {
		return Version{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byHash[hash]; ok {
		if !bytes.Equal(r.canonical[id], canon) {
			return Version{}, false, fmt.Errorf("%w: hash %s reused by differing content", ErrIntegrity, hash)
		}
		return r.byID[id].Version, false, nil
	}

	v = Version{ID: versionID(r.next), Number: r.next, Hash: hash}
	rec := Record{Version: v, Definition: def}
	rec.Definition.Params = def.Params.Clone()
	rec.Definition.Bounds = maps.Clone(def.Bounds)
	if r.dir != "" {
		if err := r.persist(rec); err != nil {
			return Version{}, false, err
		}
	}
	r.byID[v.ID] = rec
	r.byHash[hash] = v.ID
	r.canonical[v.ID] = canon
	r.next++
	return v, true, nil
}

// persist writes rec to <dir>/<id>.yaml atomically. An existing file is
// never replaced: the temp file is hard-linked into place, which fails when
// another writer got there first.
func (r *Registry) persist(rec Record) error {
	target := filepath.Join(r.dir, rec.Version.ID+".yaml")
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	tmp, err := os.CreateTemp(r.dir, ".policy-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Link(tmp.Name(), target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s already exists", ErrIntegrity, target)
		}
		return fmt.Errorf("link policy file: %w", err)
	}
	return nil
}

// #endregion resolve

// #region lookup
// Get returns the record for a version ID.
func (r *Registry) Get(id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return Record{}, fmt.Errorf("%s: %w", id, ErrVersionNotFound)
	}
	rec.Definition.Params = rec.Definition.Params.Clone()
	return rec, nil
}

// Has reports whether a version ID is registered.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[id]
	return ok
}

// List returns all versions ordered by number.
func (r *Registry) List() []Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Version, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec.Version)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func versionID(n int) string {
	return fmt.Sprintf("v%d", n)
}

// #endregion lookup

// LoadDefinition reads a policy definition from a YAML file. Fields left out
// of the file keep their default values.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	def := DefaultDefinition()
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, fmt.Errorf("policy %s: %w", path, err)
	}
	return def, nil
}
