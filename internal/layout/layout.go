// Package layout loads component storage and system signatures from YAML.
// Component types are Go types, so a layout only carries the storage and
// indexing decisions; callers bind names to types and bodies.
package layout

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	ecs "github.com/DangerosoDavo/rowecs"
	"github.com/DangerosoDavo/rowecs/ecs/storage"
)

// ComponentSpec is one entry of the components list.
type ComponentSpec struct {
	Name     string `yaml:"name"`
	Storage  string `yaml:"storage"` // array or seq
	Capacity int    `yaml:"capacity"`
}

// SystemSpec is one entry of the systems list.
type SystemSpec struct {
	Name        string        `yaml:"name"`
	Requires    []string      `yaml:"requires"`
	Negates     []string      `yaml:"negates"`
	Owns        []string      `yaml:"owns"`
	Index       string        `yaml:"index"` // table, array or seq
	MaxEntities int           `yaml:"max_entities"`
	Capacity    int           `yaml:"capacity"`
	StreamRate  int           `yaml:"stream_rate"`
	Profile     bool          `yaml:"profile"`
	RunEvery    time.Duration `yaml:"run_every"`
}

type layoutFile struct {
	Components []ComponentSpec `yaml:"components"`
	Systems    []SystemSpec    `yaml:"systems"`
}

// Layout holds validated specs keyed by name.
type Layout struct {
	components map[string]ecs.ComponentFormat
	systems    map[string]SystemSpec
	order      []string
}

// Load reads and validates a layout file.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read layout %s", path)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "layout %s", path)
	}
	return l, nil
}

// Parse validates layout YAML already in memory.
func Parse(data []byte) (*Layout, error) {
	var f layoutFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "parse layout")
	}
	l := &Layout{
		components: make(map[string]ecs.ComponentFormat, len(f.Components)),
		systems:    make(map[string]SystemSpec, len(f.Systems)),
	}
	for _, c := range f.Components {
		if c.Name == "" {
			return nil, eris.New("component without a name")
		}
		if _, dup := l.components[c.Name]; dup {
			return nil, eris.Errorf("component %s declared twice", c.Name)
		}
		format, err := storage.ParseFormat(c.Storage)
		if err != nil {
			return nil, eris.Wrapf(err, "component %s", c.Name)
		}
		if c.Capacity < 0 || (format == storage.FormatArray && c.Capacity == 0) {
			return nil, eris.Wrapf(storage.ErrZeroCapacity, "component %s capacity %d", c.Name, c.Capacity)
		}
		l.components[c.Name] = ecs.ComponentFormat{Storage: format, Capacity: c.Capacity}
	}
	for _, s := range f.Systems {
		if s.Name == "" {
			return nil, eris.New("system without a name")
		}
		if _, dup := l.systems[s.Name]; dup {
			return nil, eris.Errorf("system %s declared twice", s.Name)
		}
		if _, err := storage.ParseIndexFormat(s.Index); err != nil {
			return nil, eris.Wrapf(err, "system %s", s.Name)
		}
		for _, name := range append(append(append([]string(nil), s.Requires...), s.Negates...), s.Owns...) {
			if _, ok := l.components[name]; !ok {
				return nil, eris.Errorf("system %s names undeclared component %s", s.Name, name)
			}
		}
		l.systems[s.Name] = s
		l.order = append(l.order, s.Name)
	}
	return l, nil
}

// Component returns the storage format declared for name.
func (l *Layout) Component(name string) (ecs.ComponentFormat, error) {
	format, ok := l.components[name]
	if !ok {
		return ecs.ComponentFormat{}, eris.Errorf("component %s not in layout", name)
	}
	return format, nil
}

// Systems lists system names in file order, which is also their commit order.
func (l *Layout) Systems() []string {
	return append([]string(nil), l.order...)
}

// SystemConfig resolves the named system against the types registered in w.
// Init and Body are left for the caller.
func (l *Layout) SystemConfig(w *ecs.World, name string) (ecs.SystemConfig, error) {
	s, ok := l.systems[name]
	if !ok {
		return ecs.SystemConfig{}, eris.Errorf("system %s not in layout", name)
	}
	index, err := storage.ParseIndexFormat(s.Index)
	if err != nil {
		return ecs.SystemConfig{}, eris.Wrapf(err, "system %s", name)
	}
	cfg := ecs.SystemConfig{
		Name:        s.Name,
		Index:       index,
		MaxEntities: s.MaxEntities,
		Capacity:    s.Capacity,
		StreamRate:  s.StreamRate,
		Profile:     s.Profile,
		RunEvery:    s.RunEvery,
	}
	if cfg.Requires, err = resolve(w, s.Requires); err != nil {
		return ecs.SystemConfig{}, eris.Wrapf(err, "system %s requires", name)
	}
	if cfg.Negates, err = resolve(w, s.Negates); err != nil {
		return ecs.SystemConfig{}, eris.Wrapf(err, "system %s negates", name)
	}
	if cfg.Owns, err = resolve(w, s.Owns); err != nil {
		return ecs.SystemConfig{}, eris.Wrapf(err, "system %s owns", name)
	}
	return cfg, nil
}

func resolve(w *ecs.World, names []string) ([]ecs.ComponentTypeID, error) {
	if len(names) == 0 {
		return nil, nil
	}
	ids := make([]ecs.ComponentTypeID, 0, len(names))
	for _, name := range names {
		id, ok := w.ComponentID(name)
		if !ok {
			return nil, eris.Wrapf(ecs.ErrComponentNotRegistered, "%s", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
