package retarget

import (
	"embed"
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/teslashibe/go-avatarcam/pkg/frame"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var builtin embed.FS

// ErrUnknownAvatar is returned when a template name is not in the library.
var ErrUnknownAvatar = errors.New("retarget: unknown avatar")

// Template describes how an avatar looks.
type Template struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	Colors      Colors  `yaml:"colors" json:"colors"`
	Style       Style   `yaml:"style" json:"style"`
	Builtin     bool    `yaml:"-" json:"builtin"`
	palette     palette
}

// Colors are "#rrggbb" strings.
type Colors struct {
	Skin    string `yaml:"skin" json:"skin"`
	Hair    string `yaml:"hair" json:"hair"`
	Body    string `yaml:"body" json:"body"`
	Limbs   string `yaml:"limbs" json:"limbs"`
	Outline string `yaml:"outline" json:"outline"`
	Eyes    string `yaml:"eyes" json:"eyes"`
	Mouth   string `yaml:"mouth" json:"mouth"`
}

// Style holds proportions, relative to shoulder width where noted.
type Style struct {
	LineWidth  int     `yaml:"line_width" json:"line_width"`
	HeadScale  float64 `yaml:"head_scale" json:"head_scale"`   // head radius / shoulder width
	HairLength float64 `yaml:"hair_length" json:"hair_length"` // hair drop / head radius
}

type palette struct {
	skin, hair, body, limbs, outline, eyes, mouth color.RGBA
}

// ParseTemplate decodes and validates a YAML template.
func ParseTemplate(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadTemplateFile reads a template from disk.
func LoadTemplateFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	t, err := ParseTemplate(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func (t *Template) compile() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("template: name is required")
	}
	if t.Style.LineWidth <= 0 {
		t.Style.LineWidth = 6
	}
	if t.Style.HeadScale <= 0 {
		t.Style.HeadScale = 0.4
	}

	fields := []struct {
		name string
		hex  string
		dst  *color.RGBA
	}{
		{"skin", t.Colors.Skin, &t.palette.skin},
		{"hair", t.Colors.Hair, &t.palette.hair},
		{"body", t.Colors.Body, &t.palette.body},
		{"limbs", t.Colors.Limbs, &t.palette.limbs},
		{"outline", t.Colors.Outline, &t.palette.outline},
		{"eyes", t.Colors.Eyes, &t.palette.eyes},
		{"mouth", t.Colors.Mouth, &t.palette.mouth},
	}
	for _, f := range fields {
		c, err := frame.ParseHexColor(f.hex)
		if err != nil {
			return fmt.Errorf("template %s: %s: %w", t.Name, f.name, err)
		}
		*f.dst = c
	}
	return nil
}

// Library holds the available avatar templates.
type Library struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewLibrary returns a library preloaded with the built-in templates.
func NewLibrary() (*Library, error) {
	l := &Library{templates: make(map[string]*Template)}

	err := fs.WalkDir(builtin, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := builtin.ReadFile(path)
		if err != nil {
			return err
		}
		t, err := ParseTemplate(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		t.Builtin = true
		return l.Add(t)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// LoadDir adds every *.yaml and *.yml template in dir. A later template
// with the same name replaces an earlier one.
func (l *Library) LoadDir(dir string) (int, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return 0, err
		}
		paths = append(paths, m...)
	}
	sort.Strings(paths)

	for _, p := range paths {
		t, err := LoadTemplateFile(p)
		if err != nil {
			return 0, err
		}
		if err := l.Add(t); err != nil {
			return 0, err
		}
	}
	return len(paths), nil
}

// Add registers t under its name.
func (l *Library) Add(t *Template) error {
	if t == nil || t.Name == "" {
		return errors.New("retarget: template without name")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[t.Name] = t
	return nil
}

// Get returns the template for name.
func (l *Library) Get(name string) (*Template, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAvatar, name)
	}
	return t, nil
}

// Names returns template names, sorted.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.templates))
	for n := range l.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Templates returns all templates, sorted by name.
func (l *Library) Templates() []*Template {
	names := l.Names()
	out := make([]*Template, 0, len(names))
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, n := range names {
		out = append(out, l.templates[n])
	}
	return out
}
