package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"facette.io/natsort"
	sessionerrors "github.com/amp-labs/amp-session/errors"
	"github.com/amp-labs/amp-session/item"
	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned when neither the file nor its fragment directory exist.
var ErrNoConfig = errors.New("no configuration found")

// Component is one entry of the components table.
type Component struct {
	Name string         `yaml:"name"`
	Type string         `yaml:"type"`
	Args map[string]any `yaml:"args"`
}

// Values returns the arguments as item configuration values.
func (c Component) Values() item.Values {
	return item.Values(c.Args).Clone()
}

type file struct {
	Components []Component `yaml:"components"`
}

// LoadComponents reads path and then every *.yaml fragment in path+".d", in
// natural order, concatenating their components. Either may be missing, but
// not both. Every problem found is reported, not just the first.
func LoadComponents(path string) ([]Component, error) {
	var files []string

	if _, err := os.Stat(path); err == nil {
		files = append(files, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %w", sessionerrors.ErrConfiguration, err)
	}

	fragments, err := filepath.Glob(filepath.Join(path+".d", "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sessionerrors.ErrConfiguration, err)
	}

	natsort.Sort(fragments)
	files = append(files, fragments...)

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %w: %s", sessionerrors.ErrConfiguration, ErrNoConfig, path)
	}

	var (
		components []Component
		errs       sessionerrors.Collection
	)

	for _, name := range files {
		loaded, err := loadFile(name)
		if err != nil {
			errs.Add(err)

			continue
		}

		components = append(components, loaded...)
	}

	if errs.HasError() {
		return nil, errs.GetError()
	}

	return components, nil
}

func loadFile(name string) ([]Component, error) {
	data, err := os.ReadFile(name) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sessionerrors.ErrConfiguration, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", sessionerrors.ErrConfiguration, name, err)
	}

	var errs sessionerrors.Collection

	for i, c := range f.Components {
		if c.Type == "" {
			errs.Add(fmt.Errorf("%w: %s: component %d (%q) has no type",
				sessionerrors.ErrConfiguration, name, i, c.Name))
		}
	}

	if errs.HasError() {
		return nil, errs.GetError()
	}

	return f.Components, nil
}

// OfType returns the components of the given type, in load order.
func OfType(components []Component, typ string) []Component {
	var out []Component

	for _, c := range components {
		if c.Type == typ {
			out = append(out, c)
		}
	}

	return out
}
