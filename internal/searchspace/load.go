package searchspace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/paramgen/internal/errors"
	"github.com/copyleftdev/paramgen/internal/naming"
)

const component = "searchspace"

// Format is the encoding of the experiment document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the document format from a file extension. Anything that is
// not .yaml or .yml is treated as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Option adjusts how a document is turned into a SearchSpace.
type Option func(*options)

type options struct {
	minimize []string
}

// WithMinimize marks the named objectives (human names) as minimized,
// overriding the document. Naming an objective the document does not declare
// is a ConfigError.
func WithMinimize(names ...string) Option {
	return func(o *options) {
		o.minimize = append(o.minimize, names...)
	}
}

// document is the raw experiment declaration. Generic maps keep JSON and YAML
// decoding on one validation path.
type document struct {
	Objective  map[string]interface{}   `json:"objective" yaml:"objective"`
	Parameters []map[string]interface{} `json:"parameters" yaml:"parameters"`
}

var objectiveNameKey = regexp.MustCompile(`^name\d*$`)

// Load reads and parses the experiment document at path.
func Load(path string, opts ...Option) (*SearchSpace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.KindConfig, err, "read config %s", path).
			WithComponent(component).WithOperation("Load")
	}
	return Parse(data, FormatFor(path), opts...)
}

// Parse validates an experiment document and builds the SearchSpace.
func Parse(data []byte, format Format, opts ...Option) (*SearchSpace, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	doc, err := decode(data, format)
	if err != nil {
		return nil, err
	}

	codec := naming.NewCodec()
	space := &SearchSpace{codec: codec}

	if err := space.loadObjectives(doc.Objective); err != nil {
		return nil, err
	}
	if err := space.loadParameters(doc.Parameters); err != nil {
		return nil, err
	}
	if err := space.applyMinimize(o.minimize); err != nil {
		return nil, err
	}
	return space, nil
}

func decode(data []byte, format Format) (*document, error) {
	var doc document
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, configErr("parse", "", "invalid yaml document").WithCause(err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, configErr("parse", "", "invalid json document").WithCause(err)
		}
	}
	return &doc, nil
}

func (s *SearchSpace) loadObjectives(raw map[string]interface{}) error {
	if raw == nil {
		return configErr("objectives", "objective", "objective section is required")
	}

	var keys []string
	for k := range raw {
		if objectiveNameKey.MatchString(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) != 2 {
		return configErr("objectives", "objective",
			fmt.Sprintf("exactly two objectives are required, found %d (%s)", len(keys), strings.Join(keys, ", ")))
	}

	for i, spec := range []struct{ nameKey, minKey string }{
		{"name", "minimize"},
		{"name2", "minimize2"},
	} {
		field := "objective." + spec.nameKey
		v, ok := raw[spec.nameKey]
		if !ok {
			return configErr("objectives", field, "required field is missing")
		}
		name, err := toName(v)
		if err != nil {
			return configErr("objectives", field, err.Error())
		}
		token, err := s.codec.Register(name)
		if err != nil {
			return configErr("objectives", field, "objective name collision").WithCause(err)
		}

		minimize := false
		if mv, ok := raw[spec.minKey]; ok {
			b, isBool := mv.(bool)
			if !isBool {
				return configErr("objectives", "objective."+spec.minKey, fmt.Sprintf("expected a boolean, got %v", mv))
			}
			minimize = b
		}

		s.objectives[i] = Objective{Name: name, Token: token, Minimize: minimize}
	}
	return nil
}

func (s *SearchSpace) loadParameters(raw []map[string]interface{}) error {
	if len(raw) == 0 {
		return configErr("parameters", "parameters", "at least one parameter is required")
	}

	s.parameters = make([]Parameter, 0, len(raw))
	for i, p := range raw {
		prefix := fmt.Sprintf("parameters[%d]", i)

		v, ok := p["name"]
		if !ok {
			return configErr("parameters", prefix+".name", "required field is missing")
		}
		name, err := toName(v)
		if err != nil {
			return configErr("parameters", prefix+".name", err.Error())
		}

		lower, err := numberField(p, "min")
		if err != nil {
			return configErr("parameters", prefix+".min", err.Error())
		}
		upper, err := numberField(p, "max")
		if err != nil {
			return configErr("parameters", prefix+".max", err.Error())
		}
		if lower >= upper {
			return configErr("parameters", prefix,
				fmt.Sprintf("parameter %q: min (%g) must be strictly less than max (%g)", name, lower, upper))
		}

		token, err := s.codec.Register(name)
		if err != nil {
			return configErr("parameters", prefix+".name", "parameter name collision").WithCause(err)
		}

		s.parameters = append(s.parameters, Parameter{
			Name:  name,
			Token: token,
			Lower: lower,
			Upper: upper,
		})
	}
	return nil
}

func (s *SearchSpace) applyMinimize(names []string) error {
	for _, name := range names {
		token := naming.Sanitize(name)
		matched := false
		for i := range s.objectives {
			if s.objectives[i].Token == token {
				s.objectives[i].Minimize = true
				matched = true
			}
		}
		if !matched {
			return configErr("directions", name, "minimize override names an unknown objective")
		}
	}
	return nil
}

func toName(v interface{}) (string, error) {
	name, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %v", v)
	}
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("name must not be blank")
	}
	return name, nil
}

func numberField(p map[string]interface{}, key string) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("required field is missing")
	}

	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n.String())
		}
		f = parsed
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("expected a number, got %v", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("value must be finite, got %v", f)
	}
	return f, nil
}

func configErr(op, field, msg string) *errors.Error {
	e := errors.New(errors.KindConfig, msg).WithComponent(component).WithOperation(op)
	if field != "" {
		e.WithField(field)
	}
	return e
}
