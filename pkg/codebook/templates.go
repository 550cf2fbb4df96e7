package codebook

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/censusgdb/pkg/gis"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Template is the static description of one canonical layer. Layer is the
// TIGER/Line filename component; Category is the crawled catalog category.
// Either may be empty. A template without Geometry describes a table.
type Template struct {
	Layer       string           `yaml:"layer"`
	Category    string           `yaml:"category"`
	Code        string           `yaml:"code"`
	Alias       string           `yaml:"alias"`
	Group       string           `yaml:"group"`
	Method      Method           `yaml:"method"`
	Geometry    gis.GeometryType `yaml:"geometry"`
	Title       string           `yaml:"title"`
	Tags        string           `yaml:"tags"`
	Summary     string           `yaml:"summary"`
	Description string           `yaml:"description"`
	Credits     string           `yaml:"credits"`
	AccessText  string           `yaml:"access_text"`
}

// Templates is the parsed template set.
type Templates struct {
	Credits    string     `yaml:"credits"`
	AccessText string     `yaml:"access_text"`
	Layers     []Template `yaml:"layers"`
}

// DefaultTemplates parses the embedded template set.
func DefaultTemplates() (*Templates, error) {
	return ParseTemplates(defaultTemplates)
}

// ParseTemplates decodes and validates a YAML template set.
func ParseTemplates(data []byte) (*Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	codes := make(map[string]bool)
	layers := make(map[string]bool)
	for _, l := range t.Layers {
		if !codePattern.MatchString(l.Code) {
			return nil, fmt.Errorf("template %q: code %q must be two uppercase letters", l.Layer, l.Code)
		}
		if codes[l.Code] {
			return nil, fmt.Errorf("template code %s declared twice", l.Code)
		}
		codes[l.Code] = true
		if l.Layer != "" {
			if layers[l.Layer] {
				return nil, fmt.Errorf("template layer %q declared twice", l.Layer)
			}
			layers[l.Layer] = true
		}
		if l.Layer == "" && l.Category == "" {
			return nil, fmt.Errorf("template %s has neither layer nor category", l.Code)
		}
		if l.Method != "" && !l.Method.Valid() {
			return nil, fmt.Errorf("template %s: unknown method %q", l.Code, l.Method)
		}
		if l.Geometry != "" && !l.Geometry.Valid() {
			return nil, fmt.Errorf("template %s: unknown geometry %q", l.Code, l.Geometry)
		}
	}
	return &t, nil
}

// ByLayer finds the template for a filename layer component: an exact match
// first, then the longest template layer that prefixes it, with the rest
// returned as postfix.
func (t *Templates) ByLayer(component string) (tpl *Template, postfix string, ok bool) {
	best := -1
	for i := range t.Layers {
		name := t.Layers[i].Layer
		if name == "" {
			continue
		}
		if name == component {
			return &t.Layers[i], "", true
		}
		if strings.HasPrefix(component, name) && (best < 0 || len(name) > len(t.Layers[best].Layer)) {
			best = i
		}
	}
	if best < 0 {
		return nil, "", false
	}
	return &t.Layers[best], component[len(t.Layers[best].Layer):], true
}

// ByCategory finds the template whose category is the longest one contained
// in category (case-insensitive). The uncovered text is returned as postfix.
func (t *Templates) ByCategory(category string) (tpl *Template, postfix string, ok bool) {
	lower := strings.ToLower(category)
	best := -1
	for i := range t.Layers {
		c := strings.ToLower(t.Layers[i].Category)
		if c == "" || !strings.Contains(lower, c) {
			continue
		}
		if best < 0 || len(c) > len(t.Layers[best].Category) {
			best = i
		}
	}
	if best < 0 {
		return nil, "", false
	}
	c := strings.ToLower(t.Layers[best].Category)
	i := strings.Index(lower, c)
	rest := strings.TrimSpace(category[:i] + " " + category[i+len(c):])
	return &t.Layers[best], rest, true
}

// Epoch describes a postfix recovered from a layer name: two digits are a
// decennial census, three digits a congress number. Anything else is "".
func Epoch(postfix string, year int) string {
	if !allDigits(postfix) {
		return ""
	}
	n, _ := strconv.Atoi(postfix)
	switch len(postfix) {
	case 2:
		century := 2000
		if n > year%100 {
			century = 1900
		}
		return fmt.Sprintf("%d Census", century+n)
	case 3:
		return fmt.Sprintf("%s Congress", ordinal(n))
	}
	return ""
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

// render substitutes the template placeholders.
func render(s string, year int, code, postfix, epoch string) string {
	r := strings.NewReplacer(
		"{year}", strconv.Itoa(year),
		"{code}", code,
		"{postfix}", postfix,
		"{epoch}", epoch,
	)
	return strings.Join(strings.Fields(r.Replace(s)), " ")
}
