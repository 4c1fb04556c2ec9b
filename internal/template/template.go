// Package template renders message texts with {name} placeholders.
package template

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var ErrBinding = errors.New("template binding error")

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// BindingError lists the placeholders a payload did not supply.
type BindingError struct {
	Template string
	Missing  []string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("template %q: missing placeholders %s", e.Template, strings.Join(e.Missing, ", "))
}

func (e *BindingError) Unwrap() error {
	return ErrBinding
}

type Template struct {
	Name         string
	Text         string
	placeholders []string
}

func Parse(name, text string) Template {
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return Template{Name: name, Text: text, placeholders: names}
}

// Placeholders returns the distinct placeholder names in order of first use.
func (t Template) Placeholders() []string {
	return slices.Clone(t.placeholders)
}

// Check reports a BindingError when payload lacks any placeholder. Extra
// payload keys are allowed.
func (t Template) Check(payload map[string]string) error {
	var missing []string
	for _, name := range t.placeholders {
		if _, ok := payload[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &BindingError{Template: t.Name, Missing: missing}
	}
	return nil
}

func (t Template) Bind(payload map[string]string) (string, error) {
	if err := t.Check(payload); err != nil {
		return "", err
	}
	return placeholder.ReplaceAllStringFunc(t.Text, func(m string) string {
		return payload[m[1:len(m)-1]]
	}), nil
}
