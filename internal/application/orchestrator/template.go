package orchestrator

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"reflect"
	"regexp"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/aescanero/dagflow/pkg/domain"
)

//go:embed templates/*.yaml
var builtinTemplates embed.FS

var (
	// quotedPlaceholder matches a JSON string that is exactly one placeholder.
	quotedPlaceholder = regexp.MustCompile(`"\$\{([A-Za-z_][A-Za-z0-9_]*)\}"`)
	placeholder       = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// Template is a parameterized workflow definition. Definition is kept as a
// generic document so placeholders may appear in any field.
type Template struct {
	ID          string                       `json:"id" yaml:"id" validate:"required"`
	Name        string                       `json:"name" yaml:"name" validate:"required"`
	Description string                       `json:"description,omitempty" yaml:"description,omitempty"`
	Variables   []domain.VariableDeclaration `json:"variables,omitempty" yaml:"variables,omitempty" validate:"dive"`
	Definition  map[string]interface{}       `json:"definition" yaml:"definition" validate:"required"`
}

// TemplateInfo describes a registered template without its body.
type TemplateInfo struct {
	ID          string                       `json:"id"`
	Name        string                       `json:"name"`
	Description string                       `json:"description,omitempty"`
	Variables   []domain.VariableDeclaration `json:"variables,omitempty"`
}

func loadBuiltinTemplates() ([]*Template, error) {
	entries, err := builtinTemplates.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("failed to read template catalogue: %w", err)
	}

	out := make([]*Template, 0, len(entries))
	for _, entry := range entries {
		data, err := builtinTemplates.ReadFile(path.Join("templates", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", entry.Name(), err)
		}
		t, err := DecodeTemplate(data)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", entry.Name(), err)
		}
		out = append(out, t)
	}
	return out, nil
}

// DecodeTemplate parses a YAML (or JSON) template document.
func DecodeTemplate(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode template: %w", err)
	}
	return &t, nil
}

// RegisterTemplate adds or replaces a template after checking that every
// placeholder it uses is declared.
func (o *Orchestrator) RegisterTemplate(t *Template) error {
	if t == nil {
		return &domain.ValidationError{Errors: []string{"template is nil"}}
	}
	if err := o.validateStruct(t); err != nil {
		return err
	}

	body, err := json.Marshal(t.Definition)
	if err != nil {
		return fmt.Errorf("template %s: failed to serialize definition: %w", t.ID, err)
	}

	declared := make(map[string]bool, len(t.Variables))
	for _, v := range t.Variables {
		declared[v.Name] = true
	}
	var undeclared []string
	for _, m := range placeholder.FindAllSubmatch(body, -1) {
		name := string(m[1])
		if !declared[name] {
			undeclared = append(undeclared, fmt.Sprintf("template %s: placeholder ${%s} is not declared", t.ID, name))
			declared[name] = true
		}
	}
	if len(undeclared) > 0 {
		return &domain.ValidationError{Errors: undeclared}
	}

	o.mu.Lock()
	o.templates[t.ID] = t
	o.mu.Unlock()

	o.logger.Debug("template registered", zap.String("template_id", t.ID))
	return nil
}

// Templates lists registered templates sorted by id.
func (o *Orchestrator) Templates() []TemplateInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]TemplateInfo, 0, len(o.templates))
	for _, t := range o.templates {
		out = append(out, TemplateInfo{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Variables:   t.Variables,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FromTemplate instantiates a template. Required variables must be supplied
// and every supplied value must match its declared type; missing optional
// variables take their defaults.
func (o *Orchestrator) FromTemplate(templateID string, vars map[string]interface{}) (*domain.WorkflowDefinition, error) {
	o.mu.RLock()
	t, ok := o.templates[templateID]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("template not found: %s", templateID)
	}

	values, err := resolveVariables(t.Variables, vars)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(t.Definition)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize template %s: %w", templateID, err)
	}
	rendered, err := substitute(body, values)
	if err != nil {
		return nil, err
	}

	def, err := domain.DecodeDefinition(rendered, domain.FormatJSON)
	if err != nil {
		return nil, err
	}
	if err := o.Check(def); err != nil {
		return nil, err
	}

	o.logger.Info("definition built from template",
		zap.String("template_id", templateID),
		zap.String("definition_id", def.ID))
	return def, nil
}

// resolveVariables checks supplied values against their declarations and
// fills in defaults.
func resolveVariables(decls []domain.VariableDeclaration, vars map[string]interface{}) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(decls))
	var errs []string

	for _, d := range decls {
		v, supplied := vars[d.Name]
		if !supplied || v == nil {
			if d.Required {
				errs = append(errs, fmt.Sprintf("variable %s is required", d.Name))
				continue
			}
			values[d.Name] = d.Default
			continue
		}
		if !matchesType(d.Type, v) {
			errs = append(errs, fmt.Sprintf("variable %s must be of type %s", d.Name, d.Type))
			continue
		}
		values[d.Name] = v
	}

	if len(errs) > 0 {
		return nil, &domain.ValidationError{Errors: errs}
	}
	return values, nil
}

func matchesType(t domain.VariableType, v interface{}) bool {
	switch t {
	case domain.VariableString:
		_, ok := v.(string)
		return ok
	case domain.VariableBoolean:
		_, ok := v.(bool)
		return ok
	case domain.VariableNumber:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
			return true
		}
		return false
	case domain.VariableArray:
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	case domain.VariableObject:
		return reflect.TypeOf(v).Kind() == reflect.Map
	}
	return false
}

// substitute replaces placeholders in a serialized JSON document. A string
// that is exactly one placeholder becomes the JSON encoding of the value, so
// numbers, booleans and collections keep their type. Placeholders embedded in
// longer strings are replaced by the escaped text of the value.
func substitute(doc []byte, values map[string]interface{}) ([]byte, error) {
	var firstErr error

	out := quotedPlaceholder.ReplaceAllFunc(doc, func(m []byte) []byte {
		name := string(quotedPlaceholder.FindSubmatch(m)[1])
		b, err := json.Marshal(values[name])
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("variable %s: %w", name, err)
		}
		return b
	})

	out = placeholder.ReplaceAllFunc(out, func(m []byte) []byte {
		name := string(placeholder.FindSubmatch(m)[1])
		v := values[name]
		if v == nil {
			return nil
		}
		var text string
		if s, ok := v.(string); ok {
			text = s
		} else {
			b, err := json.Marshal(v)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("variable %s: %w", name, err)
			}
			text = string(b)
		}
		quoted, _ := json.Marshal(text)
		return quoted[1 : len(quoted)-1]
	})

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
