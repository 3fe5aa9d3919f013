package theme

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/compresr/theme-registry/internal/callables"
	"github.com/compresr/theme-registry/internal/pipes"
)

// Default processor names. Every template-backed module hook gets them.
var (
	TemplatePreprocess = callables.PhaseName("template", pipes.PhasePreprocess)
	TemplateProcess    = callables.PhaseName("template", pipes.PhaseProcess)
)

// Attribute array keys set by template defaults and flattened by template_process.
var attributeKeys = [][2]string{
	{"attributes_array", "attributes"},
	{"title_attributes_array", "title_attributes"},
	{"content_attributes_array", "content_attributes"},
}

// AttributeRenderer turns an attribute map into an HTML attribute string.
type AttributeRenderer interface {
	Attributes(attrs map[string]any) string
}

// HTMLAttributes renders attributes as ` name="value"` pairs, sorted by name.
// Slice values are joined with spaces. Names and values are escaped.
type HTMLAttributes struct{}

// Attributes implements AttributeRenderer.
func (HTMLAttributes) Attributes(attrs map[string]any) string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(" ")
		b.WriteString(html.EscapeString(name))
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(attributeValue(attrs[name])))
		b.WriteString(`"`)
	}
	return b.String()
}

func attributeValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, " ")
	case []any:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, " ")
	}
	return fmt.Sprint(v)
}

var invalidClassChars = regexp.MustCompile(`[^\x{002D}\x{0030}-\x{0039}\x{0041}-\x{005A}\x{005F}\x{0061}-\x{007A}\x{00A1}-\x{FFFF}]`)

// HTMLClass converts s into a valid CSS class name.
func HTMLClass(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(" ", "-", "_", "-", "/", "-", "[", "-", "]", "").Replace(s)
	return invalidClassChars.ReplaceAllString(s, "")
}

// templatePreprocess sets the baseline variables every template may expect.
// Counters are per request, taken from the DispatchContext in ctx.
func templatePreprocess(ctx context.Context, vars *pipes.Variables, hook string) {
	count := 1
	if dc := DispatchContextFrom(ctx); dc != nil {
		count = dc.nextCount(hook)
	}
	zebra := "even"
	if count%2 == 1 {
		zebra = "odd"
	}
	vars.Set("zebra", zebra)
	vars.Set("id", count)
	vars.Set(pipes.KeyDirectory, pipes.ThemePathFromContext(ctx))
	vars.Set("classes_array", []any{HTMLClass(hook)})
	for _, keys := range attributeKeys {
		vars.Set(keys[0], map[string]any{})
	}
	vars.Set("title_prefix", []any{})
	vars.Set("title_suffix", []any{})
	vars.ResetSuggestions()
}

// templateProcess flattens classes and attribute arrays into strings.
func templateProcess(attrs AttributeRenderer) pipes.Processor {
	return func(_ context.Context, vars *pipes.Variables, _ string) {
		vars.Set("classes", attributeValue(listValue(vars, "classes_array")))
		for _, keys := range attributeKeys {
			m, _ := mapValue(vars, keys[0])
			if len(m) == 0 {
				vars.Set(keys[1], "")
				continue
			}
			vars.Set(keys[1], attrs.Attributes(m))
		}
	}
}

func listValue(vars *pipes.Variables, key string) []any {
	v, _ := vars.Get(key)
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return []any{}
}

func mapValue(vars *pipes.Variables, key string) (map[string]any, bool) {
	v, ok := vars.Get(key)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// RegisterDefaults registers template_preprocess and template_process.
func RegisterDefaults(reg *callables.Registry, attrs AttributeRenderer) {
	if attrs == nil {
		attrs = HTMLAttributes{}
	}
	reg.RegisterProcessor(TemplatePreprocess, templatePreprocess)
	reg.RegisterProcessor(TemplateProcess, templateProcess(attrs))
}
