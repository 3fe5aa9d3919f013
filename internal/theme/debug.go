package theme

import (
	"html"
	"path/filepath"
	"strings"

	"github.com/compresr/theme-registry/internal/pipes"
	"github.com/compresr/theme-registry/internal/templates"
)

// debugMarkup wraps template output in HTML comments naming the hook, the
// template file names that could override it, and the file used. The file in
// use is marked "x", the others "*".
func debugMarkup(hook, file, ext string, vars *pipes.Variables, out string) string {
	var b strings.Builder
	b.WriteString("\n\n<!-- THEME DEBUG -->")
	b.WriteString("\n<!-- CALL: theme('" + html.EscapeString(hook) + "') -->")

	if suggestions := debugSuggestions(vars); len(suggestions) > 0 {
		current := filepath.Base(file)
		lines := make([]string, len(suggestions))
		for i, s := range suggestions {
			name := templates.FileName(s) + ext
			mark := "*"
			if name == current {
				mark = "x"
			}
			lines[i] = mark + " " + name
		}
		b.WriteString("\n<!-- FILE NAME SUGGESTIONS:\n   ")
		b.WriteString(html.EscapeString(strings.Join(lines, "\n   ")))
		b.WriteString("\n-->")
	}

	b.WriteString("\n<!-- BEGIN OUTPUT from '" + html.EscapeString(file) + "' -->\n")
	b.WriteString(out)
	b.WriteString("\n<!-- END OUTPUT from '" + html.EscapeString(file) + "' -->\n\n")
	return b.String()
}

// debugSuggestions lists candidate hooks most specific first: processor
// suggestions, then the requested hook and its "__" fallbacks.
func debugSuggestions(vars *pipes.Variables) []string {
	out := SuggestionOrder(vars)
	for _, s := range Fallbacks(vars.String(pipes.KeyHookOriginal)) {
		if s != "" {
			out = appendMissing(out, s)
		}
	}
	return out
}

func appendMissing(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}
