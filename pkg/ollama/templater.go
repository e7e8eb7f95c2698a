package ollama

import (
	"bytes"
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"inc":  func(i int) int { return i + 1 },
	"join": strings.Join,
}

// RenderTemplate renders a prompt template with the provided data.
// Templates may use inc and join.
func RenderTemplate(tmpl string, data any) (string, error) {
	tpl, err := template.New("prompt").Funcs(funcs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
