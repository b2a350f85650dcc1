package util

import (
	"bytes"
	"strings"
	"text/template"
)

// RenderTemplate expands {{ ... }} template markers in text against the
// provided data map using text/template. Text without markers is returned
// unchanged on the fast path.
func RenderTemplate(text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := template.New("step").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
