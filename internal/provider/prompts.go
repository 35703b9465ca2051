package provider

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(
	template.New("prompts").
		Funcs(template.FuncMap{
			"json":    toJSON,
			"join":    strings.Join,
			"bullets": bullets,
		}).
		ParseFS(promptFS, "prompts/*.tmpl"),
)

// renderPrompt executes the "<op>.system" and "<op>.user" templates.
func renderPrompt(op string, data any) (system, user string, err error) {
	system, err = execute(op+".system", data)
	if err != nil {
		return "", "", err
	}
	user, err = execute(op+".user", data)
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func bullets(items []string) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}
