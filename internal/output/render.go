package output

import (
	"bytes"
	"embed"
	"fmt"
	"math"
	"strings"
	"text/template"

	"github.com/ShayCichocki/explainit/pkg/models"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var pages = template.Must(
	template.New("pages").
		Funcs(template.FuncMap{
			"join":     strings.Join,
			"inc":      func(i int) int { return i + 1 },
			"indent":   func(depth int) string { return strings.Repeat("  ", depth) },
			"humanize": func(s string) string { return strings.ReplaceAll(s, "_", " ") },
		}).
		ParseFS(templateFS, "templates/*.tmpl"),
)

// WordsPerMinute is the reading speed used for reading-time estimates.
const WordsPerMinute = 200

type pageData struct {
	Title       string
	Explanation *models.Explanation
}

// tocEntry is a line in the index table of contents.
type tocEntry struct {
	Title string
	Path  string
	Depth int
}

type indexData struct {
	Topic       string
	Explanation *models.Explanation
	Contents    []tocEntry
	Incomplete  []string
	Generating  bool
}

// RenderPage renders the markdown page for an explained concept.
func RenderPage(title string, e *models.Explanation) (string, error) {
	return render("page.md.tmpl", pageData{Title: title, Explanation: e})
}

func renderIndex(data indexData) (string, error) {
	return render("index.md.tmpl", data)
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return collapseBlankLines(buf.String()), nil
}

// collapseBlankLines squeezes runs of blank lines left by optional sections.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		isBlank := strings.TrimSpace(line) == ""
		if isBlank && blank {
			continue
		}
		blank = isBlank
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n")) + "\n"
}

// CountWords counts whitespace-separated words.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// ReadingTime formats the estimated reading time for a word count.
func ReadingTime(words int) string {
	minutes := int(math.Ceil(float64(words) / WordsPerMinute))
	return fmt.Sprintf("%d min read", minutes)
}
