package output

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// navItem is a single-key mapping in the mkdocs nav list.
// The value is either a page path or a nested []navItem.
type navItem map[string]any

type mkdocsConfig struct {
	SiteName           string    `yaml:"site_name"`
	Theme              theme     `yaml:"theme"`
	MarkdownExtensions []any     `yaml:"markdown_extensions"`
	Nav                []navItem `yaml:"nav"`
}

type theme struct {
	Name     string   `yaml:"name"`
	Palette  []any    `yaml:"palette,omitempty"`
	Features []string `yaml:"features"`
}

// pythonName is a yaml scalar carrying the !!python/name tag mkdocs uses to
// reference Python callables.
func pythonName(name string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!python/name:" + name, Value: ""}
}

func defaultConfig(topic string, nav []navItem) mkdocsConfig {
	return mkdocsConfig{
		SiteName: topic + " - Explained",
		Theme: theme{
			Name: "material",
			Palette: []any{
				map[string]any{
					"media": "(prefers-color-scheme: light)", "scheme": "default",
					"primary": "indigo", "accent": "indigo",
					"toggle": map[string]string{"icon": "material/brightness-7", "name": "Switch to dark mode"},
				},
				map[string]any{
					"media": "(prefers-color-scheme: dark)", "scheme": "slate",
					"primary": "indigo", "accent": "indigo",
					"toggle": map[string]string{"icon": "material/brightness-4", "name": "Switch to light mode"},
				},
			},
			Features: []string{
				"navigation.expand",
				"navigation.sections",
				"navigation.top",
				"navigation.footer",
				"content.code.copy",
			},
		},
		MarkdownExtensions: []any{
			map[string]any{"pymdownx.highlight": map[string]any{"anchor_linenums": true}},
			"pymdownx.inlinehilite",
			"pymdownx.snippets",
			map[string]any{"pymdownx.superfences": map[string]any{
				"custom_fences": []any{map[string]any{
					"name":   "mermaid",
					"class":  "mermaid",
					"format": pythonName("pymdownx.superfences.fence_code_format"),
				}},
			}},
			"admonition",
			"def_list",
			"attr_list",
			"md_in_html",
		},
		Nav: nav,
	}
}

func (m *MkDocs) writeConfig(topic string, nav []navItem) error {
	data, err := yaml.Marshal(defaultConfig(topic, nav))
	if err != nil {
		return fmt.Errorf("marshal mkdocs config: %w", err)
	}
	if err := os.WriteFile(m.ConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("write mkdocs config: %w", err)
	}
	return nil
}

type navNode struct {
	page     Page
	children []*navNode
}

// buildNav nests pages by directory. A page whose directory is inside
// another page's directory becomes its child; branch pages get an Overview entry.
func buildNav(pages []Page) []navItem {
	byDir := make(map[string]*navNode, len(pages))
	dirs := make([]string, 0, len(pages))
	for _, p := range pages {
		dir := path.Dir(p.Path)
		byDir[dir] = &navNode{page: p}
		dirs = append(dirs, dir)
	}
	sortSectionPaths(dirs)

	var roots []*navNode
	for _, dir := range dirs {
		node := byDir[dir]
		parent := nearestParent(byDir, dir)
		if parent != nil {
			parent.children = append(parent.children, node)
		} else {
			roots = append(roots, node)
		}
	}

	items := make([]navItem, 0, len(roots))
	for _, r := range roots {
		items = append(items, r.item())
	}
	return items
}

func nearestParent(byDir map[string]*navNode, dir string) *navNode {
	for p := path.Dir(dir); p != "." && p != "/"; p = path.Dir(p) {
		if n, ok := byDir[p]; ok {
			return n
		}
	}
	return nil
}

func (n *navNode) item() navItem {
	if len(n.children) == 0 {
		return navItem{n.page.Title: n.page.Path}
	}
	children := []navItem{{"Overview": n.page.Path}}
	for _, c := range n.children {
		children = append(children, c.item())
	}
	return navItem{n.page.Title: children}
}

// sortSectionPaths orders paths so numeric runs compare by value
// (2_x before 10_x).
func sortSectionPaths(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		return naturalLess(paths[i], paths[j])
	})
}

func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		ca, cb := rune(a[0]), rune(b[0])
		if unicode.IsDigit(ca) && unicode.IsDigit(cb) {
			na, ra := leadingNumber(a)
			nb, rb := leadingNumber(b)
			if na != nb {
				return na < nb
			}
			a, b = ra, rb
			continue
		}
		if ca != cb {
			return ca < cb
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func leadingNumber(s string) (int, string) {
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	if end < 0 {
		end = len(s)
	}
	n, _ := strconv.Atoi(s[:end])
	return n, s[end:]
}
