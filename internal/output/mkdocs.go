// Package output writes generated concept pages as an MkDocs site.
//
// Pages are written incrementally as nodes complete so an interrupted run
// still leaves readable output. Finalize rewrites the index, every finished
// page and the navigation once the whole tree has settled.
package output

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/explainit/pkg/models"
)

// IndexPath is the docs-relative path of the root page.
const IndexPath = "index.md"

// Page is a rendered concept page.
type Page struct {
	Title string
	// Path is relative to the docs directory, using forward slashes.
	Path    string
	Content string
}

// Stats summarizes a finalized site.
type Stats struct {
	Pages       int
	WordCount   int
	ReadingTime string
	// Incomplete lists concepts that have no page.
	Incomplete []string
}

// Site is the result of Finalize.
type Site struct {
	Index string
	Pages []Page
	Stats Stats
}

// MkDocs writes pages under <dir>/docs and the site config to <dir>/mkdocs.yml.
type MkDocs struct {
	dir    string
	logger *zap.Logger
}

// Option configures MkDocs.
type Option func(*MkDocs)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *MkDocs) { m.logger = l }
}

// NewMkDocs creates a site writer rooted at dir.
func NewMkDocs(dir string, opts ...Option) *MkDocs {
	m := &MkDocs{dir: dir, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the site root.
func (m *MkDocs) Dir() string {
	return m.dir
}

// DocsDir returns the directory holding markdown pages.
func (m *MkDocs) DocsDir() string {
	return filepath.Join(m.dir, "docs")
}

// ConfigPath returns the mkdocs.yml path.
func (m *MkDocs) ConfigPath() string {
	return filepath.Join(m.dir, "mkdocs.yml")
}

// Scaffold creates the docs tree, a placeholder index and an initial config.
// An existing index is left alone so resumed runs keep their output.
func (m *MkDocs) Scaffold(topic string) error {
	if err := os.MkdirAll(filepath.Join(m.DocsDir(), "assets"), 0755); err != nil {
		return fmt.Errorf("create docs directory: %w", err)
	}

	index := filepath.Join(m.DocsDir(), IndexPath)
	if _, err := os.Stat(index); errors.Is(err, fs.ErrNotExist) {
		placeholder := fmt.Sprintf("# %s\n\nDocumentation being generated...\n", topic)
		if err := os.WriteFile(index, []byte(placeholder), 0644); err != nil {
			return fmt.Errorf("write placeholder index: %w", err)
		}
	}

	return m.writeConfig(topic, []navItem{{"Home": IndexPath}})
}

// WritePage writes the page for a node that has an explanation.
// The root node (path index.md) gets a preview index.
func (m *MkDocs) WritePage(node *models.ConceptNode) error {
	if node == nil || node.Explanation == nil {
		return nil
	}
	rel := pagePath(node)

	var content string
	var err error
	if rel == IndexPath {
		content, err = renderIndex(indexData{Topic: node.Name, Explanation: node.Explanation, Generating: true})
	} else {
		content, err = RenderPage(node.Name, node.Explanation)
	}
	if err != nil {
		return err
	}
	if err := m.write(rel, content); err != nil {
		return err
	}
	m.logger.Debug("page written", zap.String("concept", node.Name), zap.String("path", rel))
	return nil
}

// Finalize renders the final index and pages, removes pages of failed nodes
// and writes the navigation.
func (m *MkDocs) Finalize(topic string, root *models.ConceptNode) (*Site, error) {
	if root == nil {
		return nil, errors.New("finalize site: nil root")
	}

	var (
		site       Site
		contents   []tocEntry
		incomplete []string
	)

	var walkErr error
	root.Walk(func(node *models.ConceptNode, depth int) bool {
		if walkErr != nil {
			return false
		}
		if node == root {
			return true
		}
		rel := pagePath(node)

		if node.Status != models.NodeStatusDone || node.Explanation == nil {
			incomplete = append(incomplete, node.Name)
			if node.Status == models.NodeStatusFailed {
				if err := m.remove(rel); err != nil {
					m.logger.Warn("remove failed page", zap.String("path", rel), zap.Error(err))
				}
			}
			return true
		}

		content, err := RenderPage(node.Name, node.Explanation)
		if err != nil {
			walkErr = err
			return false
		}
		if err := m.write(rel, content); err != nil {
			walkErr = err
			return false
		}
		site.Pages = append(site.Pages, Page{Title: node.Name, Path: rel, Content: content})
		contents = append(contents, tocEntry{Title: node.Name, Path: rel, Depth: depth - 1})
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	if root.Status != models.NodeStatusDone {
		incomplete = append([]string{root.Name}, incomplete...)
	}

	index, err := renderIndex(indexData{
		Topic:       topic,
		Explanation: root.Explanation,
		Contents:    contents,
		Incomplete:  incomplete,
	})
	if err != nil {
		return nil, err
	}
	if err := m.write(IndexPath, index); err != nil {
		return nil, err
	}
	site.Index = index

	nav := append([]navItem{{"Overview": IndexPath}}, buildNav(site.Pages)...)
	if err := m.writeConfig(topic, []navItem{{"Home": nav}}); err != nil {
		return nil, err
	}

	words := CountWords(index)
	for _, p := range site.Pages {
		words += CountWords(p.Content)
	}
	site.Stats = Stats{
		Pages:       len(site.Pages),
		WordCount:   words,
		ReadingTime: ReadingTime(words),
		Incomplete:  incomplete,
	}

	m.logger.Info("site finalized",
		zap.String("dir", m.dir),
		zap.Int("pages", site.Stats.Pages),
		zap.Int("words", words))
	return &site, nil
}

// ReadPage returns the markdown for a docs-relative page path.
func (m *MkDocs) ReadPage(rel string) (string, error) {
	data, err := os.ReadFile(m.abs(rel))
	if err != nil {
		return "", fmt.Errorf("read page %s: %w", rel, err)
	}
	return string(data), nil
}

// ListPages returns the docs-relative paths of all markdown pages, sorted in
// section order.
func (m *MkDocs) ListPages() ([]string, error) {
	var out []string
	err := filepath.WalkDir(m.DocsDir(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		rel, err := filepath.Rel(m.DocsDir(), p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	sortSectionPaths(out)
	return out, nil
}

func pagePath(node *models.ConceptNode) string {
	if node.RelativeOutputPath == "" {
		return IndexPath
	}
	return path.Clean(node.RelativeOutputPath)
}

func (m *MkDocs) abs(rel string) string {
	return filepath.Join(m.DocsDir(), filepath.FromSlash(rel))
}

func (m *MkDocs) write(rel, content string) error {
	full := m.abs(rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create page directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return fmt.Errorf("write page %s: %w", rel, err)
	}
	return nil
}

// remove deletes a page and its directory when that leaves it empty.
func (m *MkDocs) remove(rel string) error {
	full := m.abs(rel)
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	dir := filepath.Dir(full)
	if dir == m.DocsDir() {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return nil
	}
	return os.Remove(dir)
}
