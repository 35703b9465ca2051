package output

import (
	"path"
	"strconv"

	"github.com/ShayCichocki/explainit/internal/slug"
)

// SectionDir returns the docs-relative directory and section label of the
// index-th (1-based) child of the node at parentDir. Sections chain the
// sibling indices of every ancestor, so "1_2" is the second child of the
// first child of the root.
func SectionDir(parentDir, parentSection string, index int, name string) (dir, section string) {
	section = strconv.Itoa(index)
	if parentSection != "" {
		section = parentSection + "_" + section
	}
	return path.Join(parentDir, section+"_"+slug.Kebab(name)), section
}

// PagePath returns the page written for a node directory. The root has no
// directory and owns IndexPath.
func PagePath(dir string) string {
	if dir == "" {
		return IndexPath
	}
	return path.Join(dir, IndexPath)
}
