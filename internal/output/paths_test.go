package output

import "testing"

func TestSectionDir(t *testing.T) {
	dir, section := SectionDir("", "", 1, "Variables")
	if dir != "1_variables" || section != "1" {
		t.Errorf("root child = %q, %q", dir, section)
	}

	dir, section = SectionDir(dir, section, 2, "Block Scope")
	if dir != "1_variables/1_2_block-scope" || section != "1_2" {
		t.Errorf("nested child = %q, %q", dir, section)
	}
}

func TestPagePath(t *testing.T) {
	if got := PagePath(""); got != IndexPath {
		t.Errorf("PagePath(\"\") = %q", got)
	}
	if got := PagePath("1_variables"); got != "1_variables/index.md" {
		t.Errorf("PagePath = %q", got)
	}
}
