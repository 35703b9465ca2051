package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/explainit/internal/output"
	"github.com/ShayCichocki/explainit/internal/state"
)

var (
	showList  bool
	showRaw   bool
	showWidth int
)

var showCmd = &cobra.Command{
	Use:   "show <session-id> [page]",
	Short: "Render a generated page in the terminal",
	Long: `Render a page of a session's MkDocs site in the terminal.

Without a page the overview (index.md) is shown. Pages are docs-relative
paths such as 1_variables/index.md; use --list to see them all.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runShow,
}

func init() {
	showCmd.Flags().BoolVarP(&showList, "list", "l", false, "List the session's pages")
	showCmd.Flags().BoolVar(&showRaw, "raw", false, "Print the markdown without rendering")
	showCmd.Flags().IntVarP(&showWidth, "width", "w", 100, "Word wrap width")
}

func runShow(cmd *cobra.Command, args []string) error {
	var sess *state.Session
	err := withRegistry(func(r *state.Registry) error {
		var err error
		sess, err = r.GetSession(args[0])
		return err
	})
	if err != nil {
		return err
	}

	site := output.NewMkDocs(sess.FolderPath)
	out := cmd.OutOrStdout()

	if showList {
		pages, err := site.ListPages()
		if err != nil {
			return err
		}
		for _, p := range pages {
			fmt.Fprintln(out, p)
		}
		return nil
	}

	page := output.IndexPath
	if len(args) == 2 {
		page = normalizePage(args[1])
	}
	content, err := site.ReadPage(page)
	if err != nil {
		return fmt.Errorf("%w (use --list to see available pages)", err)
	}

	if showRaw {
		fmt.Fprint(out, content)
		return nil
	}
	fmt.Fprintln(out, renderMarkdown(content, showWidth))
	return nil
}

// normalizePage accepts a section directory as well as a page path.
func normalizePage(page string) string {
	page = strings.Trim(strings.TrimSpace(page), "/")
	if page == "" {
		return output.IndexPath
	}
	if strings.HasSuffix(page, ".md") {
		return page
	}
	return output.PagePath(page)
}

// renderMarkdown renders content with glamour, falling back to the raw text.
func renderMarkdown(content string, width int) string {
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}
