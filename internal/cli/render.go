// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownRenderer     *glamour.TermRenderer
	markdownRendererOnce sync.Once
)

// renderer returns the shared glamour renderer, or nil if it could not be
// created. Word wrap follows the terminal width at first use.
func renderer() *glamour.TermRenderer {
	markdownRendererOnce.Do(func() {
		width := GetTerminalWidth()
		if width > MaxRenderWidth {
			width = MaxRenderWidth
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width-2),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	return markdownRenderer
}

// renderMarkdown renders markdown for terminal display.
// Returns the original content if rendering fails.
func renderMarkdown(content string) string {
	r := renderer()
	if r == nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// displayReply writes a reply, rendered as markdown when render is set.
// Reasoning, when present and shown, precedes it in the dim style.
func displayReply(w io.Writer, reply, reasoning string, render, showReasoning bool) {
	if showReasoning && strings.TrimSpace(reasoning) != "" {
		fmt.Fprintln(w, DimStyle.Render("Reasoning: "+strings.TrimSpace(reasoning)))
		fmt.Fprintln(w)
	}
	if render {
		fmt.Fprint(w, renderMarkdown(reply))
		return
	}
	fmt.Fprint(w, reply)
	if !strings.HasSuffix(reply, "\n") {
		fmt.Fprintln(w)
	}
}
