// Package render turns stream payloads into short text for terminals and
// chat messages.
package render

import (
	"fmt"
	"strings"
	"sync"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"

	"github.com/user/photostream/pkg/photostream"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

func ugc() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.UGCPolicy()
		policy.RequireNoFollowOnLinks(false)
		policy.AllowRelativeURLs(true)
	})
	return policy
}

// Text sanitises user supplied HTML and converts it to markdown. Plain text
// is returned trimmed and otherwise unchanged.
func Text(s string) string {
	s = strings.TrimSpace(s)
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	safe := ugc().Sanitize(s)
	md, err := htmltomarkdown.ConvertString(safe)
	if err != nil {
		return strings.TrimSpace(bluemonday.StrictPolicy().Sanitize(s))
	}
	return strings.TrimSpace(md)
}

// Line is Text collapsed onto a single line.
func Line(s string) string {
	return strings.Join(strings.Fields(Text(s)), " ")
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// PhotoLine describes a photo in one line.
func PhotoLine(p photostream.Photo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "photo #%d", p.ID)
	if d := Line(p.Description); d != "" {
		fmt.Fprintf(&b, " %q", d)
	}
	if p.Uploader != "" {
		fmt.Fprintf(&b, " by %s", Line(p.Uploader))
	}
	if p.CommentCount > 0 {
		fmt.Fprintf(&b, " (%s)", plural(p.CommentCount, "comment"))
	}
	if !p.CreatedAt.IsZero() {
		fmt.Fprintf(&b, " at %s", p.CreatedAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}

// CommentLine describes a comment in one line.
func CommentLine(c photostream.Comment) string {
	return fmt.Sprintf("comment #%d on photo #%d: %s", c.ID, c.PhotoID, Line(c.Message))
}

// Caption is the chat caption of a new photo.
func Caption(p photostream.Photo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*New photo #%d*", p.ID)
	if p.Uploader != "" {
		fmt.Fprintf(&b, " by %s", Line(p.Uploader))
	}
	if d := Text(p.Description); d != "" {
		b.WriteString("\n\n")
		b.WriteString(d)
	}
	return b.String()
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
