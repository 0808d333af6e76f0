package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/user/photostream/pkg/photostream"
)

func TestTextPlainPassesThrough(t *testing.T) {
	assert.Equal(t, "sunset over *the* bay", Text("  sunset over *the* bay \n"))
	assert.Equal(t, "", Text("   "))
}

func TestTextStripsUnsafeHTML(t *testing.T) {
	got := Text(`<p>Hello <b>world</b></p><script>alert("x")</script>`)
	assert.Contains(t, got, "Hello")
	assert.Contains(t, got, "**world**")
	assert.NotContains(t, got, "script")
	assert.NotContains(t, got, "alert")
}

func TestTextKeepsLinks(t *testing.T) {
	got := Text(`see <a href="https://example.test/p/1" onclick="evil()">this</a>`)
	assert.Contains(t, got, "[this](https://example.test/p/1)")
	assert.NotContains(t, got, "onclick")
}

func TestLineCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "one two three", Line("one\n\ntwo   three"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "äö…", Truncate("äöüß", 3), "counts runes")
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestPhotoLine(t *testing.T) {
	p := photostream.Photo{
		ID:           42,
		Description:  "harbour at <i>dawn</i>",
		Uploader:     "mara",
		CommentCount: 2,
		CreatedAt:    photostream.Timestamp{Time: time.Date(2024, 3, 1, 6, 5, 0, 0, time.UTC)},
	}
	got := PhotoLine(p)
	assert.True(t, strings.HasPrefix(got, "photo #42 "), got)
	assert.Contains(t, got, "dawn")
	assert.Contains(t, got, "by mara")
	assert.Contains(t, got, "(2 comments)")
	assert.Contains(t, got, "at 2024-03-01 06:05")

	assert.Equal(t, "photo #7 (1 comment)", PhotoLine(photostream.Photo{ID: 7, CommentCount: 1}))
}

func TestCommentLine(t *testing.T) {
	got := CommentLine(photostream.Comment{ID: 9, PhotoID: 3, Message: "so\nnice"})
	assert.Equal(t, "comment #9 on photo #3: so nice", got)
}

func TestCaption(t *testing.T) {
	got := Caption(photostream.Photo{ID: 5, Uploader: "li", Description: "first light"})
	assert.Equal(t, "*New photo #5* by li\n\nfirst light", got)
	assert.Equal(t, "*New photo #6*", Caption(photostream.Photo{ID: 6}))
}
