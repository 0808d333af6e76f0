// internal/delivery/printer.go
package delivery

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/user/photostream/internal/render"
	"github.com/user/photostream/pkg/photostream"
)

// Printer writes one line per notification, for the listen command's
// terminal output.
type Printer struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

var (
	_ photostream.Listener             = (*Printer)(nil)
	_ photostream.ImageFailureListener = (*Printer)(nil)
)

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, now: time.Now}
}

func (p *Printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s  ", p.now().Format("15:04:05"))
	fmt.Fprintf(p.w, format, args...)
	fmt.Fprintln(p.w)
}

func (p *Printer) OnConnect() { p.printf("connected") }

func (p *Printer) OnDisconnect(err error) {
	if err != nil {
		p.printf("%v", err)
		return
	}
	p.printf("disconnected")
}

func (p *Printer) OnNewPhoto(photo photostream.Photo) {
	p.printf("+ %s", render.PhotoLine(photo))
}

func (p *Printer) OnNewComment(comment photostream.Comment) {
	p.printf("+ %s", render.CommentLine(comment))
}

func (p *Printer) OnCommentDeleted(commentID int) {
	p.printf("- comment #%d", commentID)
}

func (p *Printer) OnPhotoDeleted(photoID int) {
	p.printf("- photo #%d", photoID)
}

func (p *Printer) OnCommentCountChanged(photoID, count int) {
	p.printf("~ photo #%d now has %d comments", photoID, count)
}

func (p *Printer) OnImageFailed(photo photostream.Photo, err error) {
	p.printf("! photo #%d skipped: %v", photo.ID, err)
}
