// internal/delivery/fanout_test.go
package delivery

import (
	"errors"
	"fmt"
	"testing"

	"github.com/user/photostream/pkg/photostream"
)

type callLog struct {
	name  string
	calls *[]string
}

func (c callLog) add(s string) { *c.calls = append(*c.calls, c.name+":"+s) }
func (c callLog) OnConnect() { c.add("connect") }
func (c callLog) OnDisconnect(err error) {
	c.add(fmt.Sprintf("disconnect:%v", err))
}
func (c callLog) OnNewPhoto(p photostream.Photo) { c.add(fmt.Sprintf("photo:%d", p.ID)) }
func (c callLog) OnNewComment(cm photostream.Comment) { c.add(fmt.Sprintf("comment:%d", cm.ID)) }
func (c callLog) OnCommentDeleted(id int) { c.add(fmt.Sprintf("comment_deleted:%d", id)) }
func (c callLog) OnPhotoDeleted(id int) { c.add(fmt.Sprintf("photo_deleted:%d", id)) }
func (c callLog) OnCommentCountChanged(id, n int) { c.add(fmt.Sprintf("count:%d:%d", id, n)) }

type failureLog struct{ callLog }

func (f failureLog) OnImageFailed(p photostream.Photo, err error) {
	f.add(fmt.Sprintf("failed:%d:%v", p.ID, err))
}

type panicky struct{ callLog }

func (panicky) OnPhotoDeleted(int) { panic("boom") }

func TestFanoutDeliversInNameOrder(t *testing.T) {
	var calls []string
	f := NewFanout(nil)
	f.Add("zeta", callLog{"zeta", &calls})
	f.Add("alpha", callLog{"alpha", &calls})

	f.OnConnect()
	f.OnNewPhoto(photostream.Photo{ID: 1})

	want := []string{"alpha:connect", "zeta:connect", "alpha:photo:1", "zeta:photo:1"}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, calls)
	}
}

func TestFanoutEveryEvent(t *testing.T) {
	var calls []string
	f := NewFanout(nil)
	f.Add("a", callLog{"a", &calls})

	f.OnDisconnect(nil)
	f.OnNewComment(photostream.Comment{ID: 2})
	f.OnCommentDeleted(2)
	f.OnPhotoDeleted(3)
	f.OnCommentCountChanged(3, 4)

	want := []string{"a:disconnect:<nil>", "a:comment:2", "a:comment_deleted:2", "a:photo_deleted:3", "a:count:3:4"}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, calls)
	}
}

func TestFanoutImageFailedOnlyReachesFailureListeners(t *testing.T) {
	var calls []string
	f := NewFanout(nil)
	f.Add("plain", callLog{"plain", &calls})
	f.Add("aware", failureLog{callLog{"aware", &calls}})

	f.OnImageFailed(photostream.Photo{ID: 8}, errors.New("gone"))

	want := []string{"aware:failed:8:gone"}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, calls)
	}
}

func TestFanoutAddReplaceRemove(t *testing.T) {
	var calls []string
	f := NewFanout(nil)
	f.Add("a", callLog{"first", &calls})
	f.Add("a", callLog{"second", &calls})
	f.Add("b", callLog{"b", &calls})

	if got := f.Names(); fmt.Sprint(got) != "[a b]" {
		t.Errorf("expected [a b], got %v", got)
	}

	f.Remove("b")
	f.Remove("missing")
	f.OnConnect()

	want := []string{"second:connect"}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, calls)
	}
}

func TestFanoutRecoversFromPanics(t *testing.T) {
	var calls []string
	f := NewFanout(nil)
	f.Add("a", panicky{callLog{"a", &calls}})
	f.Add("b", callLog{"b", &calls})

	f.OnPhotoDeleted(5)

	want := []string{"b:photo_deleted:5"}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, calls)
	}
}
