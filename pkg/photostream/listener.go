package photostream

// Listener receives decoded stream notifications. A Channel invokes every
// method through its Dispatcher, never on the transport goroutine.
type Listener interface {
	OnConnect()
	// OnDisconnect reports a lost connection. err is nil for a clean close.
	OnDisconnect(err error)
	// OnNewPhoto is called only after the photo's image is in the cache.
	// A photo whose image could not be fetched or cached is not announced
	// here; it goes to OnImageFailed when the listener implements
	// ImageFailureListener and is otherwise only logged.
	OnNewPhoto(photo Photo)
	OnNewComment(comment Comment)
	OnCommentDeleted(commentID int)
	OnPhotoDeleted(photoID int)
	OnCommentCountChanged(photoID, count int)
}

// ImageFailureListener is implemented by listeners that want to hear about
// new photos whose image could not be fetched or cached.
type ImageFailureListener interface {
	OnImageFailed(photo Photo, err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Connect             func()
	Disconnect          func(err error)
	NewPhoto            func(photo Photo)
	NewComment          func(comment Comment)
	CommentDeleted      func(commentID int)
	PhotoDeleted        func(photoID int)
	CommentCountChanged func(photoID, count int)
	ImageFailed         func(photo Photo, err error)
}

var (
	_ Listener             = ListenerFuncs{}
	_ ImageFailureListener = ListenerFuncs{}
)

func (f ListenerFuncs) OnConnect() {
	if f.Connect != nil {
		f.Connect()
	}
}

func (f ListenerFuncs) OnDisconnect(err error) {
	if f.Disconnect != nil {
		f.Disconnect(err)
	}
}

func (f ListenerFuncs) OnNewPhoto(photo Photo) {
	if f.NewPhoto != nil {
		f.NewPhoto(photo)
	}
}

func (f ListenerFuncs) OnNewComment(comment Comment) {
	if f.NewComment != nil {
		f.NewComment(comment)
	}
}

func (f ListenerFuncs) OnCommentDeleted(commentID int) {
	if f.CommentDeleted != nil {
		f.CommentDeleted(commentID)
	}
}

func (f ListenerFuncs) OnPhotoDeleted(photoID int) {
	if f.PhotoDeleted != nil {
		f.PhotoDeleted(photoID)
	}
}

func (f ListenerFuncs) OnCommentCountChanged(photoID, count int) {
	if f.CommentCountChanged != nil {
		f.CommentCountChanged(photoID, count)
	}
}

func (f ListenerFuncs) OnImageFailed(photo Photo, err error) {
	if f.ImageFailed != nil {
		f.ImageFailed(photo, err)
	}
}
