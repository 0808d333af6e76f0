package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/photostream/internal/render"
	"github.com/user/photostream/pkg/photostream"
)

const (
	maxTelegramMessage = 4096
	maxTelegramCaption = 1024
	queueSize          = 64
)

// Sender sends one Telegram request. *tgbotapi.BotAPI implements it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ImageSource reads cached image bytes.
type ImageSource interface {
	Image(ctx context.Context, photoID int) ([]byte, error)
}

// StatusFunc reports the listener status for the /status command.
type StatusFunc func() string

// Relay forwards stream notifications to one Telegram chat. Notifications
// are queued and sent by Run so that a slow Bot API never stalls the
// dispatcher; when the queue is full the notification is dropped.
type Relay struct {
	sender Sender
	chatID int64
	images ImageSource
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan tgbotapi.Chattable
}

var (
	_ photostream.Listener             = (*Relay)(nil)
	_ photostream.ImageFailureListener = (*Relay)(nil)
)

// NewBot connects to the Bot API with token.
func NewBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return bot, nil
}

// New creates a relay that posts to chatID. images may be nil, in which
// case new photos are announced as text.
func New(sender Sender, chatID int64, images ImageSource, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		sender: sender,
		chatID: chatID,
		images: images,
		logger: logger.With("component", "telegram"),
		queue:  make(chan tgbotapi.Chattable, queueSize),
	}
}

// Run sends queued messages until ctx ends or Close is called. Messages
// queued before Close are still sent.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-r.queue:
			if !ok {
				return
			}
			r.send(msg)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops accepting notifications.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
}

func (r *Relay) enqueue(msg tgbotapi.Chattable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- msg:
	default:
		r.logger.Warn("relay queue full, dropping notification")
	}
}

func (r *Relay) text(text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(r.chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		r.enqueue(msg)
	}
}

func (r *Relay) send(c tgbotapi.Chattable) {
	_, err := r.sender.Send(c)
	if err == nil {
		return
	}
	r.logger.Debug("send failed, retrying without markdown", "error", err)

	// Retry without markdown if it fails
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		m.ParseMode = ""
		c = m
	case tgbotapi.PhotoConfig:
		m.ParseMode = ""
		c = m
	default:
		return
	}
	if _, err := r.sender.Send(c); err != nil {
		r.logger.Warn("send message error", "error", err)
	}
}

func (r *Relay) OnConnect() {}

func (r *Relay) OnDisconnect(err error) {
	if err != nil {
		r.text(fmt.Sprintf("Stream %v", err))
	}
}

func (r *Relay) OnNewPhoto(photo photostream.Photo) {
	caption := render.Truncate(render.Caption(photo), maxTelegramCaption)
	if r.images == nil {
		r.text(caption)
		return
	}
	data, err := r.images.Image(context.Background(), photo.ID)
	if err != nil {
		r.logger.Warn("read cached image", "photo_id", photo.ID, "error", err)
		r.text(caption)
		return
	}
	msg := tgbotapi.NewPhoto(r.chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("photo-%d", photo.ID),
		Bytes: data,
	})
	msg.Caption = caption
	msg.ParseMode = tgbotapi.ModeMarkdown
	r.enqueue(msg)
}

func (r *Relay) OnNewComment(comment photostream.Comment) {
	r.text(fmt.Sprintf("*Comment on #%d*\n%s", comment.PhotoID, render.Text(comment.Message)))
}

func (r *Relay) OnCommentDeleted(int) {}

func (r *Relay) OnPhotoDeleted(photoID int) {
	r.text(fmt.Sprintf("Photo #%d was deleted", photoID))
}

func (r *Relay) OnCommentCountChanged(int, int) {}

func (r *Relay) OnImageFailed(photo photostream.Photo, err error) {
	r.logger.Info("photo not relayed", "photo_id", photo.ID, "error", err)
}

// HandleUpdates answers bot commands in the relay chat until ctx ends or
// updates is closed.
func (r *Relay) HandleUpdates(ctx context.Context, updates <-chan tgbotapi.Update, status StatusFunc) {
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat == nil || update.Message.Chat.ID != r.chatID {
				continue
			}
			r.handleCommand(update.Message, status)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) handleCommand(msg *tgbotapi.Message, status StatusFunc) {
	switch msg.Command() {
	case "start":
		r.text("New photos and comments from the stream will be posted here.")
	case "status":
		s := "unknown"
		if status != nil {
			s = status()
		}
		r.text(strings.TrimSpace(s))
	default:
		r.text("Unknown command. Available: /start, /status")
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
