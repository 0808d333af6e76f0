package photostream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/photostream/internal/metrics"
	"github.com/user/photostream/internal/retry"
)

var (
	// ErrImageNotFound reports that the image host answered 404.
	ErrImageNotFound = errors.New("image not found")
	// ErrNoImage reports that the loader produced no result for a photo.
	ErrNoImage = errors.New("no image result")
	// ErrImageTooLarge reports an image body above the loader's limit.
	ErrImageTooLarge = errors.New("image too large")
)

// HTTPImage is the outcome of one image fetch. Exactly one of Data,
// NotFound and Err describes the result.
type HTTPImage struct {
	Photo    Photo
	Data     []byte
	NotFound bool
	Err      error
}

// ImageLoader fetches images over HTTP and hands completed results to a
// single consumer.
type ImageLoader interface {
	// Execute begins fetching one image per photo. An empty slice is a no-op.
	Execute(ctx context.Context, photos []Photo)
	// Take blocks until the next result is available and returns it. It
	// returns nil when no work is outstanding or ctx ends.
	Take(ctx context.Context) *HTTPImage
	// IsRunning reports whether any result is pending or unconsumed.
	IsRunning() bool
}

const (
	defaultMaxImageBytes = 20 << 20
	defaultLoaderWorkers = 2
)

var _ ImageLoader = (*HTTPImageLoader)(nil)

// HTTPImageLoader is an ImageLoader backed by net/http. Completed results
// are handed over through a one-element slot, so at most one finished
// result waits for Take at any time.
type HTTPImageLoader struct {
	client    *http.Client
	base      *url.URL
	header    http.Header
	sem       *semaphore.Weighted
	policy    *retry.Policy
	maxBytes  int64
	userAgent string
	logger    *slog.Logger

	slot    chan slotted
	mu      sync.Mutex
	pending int
	idle    chan struct{}
}

// slotted is a finished result together with the context of the Execute
// that started it.
type slotted struct {
	ctx context.Context
	res *HTTPImage
}

// LoaderOption configures an HTTPImageLoader.
type LoaderOption func(*HTTPImageLoader)

// WithHTTPClient sets the client used for image requests.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *HTTPImageLoader) { l.client = c }
}

// WithMaxConcurrent bounds the number of fetches in flight.
func WithMaxConcurrent(n int) LoaderOption {
	return func(l *HTTPImageLoader) {
		if n > 0 {
			l.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithRetryPolicy sets the backoff applied to transient fetch failures.
func WithRetryPolicy(p *retry.Policy) LoaderOption {
	return func(l *HTTPImageLoader) { l.policy = p }
}

// WithMaxImageBytes caps the accepted image body size.
func WithMaxImageBytes(n int64) LoaderOption {
	return func(l *HTTPImageLoader) { l.maxBytes = n }
}

// WithRequestHeader adds a header to every image request.
func WithRequestHeader(key, value string) LoaderOption {
	return func(l *HTTPImageLoader) { l.header.Add(key, value) }
}

// WithLoaderLogger sets the logger for fetch outcomes.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *HTTPImageLoader) { l.logger = logger }
}

// NewHTTPImageLoader creates a loader. baseURL resolves relative image URLs
// and builds <base>/photostream/image/<id> for photos without one; it may
// be empty when every photo carries an absolute ImageURL.
func NewHTTPImageLoader(baseURL string, opts ...LoaderOption) (*HTTPImageLoader, error) {
	l := &HTTPImageLoader{
		client:    &http.Client{Timeout: 30 * time.Second},
		header:    make(http.Header),
		sem:       semaphore.NewWeighted(defaultLoaderWorkers),
		policy:    retry.DefaultPolicy(),
		maxBytes:  defaultMaxImageBytes,
		userAgent: "photostream/1.0",
		logger:    slog.Default(),
		slot:      make(chan slotted, 1),
	}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse image base url: %w", err)
		}
		if !u.IsAbs() {
			return nil, fmt.Errorf("image base url %q is not absolute", baseURL)
		}
		l.base = u
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// ImageURL returns the URL the loader requests for photo.
func (l *HTTPImageLoader) ImageURL(photo Photo) (string, error) {
	if photo.ImageURL != "" {
		u, err := url.Parse(photo.ImageURL)
		if err != nil {
			return "", fmt.Errorf("parse image url: %w", err)
		}
		if u.IsAbs() {
			return u.String(), nil
		}
		if l.base == nil {
			return "", fmt.Errorf("relative image url %q without base url", photo.ImageURL)
		}
		return l.base.ResolveReference(u).String(), nil
	}
	if l.base == nil {
		return "", fmt.Errorf("photo %d has no image url", photo.ID)
	}
	return l.base.JoinPath("photostream", "image", strconv.Itoa(photo.ID)).String(), nil
}

// add adjusts the outstanding count. Caller must hold l.mu.
func (l *HTTPImageLoader) add(n int) {
	if l.pending == 0 && n > 0 {
		l.idle = make(chan struct{})
	}
	l.pending += n
	if l.pending == 0 && l.idle != nil {
		close(l.idle)
		l.idle = nil
	}
}

// Execute starts one fetch per photo. Results are delivered in completion
// order.
func (l *HTTPImageLoader) Execute(ctx context.Context, photos []Photo) {
	if len(photos) == 0 {
		return
	}
	l.mu.Lock()
	l.add(len(photos))
	l.mu.Unlock()

	for _, photo := range photos {
		go l.run(ctx, photo)
	}
}

func (l *HTTPImageLoader) run(ctx context.Context, photo Photo) {
	var res *HTTPImage
	if err := l.sem.Acquire(ctx, 1); err != nil {
		res = &HTTPImage{Photo: photo, Err: fmt.Errorf("wait for fetch slot: %w", err)}
	} else {
		res = l.fetch(ctx, photo)
		l.sem.Release(1)
	}

	if ctx.Err() == nil {
		select {
		case l.slot <- slotted{ctx: ctx, res: res}:
			return
		case <-ctx.Done():
		}
	}
	// Nobody waits for a cancelled fetch.
	l.mu.Lock()
	l.add(-1)
	l.mu.Unlock()
}

func (l *HTTPImageLoader) fetch(ctx context.Context, photo Photo) *HTTPImage {
	res := &HTTPImage{Photo: photo}
	target, err := l.ImageURL(photo)
	if err != nil {
		res.Err = err
		return res
	}

	start := time.Now()
	err = l.policy.Execute(ctx, func(ctx context.Context) error {
		data, notFound, err := l.get(ctx, target)
		if err != nil {
			return err
		}
		res.Data, res.NotFound = data, notFound
		return nil
	})

	outcome := metrics.OutcomeOK
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
		res.Err = fmt.Errorf("fetch image for photo %d: %w", photo.ID, err)
		l.logger.Warn("image fetch failed", "photo_id", photo.ID, "url", target, "error", err)
	case res.NotFound:
		outcome = metrics.OutcomeNotFound
		l.logger.Info("image not found", "photo_id", photo.ID, "url", target)
	default:
		l.logger.Debug("image fetched", "photo_id", photo.ID, "bytes", len(res.Data), "duration", time.Since(start))
	}
	metrics.ImageFetched(outcome, time.Since(start))
	return res
}

func (l *HTTPImageLoader) get(ctx context.Context, target string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", l.userAgent)
	for k, vs := range l.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, false, &retry.StatusError{Code: resp.StatusCode, URL: target}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, false, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > l.maxBytes {
		return nil, false, retry.Permanent(fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, l.maxBytes))
	}
	return body, false, nil
}

// Take returns the next completed result, waiting for one if work is still
// outstanding. Results whose Execute context has ended are discarded, so a
// result abandoned by an earlier Take never reaches a later one.
func (l *HTTPImageLoader) Take(ctx context.Context) *HTTPImage {
	for {
		l.mu.Lock()
		if l.pending == 0 {
			l.mu.Unlock()
			return nil
		}
		idle := l.idle
		l.mu.Unlock()

		select {
		case item := <-l.slot:
			l.mu.Lock()
			l.add(-1)
			l.mu.Unlock()
			if item.ctx.Err() != nil {
				l.logger.Debug("discarding abandoned image result", "photo_id", item.res.Photo.ID)
				continue
			}
			return item.res
		case <-idle:
		case <-ctx.Done():
			return nil
		}
	}
}

// IsRunning reports whether results are pending or waiting in the slot.
func (l *HTTPImageLoader) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending > 0
}
