package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/user/photostream/internal/config"
	"github.com/user/photostream/pkg/photostream"
)

// openCache opens the configured cache backend. The returned close func is
// never nil.
func openCache(ctx context.Context, cfg *config.Config) (photostream.CacheStore, func(), error) {
	dir := cfg.CacheDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create cache dir: %w", err)
	}
	switch cfg.Cache.Backend {
	case "sqlite":
		c, err := photostream.OpenSQLiteCache(ctx, cfg.CacheDBPath())
		if err != nil {
			return nil, nil, err
		}
		return c, func() {
			if err := c.Close(); err != nil {
				slog.Warn("close cache", "error", err)
			}
		}, nil
	default:
		return photostream.NewFileCache(dir), func() {}, nil
	}
}

func requestHeader(cfg *config.Config) http.Header {
	h := make(http.Header, len(cfg.Endpoint.Headers))
	for k, v := range cfg.Endpoint.Headers {
		h.Set(k, v)
	}
	return h
}

// newLoader builds the image loader. Image requests use the endpoint's
// trust settings and carry its request headers.
func newLoader(cfg *config.Config, logger *slog.Logger) (*photostream.HTTPImageLoader, error) {
	tlsCfg, err := cfg.Endpoint.Trust.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("build tls config: %w", err)
	}
	// Images may be served from another host than the stream.
	tlsCfg.ServerName = ""

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	client := &http.Client{Timeout: cfg.ImageTimeout(), Transport: transport}

	opts := []photostream.LoaderOption{
		photostream.WithHTTPClient(client),
		photostream.WithMaxConcurrent(cfg.Images.MaxConcurrent),
		photostream.WithRetryPolicy(cfg.ImagePolicy()),
		photostream.WithLoaderLogger(logger),
	}
	for k, v := range cfg.Endpoint.Headers {
		opts = append(opts, photostream.WithRequestHeader(k, v))
	}
	return photostream.NewHTTPImageLoader(imageBase(cfg), opts...)
}

// imageBase is the configured image base URL, or the stream endpoint with
// its scheme mapped to HTTP.
func imageBase(cfg *config.Config) string {
	if cfg.Images.BaseURL != "" {
		return cfg.Images.BaseURL
	}
	u, err := url.Parse(cfg.Endpoint.URL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.RawQuery = ""
	return u.String()
}
