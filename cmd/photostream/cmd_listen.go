package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"github.com/user/photostream/internal/config"
	"github.com/user/photostream/internal/delivery"
	"github.com/user/photostream/internal/scheduler"
	"github.com/user/photostream/internal/server"
	"github.com/user/photostream/internal/state"
	"github.com/user/photostream/internal/telegram"
	"github.com/user/photostream/internal/types"
	"github.com/user/photostream/pkg/photostream"
)

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().Bool("quiet", false, "do not print events to stdout")
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Connect to the stream and follow new photos and comments",
	Args:  cobra.NoArgs,
	RunE:  runListen,
}

func writePIDFile(path string) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

// daemon holds what the status reporters need from a running listener.
type daemon struct {
	cfg     *config.Config
	channel *photostream.Channel
	fanout  *delivery.Fanout
	started time.Time
}

func (d *daemon) status() server.Status {
	return server.Status{
		Connected: d.channel.IsConnected(),
		State:     d.channel.State().String(),
		SessionID: d.channel.SessionID(),
		Endpoint:  d.cfg.Endpoint.URL,
		Listeners: d.fanout.Names(),
		StartedAt: d.started,
	}
}

func (d *daemon) statusText() string {
	st := d.status()
	var b strings.Builder
	fmt.Fprintf(&b, "%s to %s\n", st.State, st.Endpoint)
	if st.SessionID != "" {
		fmt.Fprintf(&b, "session %s\n", st.SessionID.Short())
	}
	fmt.Fprintf(&b, "listeners: %s\n", strings.Join(st.Listeners, ", "))
	fmt.Fprintf(&b, "up %s", time.Since(st.StartedAt).Truncate(time.Second))
	return b.String()
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	quiet, _ := cmd.Flags().GetBool("quiet")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.Default()

	cache, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	loader, err := newLoader(cfg, logger)
	if err != nil {
		return err
	}

	loop := photostream.NewLoop(256)
	loop.Start(ctx)
	defer loop.Stop()

	// Listeners
	fanout := delivery.NewFanout(logger)
	if !quiet {
		fanout.Add("printer", delivery.NewPrinter(os.Stdout))
	}
	journal := state.NewJournal(cfg.DataDir)

	var channel *photostream.Channel
	session := func() types.SessionID {
		if channel == nil {
			return ""
		}
		return channel.SessionID()
	}
	fanout.Add("journal", state.NewRecorder(journal, session, logger))

	channel, err = photostream.New(photostream.ChannelConfig{
		Endpoint:     cfg.Endpoint.URL,
		Options:      cfg.ChannelOptions(),
		Header:       requestHeader(cfg),
		Trust:        cfg.Endpoint.Trust,
		FetchTimeout: cfg.ImageTimeout(),
	}, loader, cache, fanout, loop, photostream.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}
	defer channel.Destroy()

	d := &daemon{cfg: cfg, channel: channel, fanout: fanout, started: time.Now()}

	// Telegram relay
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram.Token)
		if err != nil {
			return err
		}
		relay := telegram.New(bot, cfg.Telegram.ChatID, cache, logger)
		go relay.Run(ctx)
		defer relay.Close()
		fanout.Add("telegram", relay)

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := bot.GetUpdatesChan(u)
		go relay.HandleUpdates(ctx, updates, d.statusText)
		defer bot.StopReceivingUpdates()
		slog.Info("telegram relay started", "chat_id", cfg.Telegram.ChatID)
	} else {
		slog.Debug("telegram relay disabled (no token)")
	}

	// Scheduler
	sched := scheduler.New(logger)
	if maxAge := cfg.MaxAge(); cfg.Cache.PruneSchedule != "" && maxAge > 0 {
		err := sched.Add("cache-prune", cfg.Cache.PruneSchedule, func(ctx context.Context) error {
			n, err := cache.Prune(ctx, time.Now().Add(-maxAge))
			if err != nil {
				return err
			}
			if n > 0 {
				slog.Info("pruned image cache", "removed", n, "max_age", maxAge)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("schedule cache prune: %w", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// Status server
	if cfg.HTTP.Enabled {
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           server.New(cache, journal, d.status, sched.Entries),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("status server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	// Reconnect driver
	reconnect := newReconnector(func() error {
		_, err := channel.Connect()
		return err
	}, cfg.ReconnectPolicy(), logger)
	fanout.Add("reconnect", reconnect.Listener())
	reconnectErr := make(chan error, 1)
	go func() { reconnectErr <- reconnect.Run(ctx) }()

	if _, err := channel.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	slog.Info("photostream listening",
		"endpoint", cfg.Endpoint.URL,
		"trust", cfg.Endpoint.Trust.Mode,
		"cache", cfg.Cache.Backend,
		"cache_dir", cfg.CacheDir(),
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case err := <-reconnectErr:
			return err
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				channel.Destroy()
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					slog.Error("failed to re-exec", "error", err)
					if writeErr := writePIDFile(pidPath); writeErr != nil {
						slog.Error("failed to re-write PID file", "error", writeErr)
					}
					if _, err := channel.Connect(); err != nil {
						slog.Error("reconnect after failed re-exec", "error", err)
					}
				}
				continue
			}
			slog.Info("shutting down", "signal", sig)
			// Stop reconnecting before the deferred Destroy runs.
			cancel()
			return nil
		}
	}
}
