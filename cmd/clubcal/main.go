package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"clubcal/internal/capture"
	"clubcal/internal/config"
	"clubcal/internal/ics"
	appLog "clubcal/internal/log"
	"clubcal/internal/model"
	"clubcal/internal/normalize"
	"clubcal/internal/provider"
	"clubcal/internal/provider/sqlite"
	"clubcal/internal/refresh"
	"clubcal/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	// CLI -listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("clubcal starting", "version", version)

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"database", conf.Database,
		"refresh", conf.RefreshCron,
		"cache_ttl", conf.CacheTTL,
		"feeds", len(conf.Feeds),
		"snapshot", conf.Snapshot.Output != "",
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("clubcal failed", err)
		os.Exit(1)
	}
	appLog.Info("clubcal exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	loc := conf.Location()

	if err := os.MkdirAll(filepath.Dir(conf.Database), 0o755); err != nil {
		return err
	}
	store, err := sqlite.Open(conf.Database, loc)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	fetcher := ics.NewFetcher(conf.CacheDir, nil)
	feeds := make([]*ics.Feed, 0, len(conf.Feeds))
	subs := make([]provider.Subscription, 0, len(conf.Feeds))
	for _, fc := range conf.Feeds {
		if fc.URL == "" {
			continue
		}
		f := ics.NewFeed(ics.Source{ID: fc.ID, Name: fc.Name, URL: fc.URL}, fetcher, loc)
		feeds = append(feeds, f)
		subs = append(subs, f)
	}
	cache := provider.NewRangeCache(provider.NewMulti(store, subs...), conf.CacheTTL)

	norm := normalize.New(loc, normalize.Palette{
		model.TypeRide:    conf.Colors.Ride,
		model.TypeMeeting: conf.Colors.Meeting,
		model.TypeEvent:   conf.Colors.Event,
		model.TypeOther:   conf.Colors.Other,
	})

	// Bind first so the snapshot task knows where /calendar is served.
	addr := conf.Listen
	if once {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	base := loopbackURL(ln.Addr())

	runner := refresh.NewRunner(refreshTasks(conf, cache, feeds, base)...)
	srv := web.NewServer(conf, web.Deps{Cache: cache, Normalizer: norm, Refresh: runner})
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if !once {
			appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
		}
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	defer shutdown(httpSrv)

	if once {
		return runner.Run(ctx)
	}

	// Fill the cache for the current week before the first visitor.
	if err := runner.Run(ctx); err != nil && !errors.Is(err, refresh.ErrBusy) {
		appLog.Warn("initial refresh had failures", "err", err)
	}
	done, err := refresh.Schedule(ctx, conf.RefreshCron, loc, runner)
	if err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	<-done
	return nil
}

func refreshTasks(conf *config.Config, cache *provider.RangeCache, feeds []*ics.Feed, base string) []refresh.Task {
	loc := conf.Location()
	tasks := []refresh.Task{
		{Name: "feeds", Run: func(ctx context.Context) error {
			for _, f := range feeds {
				f.Invalidate()
			}
			return nil
		}},
		{Name: "ranges", Run: cache.Refresh},
		{Name: "warm", Run: func(ctx context.Context) error {
			start := weekStart(time.Now().In(loc), conf.FirstWeekday())
			return cache.Warm(ctx, start, start.AddDate(0, 0, 7))
		}},
	}
	if conf.Snapshot.Output == "" {
		return tasks
	}
	return append(tasks, refresh.Task{Name: "snapshot", Run: func(ctx context.Context) error {
		start := weekStart(time.Now().In(loc), conf.FirstWeekday())
		q := url.Values{}
		q.Set("start", start.Format(model.DateLayout))
		q.Set("days", fmt.Sprint(conf.Snapshot.Days))
		opts := capture.Options{
			URL:        base + "/calendar?" + q.Encode(),
			OutputPath: conf.Snapshot.Output,
			Width:      conf.Snapshot.Width,
			Height:     conf.Snapshot.Height,
		}
		if conf.BasicAuth != nil {
			opts.Username = conf.BasicAuth.Username
			opts.Password = conf.BasicAuth.Password
		}
		return capture.CalendarPNG(ctx, opts)
	}})
}

// weekStart is midnight of the first day of t's week.
func weekStart(t time.Time, first time.Weekday) time.Time {
	day := model.StartOfDay(t)
	back := (int(day.Weekday()) - int(first) + 7) % 7
	return day.AddDate(0, 0, -back)
}

// loopbackURL turns a listener address into a URL reachable from this
// host, replacing wildcard hosts with the loopback address.
func loopbackURL(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLog.Error("http shutdown failed", err)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./clubcal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh (and snapshot) and exit")

	flag.Parse()

	return cfg
}
