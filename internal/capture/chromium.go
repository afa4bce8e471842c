// Package capture renders the /calendar page in headless Chromium and
// stores it as the notice-board PNG.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	appLog "clubcal/internal/log"
)

const (
	DefaultWidth   = 1200
	DefaultHeight  = 825
	DefaultTimeout = 30 * time.Second
)

// ReadySelector is the element /calendar exposes once its markup is final.
const ReadySelector = `[data-ready="true"]`

// Options defines one snapshot.
type Options struct {
	// URL of the page, e.g. "http://127.0.0.1:8080/calendar?days=7".
	URL string
	// OutputPath receives the PNG; it is replaced atomically.
	OutputPath string

	Width  int
	Height int

	// Username and Password are sent as HTTP basic auth when set.
	Username string
	Password string

	Timeout time.Duration
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// tasks is the chromedp sequence for opts, writing the screenshot to png.
func tasks(opts Options, png *[]byte) chromedp.Tasks {
	var t chromedp.Tasks
	if opts.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		t = append(t,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Authorization": "Basic " + token}),
		)
	}
	return append(t,
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// Let web fonts settle.
		chromedp.Sleep(300*time.Millisecond),
		chromedp.FullScreenshot(png, 100),
	)
}

// CalendarPNG launches a headless Chromium via chromedp, loads opts.URL,
// waits for ReadySelector and saves a full-page PNG screenshot.
func CalendarPNG(parent context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	started := time.Now()
	var png []byte
	if err := chromedp.Run(ctx, tasks(opts, &png)); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	if err := writeFile(opts.OutputPath, png); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	appLog.Info("capture: snapshot written", "path", opts.OutputPath, "bytes", len(png), "took", time.Since(started).Round(time.Millisecond))
	return nil
}

func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
