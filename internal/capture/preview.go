// Package capture takes a headless Chromium screenshot of the signage page.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"smartsign/internal/atomicfile"
)

// Full HD landscape, the usual signage panel.
const (
	DefaultWidth    = 1920
	DefaultHeight   = 1080
	DefaultTimeout  = 30 * time.Second
	DefaultSelector = "body"
)

// Options defines one preview capture.
type Options struct {
	// URL of the display page, e.g. "http://127.0.0.1:8080/".
	URL string
	// OutputPath receives the PNG.
	OutputPath string

	Width  int
	Height int

	// WaitSelector must be visible before the screenshot is taken.
	WaitSelector string
	// Settle is an extra delay after WaitSelector for fonts and images.
	Settle  time.Duration
	Timeout time.Duration
}

func (o Options) withDefaults() (Options, error) {
	if o.URL == "" {
		return o, errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return o, errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.WaitSelector == "" {
		o.WaitSelector = DefaultSelector
	}
	if o.Settle <= 0 {
		o.Settle = 500 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o, nil
}

// Capturer is the screenshot step of a batch. Tests swap it for a fake.
type Capturer interface {
	Capture(ctx context.Context, opts Options) error
}

// Chromium captures with a local headless Chromium via chromedp.
type Chromium struct{}

// Capture navigates to opts.URL, waits for opts.WaitSelector and writes a
// PNG of the viewport to opts.OutputPath.
func (Chromium) Capture(parent context.Context, opts Options) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(opts.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(opts.Settle),
		chromedp.CaptureScreenshot(&png),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return err
	}
	if err := atomicfile.Write(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: write PNG: %w", err)
	}
	return nil
}
