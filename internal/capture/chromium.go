// Package capture renders the print view of a month through headless
// Chromium, producing the PDF and PNG exports.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"pictocal/internal/calendar"
	appLog "pictocal/internal/log"
)

// Default capture parameters. The print view is laid out for landscape A4.
const (
	DefaultWidth      = 1754
	DefaultHeight     = 1240
	DefaultTimeoutSec = 30

	// A4 landscape, in inches.
	paperWidth  = 11.69
	paperHeight = 8.27
)

// ReadySelector is the element the print view marks once it has rendered.
const ReadySelector = `[data-ready="true"]`

// Options defines one export of a month.
type Options struct {
	// BaseURL of the running server, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// Cursor selects the month and the highlighted day.
	Cursor calendar.Cursor

	// Username / Password are sent as Basic Auth to the print view when set.
	Username string
	Password string

	// Width and Height are the viewport for PNG captures. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Timeout bounds the whole browser session. If zero, DefaultTimeoutSec.
	Timeout time.Duration

	// ChromePath overrides the browser binary lookup.
	ChromePath string
}

func (o *Options) normalize() error {
	if o.BaseURL == "" {
		return errors.New("capture: BaseURL is required")
	}
	if err := o.Cursor.Validate(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return nil
}

// PrintURL is the print view address for the cursor.
func (o Options) PrintURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(o.BaseURL, "/") + "/print")
	if err != nil {
		return "", fmt.Errorf("capture: bad base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("capture: unsupported scheme %q", u.Scheme)
	}
	q := url.Values{}
	q.Set("year", strconv.Itoa(o.Cursor.Year))
	q.Set("month", strconv.Itoa(o.Cursor.Month))
	q.Set("day", strconv.Itoa(o.Cursor.Day))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FileName is the download name of an export, e.g. Pictocal-March-2024.pdf.
func FileName(year, month int, ext string) string {
	return fmt.Sprintf("Pictocal-%s-%d.%s", calendar.MonthName(month), year, strings.TrimPrefix(ext, "."))
}

// RenderPDF prints the month as landscape A4 with background graphics.
func RenderPDF(parentCtx context.Context, opts Options) ([]byte, error) {
	var pdf []byte
	err := run(parentCtx, &opts, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithLandscape(true).
			WithPrintBackground(true).
			WithPaperWidth(paperWidth).
			WithPaperHeight(paperHeight).
			WithMarginTop(0).
			WithMarginBottom(0).
			WithMarginLeft(0).
			WithMarginRight(0).
			Do(ctx)
		if err != nil {
			return err
		}
		pdf = data
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return pdf, nil
}

// CapturePNG takes a full-page screenshot of the month.
func CapturePNG(parentCtx context.Context, opts Options) ([]byte, error) {
	var png []byte
	if err := run(parentCtx, &opts, chromedp.FullScreenshot(&png, 100)); err != nil {
		return nil, err
	}
	return png, nil
}

// run opens the print view, waits for it to signal readiness and performs
// the final action.
func run(parentCtx context.Context, opts *Options, final chromedp.Action) error {
	if err := opts.normalize(); err != nil {
		return err
	}
	target, err := opts.PrintURL()
	if err != nil {
		return err
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.NoSandbox)
	if opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ChromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	tasks := chromedp.Tasks{network.Enable()}
	if h := authHeaders(opts.Username, opts.Password); h != nil {
		tasks = append(tasks, network.SetExtraHTTPHeaders(h))
	}
	tasks = append(tasks,
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(target),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// Let images and fonts paint.
		chromedp.Sleep(300*time.Millisecond),
		final,
	)

	start := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	appLog.Info("capture done",
		"month", calendar.MonthName(opts.Cursor.Month),
		"year", opts.Cursor.Year,
		"took", time.Since(start).Round(time.Millisecond).String(),
	)
	return nil
}

func authHeaders(user, pass string) network.Headers {
	if user == "" {
		return nil
	}
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	return network.Headers{"Authorization": "Basic " + token}
}

// Chromium exposes RenderPDF and CapturePNG as methods, for callers that
// take a renderer value.
type Chromium struct{}

func (Chromium) RenderPDF(ctx context.Context, opts Options) ([]byte, error) {
	return RenderPDF(ctx, opts)
}

func (Chromium) CapturePNG(ctx context.Context, opts Options) ([]byte, error) {
	return CapturePNG(ctx, opts)
}
