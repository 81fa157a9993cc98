// Package capture prints rendered timetables through headless Chromium.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	appLog "confsched/internal/log"
)

// A4 paper in inches, as expected by the DevTools protocol.
const (
	DefaultPaperWidth  = 8.27
	DefaultPaperHeight = 11.69
	DefaultTimeoutSec  = 30
)

// ReadySelector matches the element the timetable page exposes once it
// has been rendered.
const ReadySelector = `[data-ready="true"]`

// PDFOptions defines parameters for printing a page to PDF.
type PDFOptions struct {
	// URL to print, e.g. "http://127.0.0.1:8080/api/events/x/timetable.html"
	// or a file:// URL of a rendered document.
	URL string

	// OutputPath is where the PDF is written.
	OutputPath string

	// Landscape prints wide timetables sideways.
	Landscape bool

	// PaperWidth / PaperHeight in inches. Zero means A4.
	PaperWidth  float64
	PaperHeight float64

	// Timeout bounds the entire operation. Zero means DefaultTimeoutSec.
	Timeout time.Duration

	// ExecPath overrides the Chromium binary chromedp looks up.
	ExecPath string
}

func (o *PDFOptions) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.PaperWidth <= 0 {
		o.PaperWidth = DefaultPaperWidth
	}
	if o.PaperHeight <= 0 {
		o.PaperHeight = DefaultPaperHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return nil
}

// PrintPDF launches a headless Chromium via chromedp, navigates to
// opts.URL, waits until ReadySelector is visible and prints the page with
// backgrounds to opts.OutputPath.
func PrintPDF(parentCtx context.Context, opts PDFOptions) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	allocOpts := chromedp.DefaultExecAllocatorOptions[:]
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	start := time.Now()
	var pdf []byte
	tasks := chromedp.Tasks{
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithLandscape(opts.Landscape).
				WithPaperWidth(opts.PaperWidth).
				WithPaperHeight(opts.PaperHeight).
				WithPreferCSSPageSize(false).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.WriteFile(opts.OutputPath, pdf, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PDF: %w", err)
	}

	appLog.Info("timetable printed", "output", opts.OutputPath, "bytes", len(pdf), "took", time.Since(start).String())
	return nil
}
