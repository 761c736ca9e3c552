// internal/browser/downloads.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/poll"
)

// ErrDownloadCanceled is returned when the browser aborts a download.
var ErrDownloadCanceled = errors.New("download was canceled by the browser")

// Download is one file transfer started by the page.
type Download struct {
	GUID              string
	URL               string
	SuggestedFilename string
	State             browser.DownloadProgressState
	ReceivedBytes     float64
	TotalBytes        float64
	StartedAt         time.Time
}

// Done reports whether the transfer reached a terminal state.
func (d Download) Done() bool {
	return d.State == browser.DownloadProgressStateCompleted || d.State == browser.DownloadProgressStateCanceled
}

// DownloadTracker records download events in arrival order.
type DownloadTracker struct {
	logger *zap.Logger

	mu    sync.Mutex
	order []string
	byID  map[string]*Download
}

func newDownloadTracker(logger *zap.Logger) *DownloadTracker {
	return &DownloadTracker{
		logger: logger.Named("downloads"),
		byID:   make(map[string]*Download),
	}
}

// handle is the CDP event listener.
func (d *DownloadTracker) handle(ev interface{}) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		d.begin(e.GUID, e.URL, e.SuggestedFilename)
	case *browser.EventDownloadProgress:
		d.progress(e.GUID, e.State, e.ReceivedBytes, e.TotalBytes)
	}
}

func (d *DownloadTracker) begin(guid, url, filename string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[guid]; ok {
		return
	}
	d.byID[guid] = &Download{
		GUID:              guid,
		URL:               url,
		SuggestedFilename: filename,
		State:             browser.DownloadProgressStateInProgress,
		StartedAt:         time.Now(),
	}
	d.order = append(d.order, guid)
	d.logger.Info("Download started.", zap.String("filename", filename))
}

func (d *DownloadTracker) progress(guid string, state browser.DownloadProgressState, received, total float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dl, ok := d.byID[guid]
	if !ok {
		// Progress can be the first event we see when it was emitted on the
		// other listener.
		dl = &Download{GUID: guid, StartedAt: time.Now()}
		d.byID[guid] = dl
		d.order = append(d.order, guid)
	}
	prev := dl.State
	dl.State = state
	dl.ReceivedBytes = received
	dl.TotalBytes = total
	if state != prev && dl.Done() {
		d.logger.Info("Download finished.",
			zap.String("filename", dl.SuggestedFilename),
			zap.String("state", state.String()),
			zap.Float64("bytes", received),
		)
	}
}

// Mark returns a position in the event history; Wait only considers
// downloads that began after it.
func (d *DownloadTracker) Mark() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

// latestSince returns a copy of the newest download after mark.
func (d *DownloadTracker) latestSince(mark int) (Download, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mark >= len(d.order) {
		return Download{}, false
	}
	return *d.byID[d.order[len(d.order)-1]], true
}

// Wait blocks until a download begun after mark completes. It returns
// poll.ErrTimeout when none finishes within timeout, ErrDownloadCanceled if
// the browser gives up on it.
func (d *DownloadTracker) Wait(ctx context.Context, mark int, timeout time.Duration) (*Download, error) {
	var result Download
	err := poll.Until(ctx, 250*time.Millisecond, timeout, func(context.Context) (bool, error) {
		dl, ok := d.latestSince(mark)
		if !ok || !dl.Done() {
			return false, nil
		}
		result = dl
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("waiting for download: %w", err)
	}
	if result.State == browser.DownloadProgressStateCanceled {
		return &result, ErrDownloadCanceled
	}
	return &result, nil
}
