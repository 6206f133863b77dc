// Package provision fetches and maintains model artifacts in the local
// cache: resumable downloads, disk preflight, and stale artifact cleanup.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/hushtype/hushtype/internal/retry"
	"github.com/hushtype/hushtype/pkg/events"
)

const (
	maxRedirectHops     = 8
	defaultStallTimeout = 30 * time.Second
	progressInterval    = 200 * time.Millisecond
	downloadChunkSize   = 128 * 1024
)

// ProgressFunc receives download progress. total is zero when the server
// did not report a length.
type ProgressFunc func(bytesDownloaded, total int64)

// Provisioner downloads model artifacts into the cache root.
type Provisioner struct {
	cacheRoot string
	client    *http.Client
	log       *slog.Logger
	events    *events.Publisher
	policy    retry.Policy
	// stall is the per-read inactivity window after which a transfer is
	// aborted and retried.
	stall time.Duration
}

// New creates a provisioner rooted at cacheRoot. events may be nil.
func New(cacheRoot string, log *slog.Logger, pub *events.Publisher) *Provisioner {
	return &Provisioner{
		cacheRoot: cacheRoot,
		log:       log,
		events:    pub,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirectHops {
					return fmt.Errorf("stopped after %d redirects", maxRedirectHops)
				}
				return nil
			},
		},
		policy: retry.Policy{
			InitialDelay: time.Second,
			MaxDelay:     60 * time.Second,
			MaxAttempts:  5,
			Retryable:    IsTransient,
		},
		stall: defaultStallTimeout,
	}
}

// CacheRoot returns the directory all artifacts live under.
func (p *Provisioner) CacheRoot() string { return p.cacheRoot }

// DownloadOptions tune a single artifact download.
type DownloadOptions struct {
	// MinBytes rejects implausibly small artifacts as corrupt.
	MinBytes int64
	// Progress, when set, is invoked at most every 200ms plus once at the end.
	Progress ProgressFunc
}

// Download fetches url into dest, resuming a previous partial transfer when
// one is present. The destination only appears once the transfer is complete
// and plausible; on cancellation the partial file is removed.
func (p *Provisioner) Download(ctx context.Context, url, dest string, opts DownloadOptions) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	tmp := dest + ".tmp"

	// A leftover partial from a different source must not be resumed.
	if prev, err := os.ReadFile(tmp + ".meta"); err == nil && strings.TrimSpace(string(prev)) != url {
		_ = os.Remove(tmp)
	}
	if err := renameio.WriteFile(tmp+".meta", []byte(url), 0o644); err != nil {
		return fmt.Errorf("write download meta: %w", err)
	}

	err := retry.Do(ctx, p.policy,
		func(attempt uint, err error) {
			p.log.WarnContext(ctx, "download attempt failed, retrying",
				slog.String("url", url), slog.Uint64("attempt", uint64(attempt)), slog.String("error", err.Error()))
		},
		func(ctx context.Context) error {
			return p.downloadOnce(ctx, url, tmp, opts)
		})

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			_ = os.Remove(tmp)
			_ = os.Remove(tmp + ".meta")
			return &Error{Kind: KindCancelled, Op: "download " + url, Err: err}
		}
		return err
	}

	if opts.MinBytes > 0 {
		fi, statErr := os.Stat(tmp)
		if statErr != nil || fi.Size() < opts.MinBytes {
			_ = os.Remove(tmp)
			_ = os.Remove(tmp + ".meta")
			return &Error{Kind: KindCorrupt, Op: "download " + url,
				Err: fmt.Errorf("artifact smaller than %d bytes", opts.MinBytes)}
		}
	}

	if err := finalize(tmp, dest); err != nil {
		return fmt.Errorf("finalize %s: %w", dest, err)
	}
	_ = os.Remove(tmp + ".meta")
	return nil
}

// downloadOnce performs one transfer attempt, appending to tmp.
func (p *Provisioner) downloadOnce(ctx context.Context, url, tmp string, opts DownloadOptions) error {
	var offset int64
	if fi, err := os.Stat(tmp); err == nil {
		offset = fi.Size()
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Kind: KindCorrupt, Op: "download", Err: err}
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return classifyNetErr("request "+url, err)
	}
	defer resp.Body.Close()

	var total int64
	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the range (or none was sent): restart from zero.
		if offset > 0 {
			p.log.InfoContext(ctx, "server ignored range request, restarting download",
				slog.String("url", url), slog.Int64("discarded_bytes", offset))
			offset = 0
		}
		total = resp.ContentLength
		if total < 0 {
			total = 0
		}
	case http.StatusPartialContent:
		total = parseContentRangeTotal(resp.Header.Get("Content-Range"))
	case http.StatusRequestedRangeNotSatisfiable:
		// Stale or oversized partial; throw it away and retry clean.
		_ = os.Remove(tmp)
		return &Error{Kind: KindTransient, Op: "download " + url,
			Err: errors.New("range not satisfiable, partial discarded")}
	default:
		return &Error{Kind: KindHTTPStatus, Op: "download " + url, StatusCode: resp.StatusCode}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if offset == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(tmp, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open partial file: %w", err)
	}
	defer f.Close()

	// The stall timer cancels the request context; each successful read
	// pushes it forward.
	stall := time.AfterFunc(p.stall, cancel)
	defer stall.Stop()

	buf := make([]byte, downloadChunkSize)
	lastProgress := time.Time{}
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			stall.Reset(p.stall)
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write partial file: %w", werr)
			}
			offset += int64(n)
			if opts.Progress != nil && time.Since(lastProgress) >= progressInterval {
				opts.Progress(offset, total)
				lastProgress = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() == nil && reqCtx.Err() != nil {
				return &Error{Kind: KindTransient, Op: "download " + url,
					Err: fmt.Errorf("no data for %s", p.stall)}
			}
			return classifyNetErr("read "+url, readErr)
		}
	}

	if total > 0 && offset < total {
		return &Error{Kind: KindTransient, Op: "download " + url,
			Err: fmt.Errorf("short body: %d of %d bytes", offset, total)}
	}
	if opts.Progress != nil {
		opts.Progress(offset, total)
	}
	return nil
}

// finalize moves tmp to dest. Rename is atomic on one filesystem; when it
// fails the data is copied through a pending file in the destination
// directory so dest never appears half-written.
func finalize(tmp, dest string) error {
	if err := os.Rename(tmp, dest); err == nil {
		return nil
	}
	src, err := os.Open(tmp)
	if err != nil {
		return err
	}
	defer src.Close()

	pending, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return err
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, src); err != nil {
		return err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return err
	}
	return os.Remove(tmp)
}

// parseContentRangeTotal extracts the total from "bytes <from>-<to>/<total>".
func parseContentRangeTotal(h string) int64 {
	i := strings.LastIndexByte(h, '/')
	if i < 0 {
		return 0
	}
	total, err := strconv.ParseInt(h[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return total
}

// IsTransient reports whether an error is a retryable network interruption.
// HTTP status failures, corruption, and cancellation are never transient.
func IsTransient(err error) bool {
	if kind, ok := KindOf(err); ok {
		return kind == KindTransient
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

// classifyNetErr wraps transport-level failures as transient. Cancellation
// passes through untouched so the retry layer can short-circuit on it.
func classifyNetErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}
