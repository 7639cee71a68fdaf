package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"go-receipt-capture/internal/frame"
	"go-receipt-capture/internal/logger"
)

const maxFetchAttempts = 3

// SnapshotPoller polls a camera's still-image URL and submits each picture
// as a frame.
type SnapshotPoller struct {
	url        string
	sink       FrameSink
	interval   time.Duration
	retryDelay time.Duration
	client     *http.Client
}

// SnapshotOption configures a SnapshotPoller
type SnapshotOption func(*SnapshotPoller)

// WithRetryDelay sets the base delay between fetch attempts
func WithRetryDelay(d time.Duration) SnapshotOption {
	return func(p *SnapshotPoller) {
		p.retryDelay = d
	}
}

// WithInsecureTLS accepts self-signed camera certificates
func WithInsecureTLS() SnapshotOption {
	return func(p *SnapshotPoller) {
		if t, ok := p.client.Transport.(*http.Transport); ok {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
	}
}

// NewSnapshotPoller creates a poller fetching url every interval
func NewSnapshotPoller(url string, interval time.Duration, sink FrameSink, opts ...SnapshotOption) *SnapshotPoller {
	transport := &http.Transport{
		MaxIdleConns:           2,
		MaxIdleConnsPerHost:    1,
		IdleConnTimeout:        30 * time.Second,
		TLSHandshakeTimeout:    5 * time.Second,
		ResponseHeaderTimeout:  5 * time.Second,
		MaxResponseHeaderBytes: 4096,
	}
	p := &SnapshotPoller{
		url:        url,
		sink:       sink,
		interval:   interval,
		retryDelay: time.Second,
		client: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled
func (p *SnapshotPoller) Run(ctx context.Context) error {
	log := logger.WithComponent("snapshot").WithField("url", p.url)
	log.Info("Polling camera snapshots")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Snapshot poller stopped")
			return nil
		case <-ticker.C:
			img, err := p.Fetch(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Warn("Snapshot fetch failed")
				}
				continue
			}
			p.sink.SubmitFrame(frame.FromImage(img))
		}
	}
}

// Fetch downloads and decodes one snapshot. Server errors are retried,
// client errors are not.
func (p *SnapshotPoller) Fetch(ctx context.Context) (image.Image, error) {
	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * p.retryDelay):
			}
		}

		img, retry, err := p.fetchOnce(ctx)
		if err == nil {
			return img, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, fmt.Errorf("failed to fetch snapshot after %d attempts: %w", maxFetchAttempts, lastErr)
}

func (p *SnapshotPoller) fetchOnce(ctx context.Context) (image.Image, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, */*")
	req.Header.Set("User-Agent", "go-receipt-capture/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, false, fmt.Errorf("client error: status code %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	img, err := imaging.Decode(resp.Body, imaging.AutoOrientation(true))
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, false, nil
}
