package blacklist

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"hostguard/internal/config"
)

// maxListSize caps a single fetched list (50MB), matching the largest
// public blocklists with headroom.
const maxListSize = 50 * 1024 * 1024

// ErrorKind classifies fetch failures for the caller's retry policy.
type ErrorKind string

const (
	ErrNetwork ErrorKind = "network"
	ErrTimeout ErrorKind = "timeout"
	ErrParse   ErrorKind = "parse"
)

// FetchError wraps a failed fetch with its classification. The previous
// category contents are left untouched by the caller on any FetchError.
type FetchError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads and parses blacklist sources. HTTP and S3 sources
// share one rate limiter so an aggressive source list cannot hammer the
// network.
type Fetcher struct {
	httpClient *http.Client
	s3         *s3Fetcher
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
}

// NewFetcher builds a fetcher from the blacklist and S3 configuration.
func NewFetcher(cfg *config.BlacklistConfig, s3cfg *config.S3Config) *Fetcher {
	perMinute := cfg.FetchesPerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: cfg.FetchTimeout},
		s3:         newS3Fetcher(s3cfg),
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		maxRetries: cfg.MaxRetries,
		backoff:    2 * time.Second,
	}
}

// Fetch downloads one source and parses it into a normalized domain set.
// Transient failures are retried with exponential backoff, bounded by the
// configured retry count.
func (f *Fetcher) Fetch(ctx context.Context, src *config.SourceConfig) ([]string, error) {
	var lastErr error
	backoff := f.backoff

	attempts := f.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{Kind: ErrTimeout, URL: src.URL, Err: err}
		}

		domains, err := f.fetchOnce(ctx, src)
		if err == nil {
			return domains, nil
		}
		lastErr = err

		var fe *FetchError
		if errors.As(err, &fe) && fe.Kind == ErrParse {
			// Retrying a parse failure re-downloads the same bad payload.
			return nil, err
		}

		logrus.WithError(err).WithFields(logrus.Fields{
			"url":     src.URL,
			"attempt": attempt,
		}).Warn("Blocklist fetch failed")

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, &FetchError{Kind: ErrTimeout, URL: src.URL, Err: ctx.Err()}
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}

	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, src *config.SourceConfig) ([]string, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, &FetchError{Kind: ErrParse, URL: src.URL, Err: err}
	}

	var body []byte
	switch u.Scheme {
	case "http", "https":
		body, err = f.fetchHTTP(ctx, src.URL)
	case "s3":
		body, err = f.s3.fetch(ctx, u.Host, u.Path)
	default:
		return nil, &FetchError{Kind: ErrParse, URL: src.URL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if err != nil {
		return nil, err
	}

	if src.SHA256 != "" {
		sum := sha256.Sum256(body)
		actual := hex.EncodeToString(sum[:])
		if actual != src.SHA256 {
			return nil, &FetchError{
				Kind: ErrParse,
				URL:  src.URL,
				Err:  fmt.Errorf("checksum mismatch: expected %s, got %s", src.SHA256, actual),
			}
		}
	}

	result, err := Parse(bytes.NewReader(body), ParseFormat(src.Format))
	if err != nil {
		return nil, &FetchError{Kind: ErrParse, URL: src.URL, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"url":       src.URL,
		"domains":   len(result.Domains),
		"malformed": result.Malformed,
	}).Info("Parsed blocklist")

	return result.Domains, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: ErrParse, URL: rawURL, Err: err}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		kind := ErrNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ErrTimeout
		}
		return nil, &FetchError{Kind: kind, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: ErrNetwork, URL: rawURL, Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	body, err := readAllLimited(resp.Body, maxListSize)
	if err != nil {
		return nil, &FetchError{Kind: ErrNetwork, URL: rawURL, Err: err}
	}
	return body, nil
}

// readAllLimited reads all of r up to limit bytes, erroring past it.
func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(&io.LimitedReader{R: r, N: limit + 1})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("data exceeds maximum size of %d bytes", limit)
	}
	return data, nil
}
