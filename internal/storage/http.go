package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/varfish-case-importer/internal/domain"
)

type httpBackend struct {
	baseURL  *url.URL
	user     string
	password string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	log      *logrus.Logger
}

func newHTTPBackend(opts Options, logger *logrus.Logger) (backend, error) {
	scheme := string(opts.Protocol)
	if opts.UseHTTPS {
		scheme = "https"
	}
	host := opts.Host
	if opts.Port != 0 {
		host = fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	}

	limit := rate.Inf
	if opts.HTTPRateLimit > 0 {
		limit = rate.Limit(opts.HTTPRateLimit)
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	b := &httpBackend{
		baseURL:  &url.URL{Scheme: scheme, Host: host},
		user:     opts.User,
		password: opts.Password,
		client:   &http.Client{Timeout: opts.HTTPTimeout},
		limiter:  rate.NewLimiter(limit, 1),
		log:      logger,
	}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "storage-" + host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Storage circuit breaker changed state")
		},
	})
	return b, nil
}

// resolveURL returns path as URL; absolute URLs are used as is.
func (b *httpBackend) resolveURL(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	ref, err := url.Parse("/" + strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing path %q: %w", path, err)
	}
	return b.baseURL.ResolveReference(ref).String(), nil
}

func (b *httpBackend) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if b.user != "" {
		req.SetBasicAuth(b.user, b.password)
	}
	result, err := b.breaker.Execute(func() (interface{}, error) {
		resp, err := b.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("%s %s: server returned %s", req.Method, req.URL, resp.Status)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

func (b *httpBackend) openRead(ctx context.Context, path string) (io.ReadCloser, error) {
	target, err := b.resolveURL(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.do(ctx, req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", target, domain.ErrNotFound)
	case resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: server returned %s", target, resp.Status)
	}
	return resp.Body, nil
}

func (b *httpBackend) openWrite(ctx context.Context, path string) (io.WriteCloser, error) {
	target, err := b.resolveURL(path)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, pr)
	if err != nil {
		return nil, err
	}

	w := newPipeWriter(pw)
	go func() {
		resp, err := b.do(ctx, req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 300 {
				err = fmt.Errorf("PUT %s: server returned %s", target, resp.Status)
			}
		}
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

// pipeWriter hands written data to a concurrent upload and reports the
// upload result from Close.
type pipeWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func newPipeWriter(pw *io.PipeWriter) *pipeWriter {
	return &pipeWriter{pw: pw, done: make(chan error, 1)}
}

func (w *pipeWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *pipeWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}

// CloseWithError aborts the upload.
func (w *pipeWriter) CloseWithError(err error) error {
	w.pw.CloseWithError(err)
	<-w.done
	return nil
}
