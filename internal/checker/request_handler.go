package checker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"proxypool/internal/domain"
)

const maxResponseBodyLength = 4096

// newTransport routes every request through record as a plain HTTP forward
// proxy. Keep-alives are disabled so each check opens a fresh connection.
func newTransport(record domain.ProxyRecord, timeout time.Duration) (*http.Transport, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}

	proxyURL := &url.URL{Scheme: "http", Host: record.Address()}

	return &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 0,
		}).DialContext,
		DisableKeepAlives:     true,
		MaxIdleConns:          0,
		MaxIdleConnsPerHost:   0,
		IdleConnTimeout:       0,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
	}, nil
}

type checkResult struct {
	viaHeader bool
}

// fetchThrough fetches target through transport and succeeds only on HTTP 200.
func fetchThrough(ctx context.Context, transport *http.Transport, target string, timeout time.Duration) (checkResult, error) {
	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return checkResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Connection", "close")

	resp, err := client.Do(req)
	if err != nil {
		return checkResult{}, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodyLength))

	if resp.StatusCode != http.StatusOK {
		return checkResult{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return checkResult{viaHeader: resp.Header.Get("Via") != ""}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
