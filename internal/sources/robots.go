package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const robotsCacheTTL = time.Hour

var ErrDisallowed = errors.New("disallowed by robots.txt")

type robotsCacheEntry struct {
	data    *robotstxt.RobotsData
	fetched time.Time
}

// RobotsFetcher refuses pages that the site's robots.txt disallows for the
// configured user agent. robots.txt files are cached per scheme and host.
// A missing or unreachable robots.txt allows everything.
type RobotsFetcher struct {
	next      Fetcher
	client    *http.Client
	userAgent string

	mu      sync.Mutex
	entries map[string]robotsCacheEntry
	now     func() time.Time
}

func NewRobotsFetcher(next Fetcher, timeout time.Duration, userAgent string) *RobotsFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &RobotsFetcher{
		next:      next,
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		entries:   make(map[string]robotsCacheEntry),
		now:       time.Now,
	}
}

func (f *RobotsFetcher) Fetch(ctx context.Context, target string) (string, error) {
	allowed, err := f.Allowed(ctx, target)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", fmt.Errorf("%w: %s", ErrDisallowed, target)
	}
	return f.next.Fetch(ctx, target)
}

func (f *RobotsFetcher) Close() error {
	f.client.CloseIdleConnections()
	return f.next.Close()
}

// Allowed reports whether target may be fetched.
func (f *RobotsFetcher) Allowed(ctx context.Context, target string) (bool, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return false, fmt.Errorf("parse robots target: %w", err)
	}
	if parsed.Host == "" {
		return false, fmt.Errorf("parse robots target: missing host in %q", target)
	}

	data := f.load(ctx, parsed)
	if data == nil {
		return true, nil
	}

	group := data.FindGroup(f.userAgent)
	if group == nil {
		return true, nil
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return group.Test(path), nil
}

func (f *RobotsFetcher) load(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	key := robotsCacheKey(parsed)

	f.mu.Lock()
	entry, ok := f.entries[key]
	if ok && f.now().Sub(entry.fetched) > robotsCacheTTL {
		delete(f.entries, key)
		ok = false
	}
	f.mu.Unlock()
	if ok {
		return entry.data
	}

	entry = robotsCacheEntry{data: f.fetchRobots(ctx, key+"/robots.txt"), fetched: f.now()}

	f.mu.Lock()
	f.entries[key] = entry
	f.mu.Unlock()
	return entry.data
}

func (f *RobotsFetcher) fetchRobots(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil
	}
	return data
}

func robotsCacheKey(parsed *url.URL) string {
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, parsed.Host)
}
