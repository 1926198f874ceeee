// Package sources collects candidate proxies from public listing sites.
package sources

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"proxypool/internal/config"
	"proxypool/internal/domain"
)

var ErrSourceFailed = errors.New("source acquisition failed")

const pagePlaceholder = "{page}"

type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.ProxyRecord, error)
}

// SiteSource crawls pages 1..Pages of a listing, waiting PageInterval between
// pages. A failing page is skipped; the source fails only when no page could be
// fetched.
type SiteSource struct {
	site    config.SourceSite
	fetcher Fetcher
	parse   Parser
}

func NewSiteSource(site config.SourceSite, fetcher Fetcher) (*SiteSource, error) {
	parse, err := ParserFor(site.Kind)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", site.Name, err)
	}
	if site.Pages <= 0 {
		site.Pages = 1
	}
	if site.Name == "" {
		site.Name = site.Kind
	}
	return &SiteSource{site: site, fetcher: fetcher, parse: parse}, nil
}

func (s *SiteSource) Name() string {
	return s.site.Name
}

func (s *SiteSource) PageURL(page int) string {
	return strings.ReplaceAll(s.site.URLTemplate, pagePlaceholder, strconv.Itoa(page))
}

func (s *SiteSource) Fetch(ctx context.Context) ([]domain.ProxyRecord, error) {
	var (
		records []domain.ProxyRecord
		fetched int
		lastErr error
	)
	interval := time.Duration(s.site.PageInterval) * time.Millisecond

	for page := 1; page <= s.site.Pages; page++ {
		url := s.PageURL(page)
		log.Debug("Fetching source page", "source", s.Name(), "page", page, "url", url)

		body, err := s.fetcher.Fetch(ctx, url)
		if err != nil {
			lastErr = err
			log.Warn("Source page failed", "source", s.Name(), "page", page, "error", err)
		} else {
			fetched++
			pageRecords, err := s.parse(body, s.Name())
			if err != nil {
				log.Warn("Source page could not be parsed", "source", s.Name(), "page", page, "error", err)
			} else if len(pageRecords) > 0 {
				records = append(records, pageRecords...)
				log.Debug("Source page parsed", "source", s.Name(), "page", page, "candidates", len(pageRecords))
			}
		}

		if page < s.site.Pages && interval > 0 {
			select {
			case <-ctx.Done():
				return records, ctx.Err()
			case <-time.After(interval):
			}
		}
	}

	if fetched == 0 {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceFailed, s.Name(), lastErr)
	}
	return records, nil
}

// Collector runs every source in turn and merges their candidates.
type Collector struct {
	sources []Source
}

func NewCollector(sources ...Source) *Collector {
	return &Collector{sources: sources}
}

// NewCollectorFromConfig builds one SiteSource per enabled site.
func NewCollectorFromConfig(fetcher Fetcher) (*Collector, error) {
	cfg := config.GetConfig()

	var sources []Source
	for _, site := range cfg.Sources.Sites {
		if !site.Enabled {
			continue
		}
		source, err := NewSiteSource(site, fetcher)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return NewCollector(sources...), nil
}

// NewFetcherFromConfig returns a BrowserFetcher when sources.use_browser is
// set and an HTTPFetcher otherwise, wrapped in a RobotsFetcher when
// sources.respect_robots is set.
func NewFetcherFromConfig() Fetcher {
	cfg := config.GetConfig()
	timeout := config.GetSourceTimeout()

	var fetcher Fetcher
	if cfg.Sources.UseBrowser {
		fetcher = NewBrowserFetcher(timeout)
	} else {
		fetcher = NewHTTPFetcher(timeout, cfg.Sources.UserAgent)
	}
	if cfg.Sources.RespectRobots {
		fetcher = NewRobotsFetcher(fetcher, timeout, cfg.Sources.UserAgent)
	}
	return fetcher
}

// Collect never fails: source errors are logged and the source is skipped.
// Candidates repeating an identity already collected are dropped.
func (c *Collector) Collect(ctx context.Context) []domain.ProxyRecord {
	seen := make(map[domain.Identity]struct{})
	var candidates []domain.ProxyRecord

	for _, source := range c.sources {
		if ctx.Err() != nil {
			break
		}

		records, err := source.Fetch(ctx)
		if err != nil {
			log.Error("Source acquisition failed", "source", source.Name(), "error", err)
		}

		added := 0
		for _, record := range records {
			id := record.Identity()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			candidates = append(candidates, record)
			added++
		}
		log.Info("Source collected", "source", source.Name(), "candidates", added)
	}

	return candidates
}
