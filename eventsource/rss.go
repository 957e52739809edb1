package eventsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hupe1980/agentrelay/core"
)

// RSSConfig configures an RSSSource.
type RSSConfig struct {
	// Name labels emitted events as their source. Empty means the feed title.
	Name string
	URL  string
	// ReplayInitial emits the items present at startup instead of only
	// remembering them.
	ReplayInitial bool
	// MaxSeen bounds the remembered item keys. Zero means 1000.
	MaxSeen int
	// HTTPClient overrides the client used to fetch the feed.
	HTTPClient *http.Client
}

// RSSSource turns new RSS or Atom items into core.WebEvent values.
type RSSSource struct {
	cfg    RSSConfig
	parser *gofeed.Parser

	mu      sync.Mutex
	primed  bool
	seen    map[string]struct{}
	order   []string
	nowFunc func() time.Time
}

// NewRSSSource validates cfg.
func NewRSSSource(cfg RSSConfig) (*RSSSource, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rss source needs a url")
	}
	if cfg.MaxSeen <= 0 {
		cfg.MaxSeen = 1000
	}
	parser := gofeed.NewParser()
	if cfg.HTTPClient != nil {
		parser.Client = cfg.HTTPClient
	}
	return &RSSSource{
		cfg:     cfg,
		parser:  parser,
		seen:    make(map[string]struct{}),
		nowFunc: time.Now,
	}, nil
}

// Fetch is a FetchFunc returning items not seen before, oldest first.
func (s *RSSSource) Fetch(ctx context.Context) ([]core.Event, error) {
	feed, err := s.parser.ParseURLWithContext(s.cfg.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", s.cfg.URL, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	source := s.cfg.Name
	if source == "" {
		source = feed.Title
	}

	emit := s.primed || s.cfg.ReplayInitial
	s.primed = true

	var events []core.Event
	// feeds list newest first
	for i := len(feed.Items) - 1; i >= 0; i-- {
		item := feed.Items[i]
		key := itemKey(item)
		if key == "" {
			continue
		}
		if _, ok := s.seen[key]; ok {
			continue
		}
		s.remember(key)
		if emit {
			events = append(events, s.toEvent(source, item))
		}
	}
	return events, nil
}

func (s *RSSSource) remember(key string) {
	s.seen[key] = struct{}{}
	s.order = append(s.order, key)
	for len(s.order) > s.cfg.MaxSeen {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
}

func itemKey(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	if item.Link != "" {
		return item.Link
	}
	return item.Title
}

func (s *RSSSource) toEvent(source string, item *gofeed.Item) core.WebEvent {
	content := item.Content
	if content == "" {
		content = item.Description
	}
	ts := s.nowFunc().UTC()
	switch {
	case item.PublishedParsed != nil:
		ts = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		ts = item.UpdatedParsed.UTC()
	}
	return core.WebEvent{
		Source:    source,
		Title:     strings.TrimSpace(item.Title),
		Content:   strings.TrimSpace(content),
		URL:       item.Link,
		Timestamp: ts,
	}
}

// NewRSSPoller wraps an RSSSource in a Poller.
func NewRSSPoller(name string, src *RSSSource, optFns ...func(o *PollerOptions)) *Poller {
	return NewPoller(name, src.Fetch, optFns...)
}
