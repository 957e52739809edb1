package eventsource

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

type feedServer struct {
	mu    sync.Mutex
	items []string
}

func (f *feedServer) add(guid, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := fmt.Sprintf(`<item><guid>%s</guid><title>%s</title><link>https://news.example/%s</link>`+
		`<description>about %s</description><pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate></item>`, guid, title, guid, title)
	// newest first, like real feeds
	f.items = append([]string{item}, f.items...)
}

func (f *feedServer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/rss+xml")
	fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>Crypto Wire</title>%s</channel></rss>`,
		strings.Join(f.items, ""))
}

func titles(events []core.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.(core.WebEvent).Title)
	}
	return out
}

// -------------------- RSSSource Tests --------------------

func TestNewRSSSource_RequiresURL(t *testing.T) {
	_, err := NewRSSSource(RSSConfig{URL: "  "})
	assert.Error(t, err)
}

func TestRSSSource_PrimesThenEmitsNewItems(t *testing.T) {
	feed := &feedServer{}
	feed.add("1", "ETH upgrade ships")
	feed.add("2", "Stablecoin bill passes")
	srv := httptest.NewServer(feed)
	defer srv.Close()

	src, err := NewRSSSource(RSSConfig{URL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	ctx := t.Context()

	events, err := src.Fetch(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	feed.add("3", "Exchange lists token")
	feed.add("4", "Gas fees drop")

	events, err = src.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Exchange lists token", "Gas fees drop"}, titles(events))

	ev := events[0].(core.WebEvent)
	assert.Equal(t, "Crypto Wire", ev.Source)
	assert.Equal(t, "about Exchange lists token", ev.Content)
	assert.Equal(t, "https://news.example/3", ev.URL)
	assert.Equal(t, 2006, ev.Timestamp.Year())

	events, err = src.Fetch(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRSSSource_ReplayInitial(t *testing.T) {
	feed := &feedServer{}
	feed.add("1", "first")
	feed.add("2", "second")
	srv := httptest.NewServer(feed)
	defer srv.Close()

	src, err := NewRSSSource(RSSConfig{Name: "wire", URL: srv.URL, ReplayInitial: true})
	require.NoError(t, err)

	events, err := src.Fetch(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, titles(events))
	assert.Equal(t, "wire", events[0].(core.WebEvent).Source)
}

func TestRSSSource_SeenSetIsBounded(t *testing.T) {
	feed := &feedServer{}
	feed.add("1", "first")
	feed.add("2", "second")
	feed.add("3", "third")
	srv := httptest.NewServer(feed)
	defer srv.Close()

	src, err := NewRSSSource(RSSConfig{URL: srv.URL, MaxSeen: 2})
	require.NoError(t, err)

	_, err = src.Fetch(t.Context())
	require.NoError(t, err)
	assert.Len(t, src.seen, 2)
	assert.Equal(t, []string{"2", "3"}, src.order)
}

func TestRSSSource_FetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	src, err := NewRSSSource(RSSConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = src.Fetch(t.Context())
	assert.Error(t, err)
}
