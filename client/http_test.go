package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func postMessage(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// -------------------- HTTP Tests --------------------

func TestHTTP_Health(t *testing.T) {
	c := NewHTTP()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHTTP_MessageReply(t *testing.T) {
	c := NewHTTP()
	var inbound core.Turn
	c.OnMessage(func(ctx context.Context, turn core.Turn) error {
		inbound = turn
		reply := core.NewAgentTurn("summarizer", "ETH is at 3000").
			WithMetadata(core.MetadataSessionID, turn.SessionID()).
			WithMetadata(core.MetadataCorrelationID, turn.Meta(core.MetadataCorrelationID))
		return c.SendMessage(ctx, reply)
	})

	rec := postMessage(t, c.Handler(), `{"session_id":"chat-7","text":"price of eth?","metadata":{"channel":"web"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "chat-7", resp.SessionID)
	assert.Equal(t, "ETH is at 3000", resp.Text)
	assert.Equal(t, "summarizer", resp.Author)
	assert.Equal(t, inbound.Meta(core.MetadataCorrelationID), resp.CorrelationID)
	assert.Equal(t, "web", inbound.Meta("channel"))
	assert.Equal(t, "price of eth?", inbound.Text())
	assert.Empty(t, c.pending)
}

func TestHTTP_AsyncReply(t *testing.T) {
	c := NewHTTP()
	c.OnMessage(func(_ context.Context, turn core.Turn) error {
		go func() {
			time.Sleep(5 * time.Millisecond)
			_ = c.SendMessage(context.Background(), core.NewAgentTurn("summarizer", "later").
				WithMetadata(core.MetadataCorrelationID, turn.Meta(core.MetadataCorrelationID)))
		}()
		return nil
	})

	rec := postMessage(t, c.Handler(), `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "later", resp.Text)
	assert.NotEmpty(t, resp.SessionID, "a session id is generated")
}

func TestHTTP_Errors(t *testing.T) {
	c := NewHTTP(func(o *HTTPOptions) { o.ReplyTimeout = 20 * time.Millisecond })

	rec := postMessage(t, c.Handler(), `{"text":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c.OnMessage(func(_ context.Context, turn core.Turn) error {
		switch turn.Text() {
		case "fail":
			return fmt.Errorf("run failed: %w", core.ErrAgentNotFound)
		case "slow":
			return nil
		}
		return errors.New("unexpected")
	})

	assert.Equal(t, http.StatusBadRequest, postMessage(t, c.Handler(), `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, postMessage(t, c.Handler(), `{"text":""}`).Code)

	rec = postMessage(t, c.Handler(), `{"text":"fail"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent not found")

	rec = postMessage(t, c.Handler(), `{"text":"slow"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestHTTP_SendMessageWithoutPending(t *testing.T) {
	c := NewHTTP()
	err := c.SendMessage(context.Background(), core.NewAgentTurn("summarizer", "orphan"))
	assert.Error(t, err)
}

func TestHTTP_MetricsMount(t *testing.T) {
	c := NewHTTP(func(o *HTTPOptions) {
		o.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("agentrelay_runs_total 1"))
		})
	})
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentrelay_runs_total")
}

func TestHTTP_StartServesAndShutsDown(t *testing.T) {
	c := NewHTTP(func(o *HTTPOptions) { o.Addr = "127.0.0.1:0" })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	addr, err := c.Addr(waitCtx)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
