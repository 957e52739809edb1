package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// TerminalOptions configures a TerminalClient.
type TerminalOptions struct {
	In        io.Reader
	Out       io.Writer
	Prompt    string
	SessionID string
	Logger    logging.Logger
}

// TerminalClient reads user turns line by line and prints replies. Input
// is handled synchronously, so the prompt reappears after the reply.
// "exit" or "quit" ends the session.
type TerminalClient struct {
	opts TerminalOptions

	mu      sync.RWMutex
	handler core.MessageHandler
	outMu   sync.Mutex
}

// NewTerminal creates a terminal client on stdin and stdout.
func NewTerminal(optFns ...func(o *TerminalOptions)) *TerminalClient {
	opts := TerminalOptions{
		In:        os.Stdin,
		Out:       os.Stdout,
		Prompt:    "> ",
		SessionID: "terminal",
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &TerminalClient{opts: opts}
}

// Name implements core.Client.
func (c *TerminalClient) Name() string { return "terminal" }

// OnMessage implements core.Client.
func (c *TerminalClient) OnMessage(h core.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// SendMessage implements core.Client.
func (c *TerminalClient) SendMessage(_ context.Context, turn core.Turn) error {
	author := turn.Author
	if author == "" {
		author = "assistant"
	}
	return c.printf("%s: %s\n", author, turn.Text())
}

// Start implements core.Client. It returns nil at end of input or on exit.
func (c *TerminalClient) Start(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.opts.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		if err := c.printf("%s", c.opts.Prompt); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			text := strings.TrimSpace(line)
			switch strings.ToLower(text) {
			case "":
				continue
			case "exit", "quit":
				return nil
			}
			c.dispatch(ctx, text)
		}
	}
}

func (c *TerminalClient) dispatch(ctx context.Context, text string) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		return
	}

	turn := core.NewUserTurn(text).WithMetadata(core.MetadataSessionID, c.opts.SessionID)
	if err := h(ctx, turn); err != nil {
		c.opts.Logger.Error("message handling failed", "client", c.Name(), "error", err)
		_ = c.printf("error: %v\n", err)
	}
}

func (c *TerminalClient) printf(format string, args ...any) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintf(c.opts.Out, format, args...)
	return err
}
