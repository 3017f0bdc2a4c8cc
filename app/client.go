package chatkit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/edulms/chatkit/core"
)

// NewLogger builds the text logger used across the module. Source
// locations are trimmed to the file basename.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))
}

// Client wires a websocket transport, a REST resolver, and a chat
// session together from configuration.
type Client struct {
	Transport *core.WSTransport
	Resolver  *core.HTTPResolver
	Session   *core.Session

	logger *slog.Logger
}

func NewClient(config *Config, sink core.Sink) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := NewLogger()

	transport := core.NewWSTransport(config.Client.WSURL, config.Client.Token,
		core.WithTransportLogger(logger))
	resolver := core.NewHTTPResolver(config.Client.BaseURL, config.Client.Token)

	self := core.Participant{ID: config.Client.UserID, Name: config.Client.UserName}
	opts := []core.SessionOption{core.WithSessionLogger(logger)}
	if config.Client.TypingDebounceMS > 0 {
		opts = append(opts, core.WithTypingDebounce(time.Duration(config.Client.TypingDebounceMS)*time.Millisecond))
	}
	if config.Client.TypingQuietMS > 0 {
		opts = append(opts, core.WithTypingQuiet(time.Duration(config.Client.TypingQuietMS)*time.Millisecond))
	}
	session := core.NewSession(self, transport, resolver, resolver, sink, opts...)

	return &Client{
		Transport: transport,
		Resolver:  resolver,
		Session:   session,
		logger:    logger,
	}, nil
}

// Connect dials the realtime backend. The session is usable once
// Connect returns.
func (c *Client) Connect(ctx context.Context) error {
	return c.Transport.Connect(ctx)
}

// Close tears down the session and the transport.
func (c *Client) Close() error {
	c.Session.Close()
	return c.Transport.Close()
}
