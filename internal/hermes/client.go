package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectAnswered carries one AnsweredEvent per answered question.
	SubjectAnswered = "catalogqa.query.answered"
	// SubjectCatalogChanged is published by whatever owns the catalog when
	// goods change; cached answers are dropped on receipt.
	SubjectCatalogChanged = "catalogqa.catalog.changed"
)

// AnsweredEvent describes an answered question for downstream analytics.
type AnsweredEvent struct {
	EventID     string    `json:"event_id"`
	SessionID   string    `json:"session_id"`
	Question    string    `json:"question"`
	QueryType   string    `json:"query_type"`
	ResultCount int       `json:"result_count"`
	Quantity    int       `json:"quantity"`
	FromCache   bool      `json:"from_cache"`
	Relaxed     bool      `json:"relaxed"`
	Provider    string    `json:"provider"`
	DurationMS  int64     `json:"duration_ms"`
	At          time.Time `json:"at"`
}

// CatalogChanged announces that goods were added, edited or removed.
type CatalogChanged struct {
	GoodsIDs []int64   `json:"goods_ids,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("catalogqa"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) PublishAnswered(ev AnsweredEvent) error {
	return c.Publish(SubjectAnswered, ev)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// OnCatalogChanged decodes catalog change notices and hands them to fn.
// Malformed messages are logged and dropped.
func (c *Client) OnCatalogChanged(fn func(CatalogChanged)) error {
	return c.Subscribe(SubjectCatalogChanged, func(subject string, data []byte) {
		ev, err := DecodeCatalogChanged(data)
		if err != nil {
			c.logger.Warn("dropping malformed catalog change", "subject", subject, "error", err)
			return
		}
		fn(ev)
	})
}

// DecodeCatalogChanged accepts a JSON notice or an empty body, which means
// "something changed".
func DecodeCatalogChanged(data []byte) (CatalogChanged, error) {
	var ev CatalogChanged
	if len(data) == 0 {
		return ev, nil
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return CatalogChanged{}, fmt.Errorf("decode catalog change: %w", err)
	}
	return ev, nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
