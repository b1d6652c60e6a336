package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type Client struct {
	conn *nats.Conn
}

func NewClient(bus *Bus) (*Client, error) {
	return NewClientFromURL(bus.ClientURL())
}

func NewClientFromURL(url string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name("aiteam"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Publish(topic string, data []byte) error {
	return c.conn.Publish(topic, data)
}

func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(topic, data)
}

func (c *Client) Subscribe(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(topic, handler)
}

// QueueSubscribe delivers each message on topic to one member of queue.
func (c *Client) QueueSubscribe(topic, queue string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.QueueSubscribe(topic, queue, handler)
}

func (c *Client) Request(topic string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	return c.conn.Request(topic, data, timeout)
}

// RequestWithContext sends a request and waits for the first reply until
// ctx is done.
func (c *Client) RequestWithContext(ctx context.Context, topic string, data []byte) (*nats.Msg, error) {
	return c.conn.RequestWithContext(ctx, topic, data)
}

// Connected reports whether the connection to the broker is currently up.
func (c *Client) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) FlushTimeout(timeout time.Duration) error {
	return c.conn.FlushTimeout(timeout)
}

func (c *Client) Close() {
	c.conn.Close()
}
