package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/saviobatista/sbs-archiver/internal/types"
)

const (
	// SubjectRecords carries one JSON-encoded record per message
	SubjectRecords = "adsb.records"
	// StreamRecords is the JetStream stream bound to SubjectRecords
	StreamRecords = "ADSB_RECORDS"
)

// JetStream is the subset of nats.JetStreamContext used by Client
type JetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	Subscribe(subj string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// Client publishes decoded records to NATS JetStream
type Client struct {
	conn *nats.Conn
	js   JetStream
}

// New connects to url and ensures the records stream exists
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("sbs-archiver"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       StreamRecords,
		Subjects:   []string{SubjectRecords},
		Storage:    nats.FileStorage,
		MaxAge:     24 * time.Hour,
		Duplicates: 2 * time.Minute,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

// NewWithJetStream creates a Client over an existing JetStream context (useful for testing)
func NewWithJetStream(js JetStream) *Client {
	return &Client{js: js}
}

// PublishRecord publishes rec, using its exact hash as the JetStream message id
// so the server drops duplicates within the stream's duplicate window
func (c *Client) PublishRecord(rec *types.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	var opts []nats.PubOpt
	if rec.ExactHash != "" {
		opts = append(opts, nats.MsgId(rec.ExactHash))
	}
	if _, err := c.js.Publish(SubjectRecords, data, opts...); err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}
	return nil
}

// Observe implements capture.Observer
func (c *Client) Observe(_ context.Context, rec types.Record) error {
	return c.PublishRecord(&rec)
}

// SubscribeRecords subscribes to published records
func (c *Client) SubscribeRecords(handler func(*types.Record)) error {
	_, err := c.js.Subscribe(SubjectRecords, func(msg *nats.Msg) {
		var rec types.Record
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			return
		}
		handler(&rec)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
