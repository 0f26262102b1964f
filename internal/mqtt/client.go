// Package mqtt wraps the paho MQTT client: the bus subscription that feeds
// the pipeline and the publisher that republishes completed batches.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/roadsense/roadsense/internal/domain/telemetry"
)

// Config holds broker and topic settings.
type Config struct {
	BrokerHost string
	BrokerPort int
	ClientID   string
	// Topic carries single-record JSON messages from edge agents.
	Topic string
	// BatchTopic receives completed batches as a JSON array. Kept separate
	// from Topic so the service does not re-ingest its own output.
	BatchTopic string
}

const (
	connectTimeout = 10 * time.Second
	publishQoS     = 0
)

// Client is a connected MQTT session.
type Client struct {
	cli paho.Client
	cfg Config
	log *logrus.Logger

	mu      sync.Mutex
	records func(payload []byte)
}

// Dial connects to the broker. Connect retries and auto-reconnect are enabled
// so a temporarily absent broker does not keep the service from starting; the
// record subscription is re-established on every (re)connect.
func Dial(cfg Config, log *logrus.Logger) (*Client, error) {
	c := &Client{cfg: cfg, log: log}

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.BrokerHost, cfg.BrokerPort)).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(connectTimeout)
	opts.OnConnect = func(paho.Client) {
		log.WithField("broker", fmt.Sprintf("%s:%d", cfg.BrokerHost, cfg.BrokerPort)).
			Info("connected to MQTT broker")
		c.resubscribe()
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	}

	c.cli = paho.NewClient(opts)
	token := c.cli.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// Connection continues in the background thanks to SetConnectRetry.
		log.Warn("MQTT broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return c, nil
}

// SubscribeRecords registers handler for every message arriving on the record
// topic. The subscription takes effect as soon as the broker connection is up
// and survives reconnects. The paho client invokes handlers on its own
// goroutine, one ordered stream per subscription.
func (c *Client) SubscribeRecords(handler func(payload []byte)) error {
	c.mu.Lock()
	c.records = handler
	c.mu.Unlock()

	if c.cli.IsConnected() {
		c.resubscribe()
	}
	return nil
}

// resubscribe issues the record-topic subscription if a handler is installed.
// Called from the connect callback, so failures can only be logged.
func (c *Client) resubscribe() {
	c.mu.Lock()
	handler := c.records
	c.mu.Unlock()
	if handler == nil {
		return
	}

	token := c.cli.Subscribe(c.cfg.Topic, publishQoS, func(_ paho.Client, m paho.Message) {
		handler(m.Payload())
	})
	if token.WaitTimeout(connectTimeout) {
		if err := token.Error(); err != nil {
			c.log.WithError(err).WithField("topic", c.cfg.Topic).Error("mqtt subscribe failed")
			return
		}
		c.log.WithField("topic", c.cfg.Topic).Info("subscribed to record topic")
	}
}

// PublishBatch republishes one flushed batch as a JSON array on the batch
// topic. The ctx deadline bounds the wait on broker acknowledgement.
func (c *Client) PublishBatch(ctx context.Context, batch []telemetry.ProcessedAgentData) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	wait := connectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}

	token := c.cli.Publish(c.cfg.BatchTopic, publishQoS, false, data)
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("mqtt publish %q: timed out", c.cfg.BatchTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %q: %w", c.cfg.BatchTopic, err)
	}
	return nil
}

// Close disconnects from the broker, allowing in-flight work to finish.
func (c *Client) Close() {
	c.cli.Disconnect(250)
}
