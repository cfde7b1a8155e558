// Package mq carries report lifecycle events over MQTT.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"citizenportal/internal/reports"
)

const (
	TopicPrefix = "citizenportal/reports/"
	// TopicAll matches every report event.
	TopicAll = TopicPrefix + "+"

	qos            = 1
	publishTimeout = 3 * time.Second
)

var (
	ErrNotConnected   = errors.New("mqtt not connected")
	ErrPublishTimeout = errors.New("mqtt publish timed out")
)

// Topic returns the topic a lifecycle event is published on.
func Topic(event string) string { return TopicPrefix + event }

type Config struct {
	BrokerURL string
	ClientID  string
	Log       *logrus.Entry
	// OnConnect runs after every (re)connect; subscriptions belong here.
	OnConnect func(mqtt.Client)
	// ConnectWait bounds the initial connect. The client keeps retrying in
	// the background after it elapses.
	ConnectWait time.Duration
}

func Connect(cfg Config) (mqtt.Client, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("MQTT broker URL is empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "citizenportal-client"
	}
	if cfg.ConnectWait <= 0 {
		cfg.ConnectWait = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		cfg.Log.WithError(err).Warn("mqtt connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		cfg.Log.WithFields(logrus.Fields{"broker": cfg.BrokerURL, "client_id": cfg.ClientID}).Info("mqtt connected")
		if cfg.OnConnect != nil {
			cfg.OnConnect(c)
		}
	}

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(cfg.ConnectWait) {
		cfg.Log.WithField("broker", cfg.BrokerURL).Warn("mqtt broker not reachable yet; retrying in background")
		return c, nil
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return c, nil
}

type publishClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher sends report events to the broker. It satisfies reports.Publisher.
type Publisher struct {
	client  publishClient
	timeout time.Duration
}

func NewPublisher(c mqtt.Client) *Publisher {
	return &Publisher{client: c, timeout: publishTimeout}
}

func (p *Publisher) Publish(ctx context.Context, e reports.Event) error {
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	timeout := p.timeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	tok := p.client.Publish(Topic(e.Event), qos, false, b)
	if !tok.WaitTimeout(timeout) {
		return ErrPublishTimeout
	}
	return tok.Error()
}

// Subscribe routes every message on topic to fn.
func Subscribe(c mqtt.Client, topic string, fn func(topic string, payload []byte), log *logrus.Entry) error {
	tok := c.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		fn(msg.Topic(), msg.Payload())
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if log != nil {
		log.WithField("topic", topic).Info("mqtt subscribed")
	}
	return nil
}
