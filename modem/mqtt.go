package modem

import (
	"context"
	"fmt"
	"strings"

	"i4.energy/across/espmqtt/at"
)

// Canned device messages.
const (
	HelloMessage  = "Hello from ESP8266"
	StatusMessage = "Device Status: Online"
)

// ConfigureMQTT sends the MQTT user configuration.
func (m *Modem) ConfigureMQTT(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.configureMQTT(ctx)
}

func (m *Modem) configureMQTT(ctx context.Context) error {
	c := m.config.MQTT
	cmd := at.MQTTUserConfig(at.UserConfig{
		LinkID:   c.LinkID,
		Scheme:   c.Scheme,
		ClientID: c.ClientID,
		Username: c.Username,
		Password: c.Password,
		CertKey:  c.CertKeyID,
		CA:       c.CAID,
		Path:     c.Path,
	})
	_, err := m.exec(ctx, func(e *Engine) (Result, error) {
		return e.RunUntilOk(cmd, m.config.ResponseTimeout, Sensitive())
	})
	if err != nil {
		return fmt.Errorf("mqtt user config: %w", err)
	}
	return nil
}

// ConnectMQTT connects to the configured broker and waits for the
// MQTTCONNECTED notification.
func (m *Modem) ConnectMQTT(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.connectMQTT(ctx)
}

func (m *Modem) connectMQTT(ctx context.Context) error {
	c := m.config.MQTT
	if c.Host == "" {
		return fmt.Errorf("broker host: %w", ErrEmptyArgument)
	}
	cmd := at.MQTTConnect(c.LinkID, c.Host, c.Port, !c.NoReconnect)
	if _, err := m.exec(ctx, func(e *Engine) (Result, error) {
		return e.RunUntilMarker(cmd, at.MQTTConnected, m.config.ConnectTimeout)
	}); err != nil {
		return fmt.Errorf("connect %s:%d: %w", c.Host, c.Port, err)
	}
	m.logger.Info("MQTT connected", "host", c.Host, "port", c.Port)
	return nil
}

// Subscribe subscribes to topic with the configured QoS.
func (m *Modem) Subscribe(ctx context.Context, topic string) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.subscribe(ctx, topic)
}

func (m *Modem) subscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return fmt.Errorf("subscribe topic: %w", ErrEmptyArgument)
	}
	if err := m.expectOk(ctx, at.MQTTSubscribe(m.config.MQTT.LinkID, topic, m.config.MQTT.QoS)); err != nil {
		return fmt.Errorf("subscribe %q: %w", topic, err)
	}
	return nil
}

// Unsubscribe drops the subscription to topic.
func (m *Modem) Unsubscribe(ctx context.Context, topic string) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if topic == "" {
		return fmt.Errorf("unsubscribe topic: %w", ErrEmptyArgument)
	}
	if err := m.expectOk(ctx, at.MQTTUnsubscribe(m.config.MQTT.LinkID, topic)); err != nil {
		return fmt.Errorf("unsubscribe %q: %w", topic, err)
	}
	return nil
}

// Publish publishes message on topic and returns once the modem answered
// OK or ERROR.
func (m *Modem) Publish(ctx context.Context, topic, message string) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.publish(ctx, topic, message)
}

func (m *Modem) publish(ctx context.Context, topic, message string) error {
	if topic == "" || message == "" {
		return fmt.Errorf("publish: %w", ErrEmptyArgument)
	}
	c := m.config.MQTT
	cmd := at.MQTTPublish(c.LinkID, topic, message, c.QoS, c.Retain)
	if _, err := m.exec(ctx, func(e *Engine) (Result, error) {
		return e.PublishAndAwait(cmd, m.config.ResponseTimeout)
	}); err != nil {
		return fmt.Errorf("publish to %q: %w", topic, err)
	}
	return nil
}

// PublishStatus publishes the online status on the configured topic.
func (m *Modem) PublishStatus(ctx context.Context) error {
	return m.Publish(ctx, m.config.MQTT.Topic, StatusMessage)
}

// PublishCounter publishes a counter value on the configured topic.
func (m *Modem) PublishCounter(ctx context.Context, count uint32) error {
	return m.Publish(ctx, m.config.MQTT.Topic, fmt.Sprintf("Counter: %d", count))
}

// PublishTemperature publishes a temperature reading on the configured
// topic.
func (m *Modem) PublishTemperature(ctx context.Context, celsius float64) error {
	return m.Publish(ctx, m.config.MQTT.Topic, fmt.Sprintf("Temperature: %.1fC", celsius))
}

// QuerySubscriptions lists the modem's active subscriptions. Listing
// lines never end the exchange, so topics containing OK or ERROR are
// reported like any other.
func (m *Modem) QuerySubscriptions(ctx context.Context) ([]at.Subscription, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	res, err := m.exec(ctx, func(e *Engine) (Result, error) {
		return e.RunUntilOk(at.CmdMQTTSubList, m.config.ResponseTimeout, SkipPrefix(at.MQTTSub))
	})
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}

	var subs []at.Subscription
	for _, line := range res.Lines {
		if !strings.HasPrefix(line, at.MQTTSub) {
			continue
		}
		sub, err := at.ParseSubscription(line)
		if err != nil {
			m.logger.Warn("Skipping malformed subscription line", "line", at.Trim(line), "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// DisconnectMQTT closes the broker connection.
func (m *Modem) DisconnectMQTT(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if err := m.expectOk(ctx, at.MQTTClean(m.config.MQTT.LinkID)); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	m.logger.Info("MQTT disconnected")
	return nil
}
