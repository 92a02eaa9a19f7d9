package modem

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultResponseTimeout = 5 * time.Second
	DefaultWiFiTimeout     = 10 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultMaxRetries      = 3
	DefaultBrokerPort      = 1883
	DefaultClientID        = "espmqtt"
	DefaultTopic           = "abc"

	// NoRetries disables step retries in Config.MaxRetries.
	NoRetries = -1
)

// WiFiConfig holds the access point credentials.
type WiFiConfig struct {
	SSID     string
	Password string
}

// MQTTConfig holds the parameters of the modem's MQTT link.
type MQTTConfig struct {
	Host      string
	Port      int
	LinkID    int
	Scheme    int
	ClientID  string
	Username  string
	Password  string
	CertKeyID int
	CAID      int
	Path      string
	// Topic is used by FullInit and the Publish* helpers.
	Topic  string
	QoS    int
	Retain bool
	// NoReconnect disables the firmware's automatic reconnection.
	NoReconnect bool
}

type Config struct {
	Dialer Dialer
	Logger *slog.Logger
	Clock  Clock

	RingSize  int
	PollDelay time.Duration
	TxTimeout time.Duration

	ResponseTimeout time.Duration
	WiFiTimeout     time.Duration
	ConnectTimeout  time.Duration
	// MaxRetries is the number of extra attempts for a timed out step.
	// Zero selects DefaultMaxRetries and a negative value disables retries.
	MaxRetries int
	// WaitOnFailure keeps marker waits going after ERROR or FAIL lines
	// until the deadline.
	WaitOnFailure bool

	WiFi WiFiConfig
	MQTT MQTTConfig
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: qos %d", ErrInvalidConfig, c.MQTT.QoS)
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("%w: broker port %d", ErrInvalidConfig, c.MQTT.Port)
	}
	if c.RingSize < 2 {
		return fmt.Errorf("%w: ring size %d", ErrInvalidConfig, c.RingSize)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Clock == nil {
		c.Clock = NewSystemClock()
	}
	if c.RingSize == 0 {
		c.RingSize = DefaultRingSize
	}
	if c.PollDelay == 0 {
		c.PollDelay = DefaultPollDelay
	}
	if c.TxTimeout == 0 {
		c.TxTimeout = DefaultTxTimeout
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.WiFiTimeout == 0 {
		c.WiFiTimeout = DefaultWiFiTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = DefaultBrokerPort
	}
	if c.MQTT.Scheme == 0 {
		c.MQTT.Scheme = 1
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = DefaultTopic
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithClock(c Clock) *ConfigBuilder {
	b.config.Clock = c
	return b
}

func (b *ConfigBuilder) WithRingSize(n int) *ConfigBuilder {
	b.config.RingSize = n
	return b
}

func (b *ConfigBuilder) WithPollDelay(d time.Duration) *ConfigBuilder {
	b.config.PollDelay = d
	return b
}

func (b *ConfigBuilder) WithTxTimeout(d time.Duration) *ConfigBuilder {
	b.config.TxTimeout = d
	return b
}

func (b *ConfigBuilder) WithResponseTimeout(d time.Duration) *ConfigBuilder {
	b.config.ResponseTimeout = d
	return b
}

func (b *ConfigBuilder) WithWiFiTimeout(d time.Duration) *ConfigBuilder {
	b.config.WiFiTimeout = d
	return b
}

func (b *ConfigBuilder) WithConnectTimeout(d time.Duration) *ConfigBuilder {
	b.config.ConnectTimeout = d
	return b
}

// WithMaxRetries sets the retries per step. Zero disables retries.
func (b *ConfigBuilder) WithMaxRetries(n int) *ConfigBuilder {
	if n <= 0 {
		n = NoRetries
	}
	b.config.MaxRetries = n
	return b
}

func (b *ConfigBuilder) WithWaitOnFailure(wait bool) *ConfigBuilder {
	b.config.WaitOnFailure = wait
	return b
}

func (b *ConfigBuilder) WithWiFi(ssid, password string) *ConfigBuilder {
	b.config.WiFi = WiFiConfig{SSID: ssid, Password: password}
	return b
}

func (b *ConfigBuilder) WithBroker(host string, port int) *ConfigBuilder {
	b.config.MQTT.Host = host
	b.config.MQTT.Port = port
	return b
}

func (b *ConfigBuilder) WithClientID(id string) *ConfigBuilder {
	b.config.MQTT.ClientID = id
	return b
}

func (b *ConfigBuilder) WithCredentials(username, password string) *ConfigBuilder {
	b.config.MQTT.Username = username
	b.config.MQTT.Password = password
	return b
}

func (b *ConfigBuilder) WithTopic(topic string) *ConfigBuilder {
	b.config.MQTT.Topic = topic
	return b
}

func (b *ConfigBuilder) WithQoS(qos int) *ConfigBuilder {
	b.config.MQTT.QoS = qos
	return b
}

func (b *ConfigBuilder) WithRetain(retain bool) *ConfigBuilder {
	b.config.MQTT.Retain = retain
	return b
}

// Build applies defaults and validates the result.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	c.setDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
