package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// HTTPToken, when set, is required as a bearer token on the HTTP API
	HTTPToken string `yaml:"http_token"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`

	WiFiSSID     string `yaml:"wifi_ssid"`
	WiFiPassword string `yaml:"wifi_password"`

	// BrokerHost and BrokerPort are the broker the modem connects to.
	BrokerHost   string `yaml:"broker_host"`
	BrokerPort   int    `yaml:"broker_port"`
	MQTTClientID string `yaml:"mqtt_client_id"`
	MQTTUsername string `yaml:"mqtt_username"`
	MQTTPassword string `yaml:"mqtt_password"`
	// Topic is subscribed at start-up and used when a publish request names none.
	Topic string `yaml:"topic"`

	// RelayBroker is an upstream broker URL (e.g. "tcp://localhost:1883").
	// Empty disables the relay.
	RelayBroker string `yaml:"relay_broker"`
	RelayTopic  string `yaml:"relay_topic"`
	// RelayForwardPrefix prefixes the upstream topic of received messages.
	RelayForwardPrefix string `yaml:"relay_forward_prefix"`

	// MinPublishInterval is the minimum spacing between modem publications.
	MinPublishInterval time.Duration `yaml:"min_publish_interval"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.BrokerPort = 1883
		c.MQTTClientID = "espmqtt"
		c.Topic = "abc"
		c.RelayTopic = "espmqtt/publish"
		c.RelayForwardPrefix = "espmqtt/received"
		c.MinPublishInterval = time.Second
		return nil
	}
}

// WithFile loads configuration from a YAML file. Keys missing from the file
// keep their current value. An empty path is a no-op.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if token := os.Getenv("HTTP_TOKEN"); token != "" {
			c.HTTPToken = token
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if ssid := os.Getenv("WIFI_SSID"); ssid != "" {
			c.WiFiSSID = ssid
		}

		if pw := os.Getenv("WIFI_PASSWORD"); pw != "" {
			c.WiFiPassword = pw
		}

		if host := os.Getenv("BROKER_HOST"); host != "" {
			c.BrokerHost = host
		}

		if port := os.Getenv("BROKER_PORT"); port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				c.BrokerPort = p
			}
		}

		if id := os.Getenv("MQTT_CLIENT_ID"); id != "" {
			c.MQTTClientID = id
		}

		if user := os.Getenv("MQTT_USERNAME"); user != "" {
			c.MQTTUsername = user
		}

		if pw := os.Getenv("MQTT_PASSWORD"); pw != "" {
			c.MQTTPassword = pw
		}

		if topic := os.Getenv("MQTT_TOPIC"); topic != "" {
			c.Topic = topic
		}

		if broker := os.Getenv("RELAY_BROKER"); broker != "" {
			c.RelayBroker = broker
		}

		if topic := os.Getenv("RELAY_TOPIC"); topic != "" {
			c.RelayTopic = topic
		}

		if prefix := os.Getenv("RELAY_FORWARD_PREFIX"); prefix != "" {
			c.RelayForwardPrefix = prefix
		}

		if interval := os.Getenv("MIN_PUBLISH_INTERVAL"); interval != "" {
			if d, err := time.ParseDuration(interval); err == nil {
				c.MinPublishInterval = d
			}
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "http-token":
				c.HTTPToken = f.Value.String()
			case "log-level":
				c.LogLevel = f.Value.String()
			case "wifi-ssid":
				c.WiFiSSID = f.Value.String()
			case "wifi-password":
				c.WiFiPassword = f.Value.String()
			case "broker-host":
				c.BrokerHost = f.Value.String()
			case "broker-port":
				if p, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BrokerPort = p
				}
			case "mqtt-client-id":
				c.MQTTClientID = f.Value.String()
			case "mqtt-username":
				c.MQTTUsername = f.Value.String()
			case "mqtt-password":
				c.MQTTPassword = f.Value.String()
			case "topic":
				c.Topic = f.Value.String()
			case "relay-broker":
				c.RelayBroker = f.Value.String()
			case "relay-topic":
				c.RelayTopic = f.Value.String()
			case "relay-forward-prefix":
				c.RelayForwardPrefix = f.Value.String()
			case "publish-interval":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.MinPublishInterval = d
				}
			}
		})
		return nil
	}
}
