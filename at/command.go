package at

import (
	"fmt"
	"strings"
)

var escaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `,`, `\,`)

// Quote wraps s in double quotes, escaping the characters the ESP-AT
// firmware treats as separators inside string parameters.
func Quote(s string) string {
	return `"` + escaper.Replace(s) + `"`
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}

// JoinAP builds AT+CWJAP.
func JoinAP(ssid, password string) string {
	return fmt.Sprintf("AT+CWJAP=%s,%s", Quote(ssid), Quote(password))
}

// UserConfig holds the AT+MQTTUSERCFG parameters.
type UserConfig struct {
	LinkID   int
	Scheme   int
	ClientID string
	Username string
	Password string
	CertKey  int
	CA       int
	Path     string
}

// MQTTUserConfig builds AT+MQTTUSERCFG.
func MQTTUserConfig(c UserConfig) string {
	return fmt.Sprintf("AT+MQTTUSERCFG=%d,%d,%s,%s,%s,%d,%d,%s",
		c.LinkID, c.Scheme, Quote(c.ClientID), Quote(c.Username), Quote(c.Password),
		c.CertKey, c.CA, Quote(c.Path))
}

// MQTTConnect builds AT+MQTTCONN.
func MQTTConnect(linkID int, host string, port int, reconnect bool) string {
	return fmt.Sprintf("AT+MQTTCONN=%d,%s,%d,%d", linkID, Quote(host), port, boolArg(reconnect))
}

// MQTTSubscribe builds AT+MQTTSUB.
func MQTTSubscribe(linkID int, topic string, qos int) string {
	return fmt.Sprintf("AT+MQTTSUB=%d,%s,%d", linkID, Quote(topic), qos)
}

// MQTTUnsubscribe builds AT+MQTTUNSUB.
func MQTTUnsubscribe(linkID int, topic string) string {
	return fmt.Sprintf("AT+MQTTUNSUB=%d,%s", linkID, Quote(topic))
}

// MQTTPublish builds AT+MQTTPUB.
func MQTTPublish(linkID int, topic, data string, qos int, retain bool) string {
	return fmt.Sprintf("AT+MQTTPUB=%d,%s,%s,%d,%d", linkID, Quote(topic), Quote(data), qos, boolArg(retain))
}

// MQTTClean builds AT+MQTTCLEAN.
func MQTTClean(linkID int) string {
	return fmt.Sprintf("AT+MQTTCLEAN=%d", linkID)
}
