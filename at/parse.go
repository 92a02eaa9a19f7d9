package at

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrParse is returned when a line does not have the expected shape.
	ErrParse = errors.New("at: malformed response line")

	// ErrTruncated is returned when a message carries fewer data bytes than
	// its declared length, usually because the payload spanned a line break
	// or overran the line buffer.
	ErrTruncated = errors.New("at: message data truncated")
)

// Message is a publication delivered by the modem for a subscribed topic.
type Message struct {
	LinkID int
	Topic  string
	Data   string
}

// Subscription is one entry of the AT+MQTTSUB? listing.
type Subscription struct {
	LinkID int    `json:"link_id"`
	State  int    `json:"state"`
	Topic  string `json:"topic"`
	QoS    int    `json:"qos"`
}

// ParseMessage parses a "+MQTTSUBRECV:<link>,"<topic>",<len>,<data>" line.
// On ErrTruncated the partial message is still returned.
func ParseMessage(line string) (Message, error) {
	rest, ok := strings.CutPrefix(Trim(line), MQTTSubRecv)
	if !ok {
		return Message{}, ErrParse
	}

	linkStr, rest, ok := strings.Cut(rest, ",")
	if !ok {
		return Message{}, ErrParse
	}
	link, err := strconv.Atoi(linkStr)
	if err != nil {
		return Message{}, ErrParse
	}

	topic, rest, err := cutQuoted(rest)
	if err != nil {
		return Message{}, err
	}
	rest, ok = strings.CutPrefix(rest, ",")
	if !ok {
		return Message{}, ErrParse
	}

	lenStr, data, ok := strings.Cut(rest, ",")
	if !ok {
		return Message{}, ErrParse
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil || n < 0 {
		return Message{}, ErrParse
	}

	msg := Message{LinkID: link, Topic: topic}
	if len(data) < n {
		msg.Data = data
		return msg, ErrTruncated
	}
	msg.Data = data[:n]
	return msg, nil
}

// ParseSubscription parses a "+MQTTSUB:<link>,<state>,"<topic>",<qos>" line.
func ParseSubscription(line string) (Subscription, error) {
	rest, ok := strings.CutPrefix(Trim(line), MQTTSub)
	if !ok {
		return Subscription{}, ErrParse
	}

	var sub Subscription
	linkStr, rest, ok := strings.Cut(rest, ",")
	if !ok {
		return Subscription{}, ErrParse
	}
	stateStr, rest, ok := strings.Cut(rest, ",")
	if !ok {
		return Subscription{}, ErrParse
	}
	topic, rest, err := cutQuoted(rest)
	if err != nil {
		return Subscription{}, err
	}
	qosStr, ok := strings.CutPrefix(rest, ",")
	if !ok {
		return Subscription{}, ErrParse
	}

	if sub.LinkID, err = strconv.Atoi(linkStr); err != nil {
		return Subscription{}, ErrParse
	}
	if sub.State, err = strconv.Atoi(stateStr); err != nil {
		return Subscription{}, ErrParse
	}
	if sub.QoS, err = strconv.Atoi(strings.TrimSpace(qosStr)); err != nil {
		return Subscription{}, ErrParse
	}
	sub.Topic = topic
	return sub, nil
}

func cutQuoted(s string) (value, rest string, err error) {
	s, ok := strings.CutPrefix(s, `"`)
	if !ok {
		return "", "", ErrParse
	}
	i := strings.IndexByte(s, '"')
	if i < 0 {
		return "", "", ErrParse
	}
	return s[:i], s[i+1:], nil
}
