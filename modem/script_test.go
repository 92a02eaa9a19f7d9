package modem_test

import (
	"time"

	"i4.energy/across/espmqtt/at"
	"i4.energy/across/espmqtt/modem"
)

// scriptBuilder queues the modem side of common exchanges on a TestPort.
type scriptBuilder struct {
	port *modem.TestPort
}

func newScript(port *modem.TestPort) *scriptBuilder {
	return &scriptBuilder{port: port}
}

func ok(after time.Duration) modem.Reply {
	return modem.Reply{After: after, Data: "OK\r\n"}
}

func (b *scriptBuilder) EchoOff() *scriptBuilder {
	// Echo is still on when ATE0 arrives.
	b.port.On(at.CmdEchoOff, modem.Reply{After: 2 * time.Millisecond, Data: "ATE0\r\n"}, ok(5*time.Millisecond))
	return b
}

func (b *scriptBuilder) AT() *scriptBuilder {
	b.port.On(at.CmdAt, ok(5*time.Millisecond))
	return b
}

func (b *scriptBuilder) StationMode() *scriptBuilder {
	b.port.On(at.CmdStationMode, ok(5*time.Millisecond))
	return b
}

func (b *scriptBuilder) JoinAP(ssid, password string) *scriptBuilder {
	b.port.On(at.JoinAP(ssid, password),
		modem.Reply{After: 1500 * time.Millisecond, Data: "WIFI CONNECTED\r\n"},
		modem.Reply{After: 2500 * time.Millisecond, Data: "WIFI GOT IP\r\n"},
		ok(2600*time.Millisecond),
	)
	return b
}

func (b *scriptBuilder) UserConfig(c at.UserConfig) *scriptBuilder {
	b.port.On(at.MQTTUserConfig(c), ok(5*time.Millisecond))
	return b
}

func (b *scriptBuilder) Connect(host string, port int) *scriptBuilder {
	b.port.On(at.MQTTConnect(0, host, port, true),
		modem.Reply{After: 400 * time.Millisecond, Data: "+MQTTCONNECTED:0,1,\"" + host + "\",\"1883\",\"\",1\r\nOK\r\n"},
	)
	return b
}

func (b *scriptBuilder) Subscribe(topic string) *scriptBuilder {
	b.port.On(at.MQTTSubscribe(0, topic, 0), ok(50*time.Millisecond))
	return b
}

func (b *scriptBuilder) Publish(topic, message string) *scriptBuilder {
	b.port.On(at.MQTTPublish(0, topic, message, 0, false), ok(30*time.Millisecond))
	return b
}
