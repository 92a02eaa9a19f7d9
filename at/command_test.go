package at_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"i4.energy/across/espmqtt/at"
)

func TestQuote(t *testing.T) {
	assert.Equal(t, `"plain"`, at.Quote("plain"))
	assert.Equal(t, `""`, at.Quote(""))
	assert.Equal(t, `"a\,b\"c\\d"`, at.Quote(`a,b"c\d`))
}

func TestCommandBuilders(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{
			name:     "join access point",
			got:      at.JoinAP("Dxny", "dxfly211"),
			expected: `AT+CWJAP="Dxny","dxfly211"`,
		},
		{
			name:     "join access point with separators",
			got:      at.JoinAP("home,net", `pa"ss`),
			expected: `AT+CWJAP="home\,net","pa\"ss"`,
		},
		{
			name: "user config",
			got: at.MQTTUserConfig(at.UserConfig{
				LinkID: 0, Scheme: 1, ClientID: "ID", Username: "MyName", Password: "secret",
			}),
			expected: `AT+MQTTUSERCFG=0,1,"ID","MyName","secret",0,0,""`,
		},
		{
			name:     "connect",
			got:      at.MQTTConnect(0, "47.113.191.144", 1883, true),
			expected: `AT+MQTTCONN=0,"47.113.191.144",1883,1`,
		},
		{
			name:     "subscribe",
			got:      at.MQTTSubscribe(0, "abc", 1),
			expected: `AT+MQTTSUB=0,"abc",1`,
		},
		{
			name:     "unsubscribe",
			got:      at.MQTTUnsubscribe(0, "abc"),
			expected: `AT+MQTTUNSUB=0,"abc"`,
		},
		{
			name:     "publish",
			got:      at.MQTTPublish(0, "abc", "Temperature: 21.5C", 0, false),
			expected: `AT+MQTTPUB=0,"abc","Temperature: 21.5C",0,0`,
		},
		{
			name:     "publish retained",
			got:      at.MQTTPublish(0, "abc", "Counter: 3", 1, true),
			expected: `AT+MQTTPUB=0,"abc","Counter: 3",1,1`,
		},
		{
			name:     "clean",
			got:      at.MQTTClean(0),
			expected: `AT+MQTTCLEAN=0`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.got)
		})
	}
}
