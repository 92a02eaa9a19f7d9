package modem_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"i4.energy/across/espmqtt/at"
	"i4.energy/across/espmqtt/modem"
)

const (
	testSSID     = "Dxny"
	testPassword = "dxfly211"
	testBroker   = "47.113.191.144"
)

var testUserConfig = at.UserConfig{Scheme: 1, ClientID: "ID", Username: "MyName", Password: "secret"}

func newTestModem(t *testing.T, configure func(*modem.ConfigBuilder)) (*modem.Modem, *modem.TestPort, *modem.ManualClock) {
	t.Helper()
	ctrl := gomock.NewController(t)
	clock := modem.NewManualClock(0)
	port := modem.NewTestPort(clock)

	dialer := modem.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(port, nil)

	b := modem.NewConfigBuilder().
		WithDialer(dialer).
		WithClock(clock).
		WithWiFi(testSSID, testPassword).
		WithBroker(testBroker, 1883).
		WithClientID("ID").
		WithCredentials("MyName", "secret")
	if configure != nil {
		configure(b)
	}
	config, err := b.Build()
	require.NoError(t, err)

	m, err := modem.New(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, port, clock
}

func TestModemNew(t *testing.T) {
	t.Run("Initialization Success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockPort := modem.NewMockPort(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			mockDialer.EXPECT().Dial(gomock.Any()).Return(mockPort, nil),
			mockPort.EXPECT().StartReceive(gomock.Any()).Return(nil),
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m == nil {
			t.Fatal("New() should return valid modem on success")
		}

		mockPort.EXPECT().Close().Return(nil)
		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})

	t.Run("Dialer error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("connection failed"))

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err == nil {
			t.Error("expected error from dialer failure")
		}
		if m != nil {
			t.Error("New() should return nil modem when dialer fails")
		}
	})

	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		m, err := modem.New(context.Background(), modem.Config{})
		if !errors.Is(err, modem.ErrNoDialer) {
			t.Errorf("expected ErrNoDialer from New(), got: %v", err)
		}
		if m != nil {
			t.Error("New() should return nil modem when no dialer provided")
		}
	})

	t.Run("ErrNoPort on nil port", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, nil)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		_, err = modem.New(context.Background(), config)
		if !errors.Is(err, modem.ErrNoPort) {
			t.Errorf("expected ErrNoPort from New(), got: %v", err)
		}
	})

	t.Run("Port is closed when arming fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockPort := modem.NewMockPort(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			mockDialer.EXPECT().Dial(gomock.Any()).Return(mockPort, nil),
			mockPort.EXPECT().StartReceive(gomock.Any()).Return(modem.ErrReceiveArmed),
			mockPort.EXPECT().Close().Return(nil),
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		require.NoError(t, err)

		_, err = modem.New(context.Background(), config)
		assert.ErrorIs(t, err, modem.ErrReceiveArmed)
	})
}

func TestModemClose(t *testing.T) {
	t.Run("Returns port error on close failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockPort := modem.NewMockPort(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		closeError := errors.New("port close failed")
		gomock.InOrder(
			mockDialer.EXPECT().Dial(gomock.Any()).Return(mockPort, nil),
			mockPort.EXPECT().StartReceive(gomock.Any()).Return(nil),
			mockPort.EXPECT().Close().Return(closeError),
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		require.NoError(t, err)

		m, err := modem.New(context.Background(), config)
		require.NoError(t, err)

		if err := m.Close(); err != closeError {
			t.Errorf("expected port error, got: %v", err)
		}
	})

	t.Run("ErrAlreadyClosed on double close and later calls", func(t *testing.T) {
		m, port, _ := newTestModem(t, nil)

		require.NoError(t, m.Close())
		assert.True(t, port.Closed())

		assert.ErrorIs(t, m.Close(), modem.ErrAlreadyClosed)
		assert.ErrorIs(t, m.Publish(context.Background(), "abc", "x"), modem.ErrAlreadyClosed)
		_, err := m.Receive(context.Background(), time.Second)
		assert.ErrorIs(t, err, modem.ErrAlreadyClosed)
	})
}

func TestModemFullInit(t *testing.T) {
	t.Run("Complete bring-up", func(t *testing.T) {
		m, port, clock := newTestModem(t, nil)

		newScript(port).
			EchoOff().
			AT().
			StationMode().
			JoinAP(testSSID, testPassword).
			UserConfig(testUserConfig).
			Connect(testBroker, 1883).
			Subscribe(modem.DefaultTopic).
			Publish(modem.DefaultTopic, modem.HelloMessage)

		err := m.FullInit(context.Background())
		require.NoError(t, err)

		assert.Equal(t, []string{
			"ATE0\r\n",
			"AT\r\n",
			"AT+CWMODE=1\r\n",
			`AT+CWJAP="Dxny","dxfly211"` + "\r\n",
			`AT+MQTTUSERCFG=0,1,"ID","MyName","secret",0,0,""` + "\r\n",
			`AT+MQTTCONN=0,"47.113.191.144",1883,1` + "\r\n",
			`AT+MQTTSUB=0,"abc",0` + "\r\n",
			`AT+MQTTPUB=0,"abc","Hello from ESP8266",0,0` + "\r\n",
		}, port.Sent())
		assert.Less(t, clock.Ticks(), uint32(5000))
		assert.Equal(t, uint64(8), m.Stats().Success)
	})

	t.Run("Timed out step is retried", func(t *testing.T) {
		m, port, clock := newTestModem(t, nil)

		// First AT goes unanswered.
		port.On(at.CmdAt)
		newScript(port).
			EchoOff().
			EchoOff().
			AT().
			StationMode().
			JoinAP(testSSID, testPassword).
			UserConfig(testUserConfig).
			Connect(testBroker, 1883).
			Subscribe(modem.DefaultTopic).
			Publish(modem.DefaultTopic, modem.HelloMessage)

		require.NoError(t, m.FullInit(context.Background()))

		sent := port.Sent()
		assert.Equal(t, []string{"ATE0\r\n", "AT\r\n", "ATE0\r\n", "AT\r\n"}, sent[:4])
		assert.GreaterOrEqual(t, clock.Ticks(), uint32(5000))
		assert.Equal(t, uint64(1), m.Stats().Timeout)
	})

	t.Run("Rejected step is not retried", func(t *testing.T) {
		m, port, _ := newTestModem(t, nil)

		newScript(port).EchoOff().AT().StationMode()
		port.On(at.JoinAP(testSSID, testPassword),
			modem.Reply{After: 3 * time.Second, Data: "+CWJAP:1\r\n"},
			modem.Reply{After: 3 * time.Second, Data: "FAIL\r\n"},
		)

		err := m.FullInit(context.Background())

		assert.ErrorIs(t, err, modem.ErrRejected)
		assert.NotErrorIs(t, err, modem.ErrTimeout)
		assert.Contains(t, err.Error(), "wifi")
		joins := 0
		for _, s := range port.Sent() {
			if strings.HasPrefix(s, "AT+CWJAP") {
				joins++
			}
		}
		assert.Equal(t, 1, joins)
	})

	t.Run("Retries are bounded", func(t *testing.T) {
		m, port, clock := newTestModem(t, func(b *modem.ConfigBuilder) {
			b.WithMaxRetries(1).WithResponseTimeout(time.Second)
		})

		err := m.FullInit(context.Background())

		assert.ErrorIs(t, err, modem.ErrTimeout)
		assert.Equal(t, []string{"ATE0\r\n", "ATE0\r\n"}, port.Sent())
		assert.Equal(t, uint32(2000), clock.Ticks())
	})

	t.Run("Zero retries disables retrying", func(t *testing.T) {
		m, port, clock := newTestModem(t, func(b *modem.ConfigBuilder) {
			b.WithMaxRetries(0).WithResponseTimeout(time.Second)
		})

		err := m.FullInit(context.Background())

		assert.ErrorIs(t, err, modem.ErrTimeout)
		assert.NotContains(t, err.Error(), "retries")
		assert.Equal(t, []string{"ATE0\r\n"}, port.Sent())
		assert.Equal(t, uint32(1000), clock.Ticks())
	})

	t.Run("Canceled context sends nothing", func(t *testing.T) {
		m, port, _ := newTestModem(t, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, m.FullInit(ctx), context.Canceled)
		assert.Empty(t, port.Sent())
	})

	t.Run("Missing SSID", func(t *testing.T) {
		m, port, _ := newTestModem(t, func(b *modem.ConfigBuilder) {
			b.WithWiFi("", "")
		})
		newScript(port).EchoOff().AT()

		err := m.FullInit(context.Background())
		assert.ErrorIs(t, err, modem.ErrEmptyArgument)
	})
}

func TestModemConnectMQTT(t *testing.T) {
	t.Run("ERROR ends the wait early", func(t *testing.T) {
		m, port, clock := newTestModem(t, nil)
		port.On(at.MQTTConnect(0, testBroker, 1883, true), modem.Reply{After: 20 * time.Millisecond, Data: "ERROR\r\n"})

		err := m.ConnectMQTT(context.Background())

		assert.ErrorIs(t, err, modem.ErrRejected)
		assert.Less(t, clock.Ticks(), uint32(100))
	})

	t.Run("WaitOnFailure waits for the deadline", func(t *testing.T) {
		m, port, clock := newTestModem(t, func(b *modem.ConfigBuilder) {
			b.WithWaitOnFailure(true)
		})
		port.On(at.MQTTConnect(0, testBroker, 1883, true), modem.Reply{After: 20 * time.Millisecond, Data: "ERROR\r\n"})

		err := m.ConnectMQTT(context.Background())

		assert.ErrorIs(t, err, modem.ErrTimeout)
		assert.Equal(t, uint32(10000), clock.Ticks())
	})
}

func TestModemPublish(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		m, port, _ := newTestModem(t, nil)
		newScript(port).Publish("abc", "Temperature: 21.5C")

		require.NoError(t, m.PublishTemperature(context.Background(), 21.54))
	})

	t.Run("Counter and status", func(t *testing.T) {
		m, port, _ := newTestModem(t, nil)
		newScript(port).Publish("abc", "Counter: 7").Publish("abc", modem.StatusMessage)

		require.NoError(t, m.PublishCounter(context.Background(), 7))
		require.NoError(t, m.PublishStatus(context.Background()))
	})

	t.Run("ERROR is a rejection", func(t *testing.T) {
		m, port, _ := newTestModem(t, nil)
		port.On(at.MQTTPublish(0, "abc", "x", 0, false), modem.Reply{After: 10 * time.Millisecond, Data: "ERROR\r\n"})

		err := m.Publish(context.Background(), "abc", "x")
		assert.ErrorIs(t, err, modem.ErrRejected)
	})

	t.Run("Empty arguments", func(t *testing.T) {
		m, port, _ := newTestModem(t, nil)

		assert.ErrorIs(t, m.Publish(context.Background(), "", "x"), modem.ErrEmptyArgument)
		assert.ErrorIs(t, m.Publish(context.Background(), "abc", ""), modem.ErrEmptyArgument)
		assert.ErrorIs(t, m.Subscribe(context.Background(), ""), modem.ErrEmptyArgument)
		assert.ErrorIs(t, m.Unsubscribe(context.Background(), ""), modem.ErrEmptyArgument)
		assert.Empty(t, port.Sent())
	})

	t.Run("Oversized message is not sent", func(t *testing.T) {
		m, port, _ := newTestModem(t, nil)

		err := m.Publish(context.Background(), "abc", strings.Repeat("x", 300))

		assert.ErrorIs(t, err, modem.ErrCommandTooLong)
		assert.Empty(t, port.Sent())
	})
}

func TestModemQuerySubscriptions(t *testing.T) {
	m, port, _ := newTestModem(t, nil)
	port.On(at.CmdMQTTSubList,
		modem.Reply{After: 10 * time.Millisecond, Data: "+MQTTSUB:0,6,\"abc\",0\r\n"},
		modem.Reply{After: 10 * time.Millisecond, Data: "+MQTTSUB:0,6,broken\r\n"},
		modem.Reply{After: 10 * time.Millisecond, Data: "+MQTTSUB:0,6,\"dev/1\",1\r\n"},
		// Topics containing a marker must not end the listing.
		modem.Reply{After: 12 * time.Millisecond, Data: "+MQTTSUB:0,6,\"BOOK\",0\r\n"},
		modem.Reply{After: 12 * time.Millisecond, Data: "+MQTTSUB:0,6,\"ERROR/log\",2\r\n"},
		ok(15*time.Millisecond),
	)

	subs, err := m.QuerySubscriptions(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []at.Subscription{
		{LinkID: 0, State: 6, Topic: "abc", QoS: 0},
		{LinkID: 0, State: 6, Topic: "dev/1", QoS: 1},
		{LinkID: 0, State: 6, Topic: "BOOK", QoS: 0},
		{LinkID: 0, State: 6, Topic: "ERROR/log", QoS: 2},
	}, subs)
}

func TestModemUnsubscribeAndDisconnect(t *testing.T) {
	m, port, _ := newTestModem(t, nil)
	port.On(at.MQTTUnsubscribe(0, "abc"), ok(10*time.Millisecond))
	port.On(at.MQTTClean(0), ok(10*time.Millisecond))

	require.NoError(t, m.Unsubscribe(context.Background(), "abc"))
	require.NoError(t, m.DisconnectMQTT(context.Background()))
	assert.Equal(t, []string{"AT+MQTTUNSUB=0,\"abc\"\r\n", "AT+MQTTCLEAN=0\r\n"}, port.Sent())
}

func TestModemReset(t *testing.T) {
	m, port, _ := newTestModem(t, nil)
	port.On(at.CmdReset,
		ok(5*time.Millisecond),
		modem.Reply{After: 300 * time.Millisecond, Data: "\x00\xff garbage\r\n"},
		modem.Reply{After: 600 * time.Millisecond, Data: "ready\r\n"},
	)

	require.NoError(t, m.Reset(context.Background()))
}

func TestModemReceive(t *testing.T) {
	t.Run("Subscription message", func(t *testing.T) {
		m, port, _ := newTestModem(t, nil)
		port.Feed("+MQTTSUBRECV:0,\"abc\",5,hello\r\n")

		msg, err := m.Receive(context.Background(), time.Second)

		require.NoError(t, err)
		assert.Equal(t, at.Message{LinkID: 0, Topic: "abc", Data: "hello"}, msg)
	})

	t.Run("Other lines are ignored", func(t *testing.T) {
		m, port, _ := newTestModem(t, nil)
		port.Feed("WIFI GOT IP\r\n")

		_, err := m.Receive(context.Background(), time.Second)
		assert.ErrorIs(t, err, modem.ErrNoMessage)
	})

	t.Run("Silence", func(t *testing.T) {
		m, _, clock := newTestModem(t, nil)

		_, err := m.Receive(context.Background(), 200*time.Millisecond)
		assert.ErrorIs(t, err, modem.ErrNoMessage)
		assert.Equal(t, uint32(200), clock.Ticks())
	})

	t.Run("Line split across the poll deadline", func(t *testing.T) {
		m, port, clock := newTestModem(t, nil)
		line := "+MQTTSUBRECV:0,\"abc\",11,hello world\r\n"
		clock.AfterFunc(499*time.Millisecond, func() { port.Feed(line[:20]) })
		clock.AfterFunc(501*time.Millisecond, func() { port.Feed(line[20:]) })

		_, err := m.Receive(context.Background(), 500*time.Millisecond)
		assert.ErrorIs(t, err, modem.ErrNoMessage)

		msg, err := m.Receive(context.Background(), 500*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, at.Message{LinkID: 0, Topic: "abc", Data: "hello world"}, msg)
	})

	t.Run("Command exchange drops a kept fragment", func(t *testing.T) {
		m, port, _ := newTestModem(t, nil)
		port.Feed("+MQTTSUBRECV:0,\"abc\",3,o")

		_, err := m.Receive(context.Background(), 100*time.Millisecond)
		assert.ErrorIs(t, err, modem.ErrNoMessage)

		newScript(port).Publish("abc", "x")
		require.NoError(t, m.Publish(context.Background(), "abc", "x"))

		port.Feed("+MQTTSUBRECV:0,\"dev/1\",2,hi\r\n")
		msg, err := m.Receive(context.Background(), 100*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, at.Message{LinkID: 0, Topic: "dev/1", Data: "hi"}, msg)
	})

	t.Run("Truncated message", func(t *testing.T) {
		m, port, _ := newTestModem(t, nil)
		port.Feed("+MQTTSUBRECV:0,\"abc\",20,hello\r\n")

		msg, err := m.Receive(context.Background(), time.Second)
		assert.ErrorIs(t, err, at.ErrTruncated)
		assert.Equal(t, "abc", msg.Topic)
	})
}

func TestModemStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	clock := modem.NewManualClock(0)
	port := modem.NewTestPort(clock)
	dialer := modem.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(port, nil)

	config, err := modem.NewConfigBuilder().
		WithDialer(dialer).
		WithClock(clock).
		WithRingSize(8).
		Build()
	require.NoError(t, err)
	m, err := modem.New(context.Background(), config)
	require.NoError(t, err)
	defer m.Close()

	port.Feed("0123456789")
	assert.Equal(t, uint64(3), m.Stats().Dropped)
}
