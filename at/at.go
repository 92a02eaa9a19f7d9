package at

const (
	// Terminal Control
	CRLF = "\r\n"
	LF   = '\n'

	// Response Codes
	OK    = "OK"
	ERROR = "ERROR"
	FAIL  = "FAIL"
	Ready = "ready"

	// MQTT notifications
	MQTTConnected    = "MQTTCONNECTED"
	MQTTDisconnected = "MQTTDISCONNECTED"
	MQTTSubRecv      = "+MQTTSUBRECV:"
	MQTTSub          = "+MQTTSUB:"

	// WiFi notifications
	WiFiConnected    = "WIFI CONNECTED"
	WiFiGotIP        = "WIFI GOT IP"
	WiFiDisconnected = "WIFI DISCONNECT"
)

// Basic commands
const (
	CmdAt          = "AT"
	CmdEchoOff     = "ATE0"
	CmdReset       = "AT+RST"
	CmdModeQuery   = "AT+CWMODE?"
	CmdStationMode = "AT+CWMODE=1"
	CmdDHCPOn      = "AT+CWDHCP=1,1"
	CmdMQTTSubList = "AT+MQTTSUB?"
)

type ResponseType int

const (
	TypeData    ResponseType = iota // Intermediate command output (+MQTTSUB: ...)
	TypeSuccess                     // OK
	TypeFailure                     // ERROR, FAIL
	TypeURC                         // Asynchronous notifications
)

func (t ResponseType) String() string {
	switch t {
	case TypeSuccess:
		return "success"
	case TypeFailure:
		return "failure"
	case TypeURC:
		return "urc"
	default:
		return "data"
	}
}
