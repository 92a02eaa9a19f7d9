package modem

import "errors"

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNoPort is returned when a Transport is bound to a nil Port. It is
	// fatal to the calling sequence and is never retried.
	ErrNoPort = errors.New("no serial port")

	// ErrAlreadyClosed is returned when an operation is attempted on a Modem
	// that has already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrCommandTooLong is returned when a command plus its line terminator
	// does not fit the transmit staging buffer. Nothing is sent.
	ErrCommandTooLong = errors.New("command exceeds staging buffer")

	// ErrTransmitTimeout is returned when the serial port does not accept
	// a write within the transmit timeout.
	ErrTransmitTimeout = errors.New("transmit timeout")

	// ErrReceiveArmed is returned when reception is started twice on the
	// same port.
	ErrReceiveArmed = errors.New("receive already armed")

	// ErrTimeout is returned when no qualifying line arrived before the
	// deadline. Callers may retry.
	ErrTimeout = errors.New("response timeout")

	// ErrRejected is returned when the modem answered with an explicit
	// failure marker (ERROR, FAIL). Retrying the same command is unlikely
	// to help.
	ErrRejected = errors.New("command rejected")

	// ErrNoMessage is returned by Receive when the line read was not a
	// subscription message or nothing arrived in time.
	ErrNoMessage = errors.New("no message")

	// ErrEmptyArgument is returned when a required topic, message or SSID
	// is empty.
	ErrEmptyArgument = errors.New("empty argument")

	// ErrInvalidConfig is returned by ConfigBuilder.Build for out of range
	// settings.
	ErrInvalidConfig = errors.New("invalid config")
)
