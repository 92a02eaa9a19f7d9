package at

import (
	"bytes"
	"strings"
)

// FailureMarkers are the substrings that signal a definitive rejection
// by the modem firmware.
var FailureMarkers = []string{ERROR, FAIL}

// Contains reports whether line holds marker as an exact, case-sensitive
// byte sequence.
func Contains(line []byte, marker string) bool {
	if marker == "" {
		return false
	}
	return bytes.Contains(line, []byte(marker))
}

// ContainsAny returns the first marker found in line.
func ContainsAny(line []byte, markers []string) (string, bool) {
	for _, m := range markers {
		if Contains(line, m) {
			return m, true
		}
	}
	return "", false
}

// Trim strips the trailing line terminator.
func Trim(line string) string {
	return strings.TrimRight(line, CRLF)
}

// Classify identifies the nature of a received line. Unlike a strict
// final-result parser it works on substrings, the same way the command
// engine matches markers.
func Classify(line string) ResponseType {
	line = Trim(line)

	// URCs first: "+MQTTSUBRECV:" payloads may contain anything.
	switch {
	case strings.HasPrefix(line, MQTTSubRecv),
		strings.HasPrefix(line, "+"+MQTTConnected),
		strings.HasPrefix(line, "+"+MQTTDisconnected),
		strings.HasPrefix(line, "WIFI "):
		return TypeURC
	}

	switch {
	case strings.Contains(line, ERROR), strings.Contains(line, FAIL):
		return TypeFailure
	case strings.Contains(line, OK):
		return TypeSuccess
	default:
		return TypeData
	}
}
