// Package protocol defines the node/supervisor wire protocol: the packet tag
// byte, the fixed-layout Settings and Status records and their little-endian
// encodings.
package protocol

import (
	"errors"
	"fmt"
)

const (
	// MaxPlants is the number of moisture channels (and pumps) on a node.
	MaxPlants = 6
	// WaterChannels is the number of reservoir level channels on a node.
	WaterChannels = 2
	// SensorRangeCount covers every moisture channel followed by the water channels.
	SensorRangeCount = MaxPlants + WaterChannels

	// SettingsVersion tags persisted settings snapshots. Snapshots carrying a
	// different version are ignored on load.
	SettingsVersion = 0x0010

	// UndefinedLevel marks a percentage that was not measured this cycle.
	UndefinedLevel uint8 = 0xFF
	// UndefinedRaw marks a raw ADC value that was not measured this cycle.
	UndefinedRaw uint16 = 0xFFFF

	// BootstrapPlaceholder is the single byte a supervisor without settings
	// sends in reply to TagRequestSettings.
	BootstrapPlaceholder byte = 42

	// DefaultPort is the supervisor TCP port.
	DefaultPort = 42424

	// MaxMessageSize bounds the UTF-8 payload of a text message.
	MaxMessageSize = 1023
)

var (
	ErrShortPayload = errors.New("payload shorter than record size")
	ErrPayloadSize  = errors.New("payload size does not match record size")
	ErrUnknownTag   = errors.New("unknown packet tag")
	ErrInvalid      = errors.New("invalid settings")
)

// Tag is the leading byte of every packet.
type Tag uint8

const (
	TagInfo            Tag = 1
	TagWarn            Tag = 2
	TagError           Tag = 4
	TagFailure         Tag = 8
	TagReportStatus    Tag = 16
	TagRequestSettings Tag = 32
)

// ParseTag validates a raw tag byte.
func ParseTag(b byte) (Tag, error) {
	switch t := Tag(b); t {
	case TagInfo, TagWarn, TagError, TagFailure, TagReportStatus, TagRequestSettings:
		return t, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, b)
	}
}

// IsMessage reports whether the tag carries a UTF-8 text payload.
func (t Tag) IsMessage() bool {
	switch t {
	case TagInfo, TagWarn, TagError, TagFailure:
		return true
	}
	return false
}

func (t Tag) String() string {
	switch t {
	case TagInfo:
		return "info"
	case TagWarn:
		return "warn"
	case TagError:
		return "error"
	case TagFailure:
		return "failure"
	case TagReportStatus:
		return "report_status"
	case TagRequestSettings:
		return "request_settings"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// IsFrameStart reports whether b may begin a new frame inside a stream of
// text messages. REQUEST_SETTINGS is excluded since its value is an ASCII
// space and it never follows a text message on one connection.
func IsFrameStart(b byte) bool {
	switch Tag(b) {
	case TagInfo, TagWarn, TagError, TagFailure, TagReportStatus:
		return true
	}
	return false
}

// Message is a tagged text alert sent from the node.
type Message struct {
	Tag  Tag
	Text string
}

// Encode returns the framed message. Text beyond MaxMessageSize is truncated.
func (m Message) Encode() ([]byte, error) {
	if !m.Tag.IsMessage() {
		return nil, fmt.Errorf("%v is not a message tag", m.Tag)
	}
	text := m.Text
	if len(text) > MaxMessageSize {
		text = text[:MaxMessageSize]
	}
	buf := make([]byte, 0, len(text)+1)
	buf = append(buf, byte(m.Tag))
	buf = append(buf, text...)
	return buf, nil
}

// WaterLowMessage is sent when a reservoir drops to its warning threshold.
func WaterLowMessage(channel int) Message {
	return Message{
		Tag:  TagWarn,
		Text: fmt.Sprintf("running low on water at water level sensor %d!", channel+1),
	}
}

// WaterEmptyMessage is sent when a reservoir drops to its empty threshold.
func WaterEmptyMessage(channel int) Message {
	return Message{
		Tag:  TagError,
		Text: fmt.Sprintf("water reservoir %d is empty!", channel+1),
	}
}

// HardwareFailureMessage names the plant whose irrigation timed out.
func HardwareFailureMessage(plant int) Message {
	return Message{
		Tag: TagFailure,
		Text: fmt.Sprintf("irrigation timed out, assuming a hardware failure at either the moisture sensor %d or its pump!",
			plant+1),
	}
}
