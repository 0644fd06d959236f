package mqtt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MQTT v5.0 property identifiers (subset needed by the broker core).
// Numbering follows the OASIS MQTT v5.0 spec section 2.2.2.2, mirrored
// from the property-ID tables found across the example client codecs.
const (
	PropPayloadFormatIndicator uint8 = 0x01
	PropMessageExpiryInterval  uint8 = 0x02
	PropContentType            uint8 = 0x03
	PropResponseTopic          uint8 = 0x08
	PropCorrelationData        uint8 = 0x09
	PropSessionExpiryInterval  uint8 = 0x11
	PropAssignedClientID       uint8 = 0x12
	PropReasonString           uint8 = 0x1F
	PropReceiveMaximum         uint8 = 0x21
	PropTopicAliasMaximum      uint8 = 0x22
	PropUserProperty           uint8 = 0x26
)

// Properties holds the MQTT v5.0 properties this broker understands. It is
// empty (zero value) for v3.1.1 traffic. UserProperty is length-limited on
// decode by the configured property_size byte budget.
type Properties struct {
	PayloadFormatIndicator uint8
	MessageExpiryInterval  uint32
	ContentType            string
	ResponseTopic          string
	CorrelationData        []byte
	SessionExpiryInterval  uint32
	AssignedClientID       string
	ReasonString           string
	ReceiveMaximum         uint16
	TopicAliasMaximum      uint16
	UserProperty           map[string]string

	present map[uint8]bool
}

func newProperties() *Properties {
	return &Properties{UserProperty: map[string]string{}, present: map[uint8]bool{}}
}

// Has reports whether a given property id was present on decode.
func (p *Properties) Has(id uint8) bool {
	if p == nil || p.present == nil {
		return false
	}
	return p.present[id]
}

// DecodeProperties reads a v5 property length prefix followed by that many
// bytes of properties, enforcing maxBytes as the property_size budget. A
// maxBytes of 0 means "no configured limit" (still bounded by the varint's
// own 4-byte cap).
func DecodeProperties(r io.Reader, maxBytes int) (*Properties, error) {
	length, err := DecodeVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("mqtt: failed to read property length: %w", err)
	}
	if maxBytes > 0 && length > maxBytes {
		return nil, fmt.Errorf("mqtt: properties length %d exceeds configured property_size %d", length, maxBytes)
	}
	raw := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("mqtt: failed to read properties: %w", err)
		}
	}
	return decodePropertyBytes(raw)
}

func decodePropertyBytes(raw []byte) (*Properties, error) {
	props := newProperties()
	buf := bytes.NewReader(raw)
	for buf.Len() > 0 {
		id, err := buf.ReadByte()
		if err != nil {
			return nil, err
		}
		props.present[id] = true
		switch id {
		case PropPayloadFormatIndicator:
			b, err := buf.ReadByte()
			if err != nil {
				return nil, err
			}
			props.PayloadFormatIndicator = b
		case PropMessageExpiryInterval:
			v, err := readUint32(buf)
			if err != nil {
				return nil, err
			}
			props.MessageExpiryInterval = v
		case PropContentType:
			s, err := readPropString(buf)
			if err != nil {
				return nil, err
			}
			props.ContentType = s
		case PropResponseTopic:
			s, err := readPropString(buf)
			if err != nil {
				return nil, err
			}
			props.ResponseTopic = s
		case PropCorrelationData:
			d, err := readPropBinary(buf)
			if err != nil {
				return nil, err
			}
			props.CorrelationData = d
		case PropSessionExpiryInterval:
			v, err := readUint32(buf)
			if err != nil {
				return nil, err
			}
			props.SessionExpiryInterval = v
		case PropAssignedClientID:
			s, err := readPropString(buf)
			if err != nil {
				return nil, err
			}
			props.AssignedClientID = s
		case PropReasonString:
			s, err := readPropString(buf)
			if err != nil {
				return nil, err
			}
			props.ReasonString = s
		case PropReceiveMaximum:
			v, err := readUint16(buf)
			if err != nil {
				return nil, err
			}
			props.ReceiveMaximum = v
		case PropTopicAliasMaximum:
			v, err := readUint16(buf)
			if err != nil {
				return nil, err
			}
			props.TopicAliasMaximum = v
		case PropUserProperty:
			k, err := readPropString(buf)
			if err != nil {
				return nil, err
			}
			v, err := readPropString(buf)
			if err != nil {
				return nil, err
			}
			props.UserProperty[k] = v
		default:
			return nil, fmt.Errorf("mqtt: unsupported v5 property id 0x%02x", id)
		}
	}
	return props, nil
}

// EncodeProperties serializes the reason string, session expiry interval,
// assigned client id, receive maximum and user properties, each when
// non-empty, into the v5 wire form (length-prefixed property bytes). The
// other Properties fields are not encoded.
func EncodeProperties(p *Properties) []byte {
	if p == nil {
		zero, _ := EncodeVarInt(0)
		return zero
	}
	var body bytes.Buffer
	if p.ReasonString != "" {
		body.WriteByte(PropReasonString)
		body.Write(WriteString(p.ReasonString))
	}
	if p.SessionExpiryInterval != 0 {
		body.WriteByte(PropSessionExpiryInterval)
		writeUint32(&body, p.SessionExpiryInterval)
	}
	if p.AssignedClientID != "" {
		body.WriteByte(PropAssignedClientID)
		body.Write(WriteString(p.AssignedClientID))
	}
	if p.ReceiveMaximum != 0 {
		body.WriteByte(PropReceiveMaximum)
		writeUint16(&body, p.ReceiveMaximum)
	}
	for k, v := range p.UserProperty {
		body.WriteByte(PropUserProperty)
		body.Write(WriteString(k))
		body.Write(WriteString(v))
	}
	lenPrefix, _ := EncodeVarInt(body.Len())
	return append(lenPrefix, body.Bytes()...)
}

func readPropString(r *bytes.Reader) (string, error) { return ReadString(r) }

func readPropBinary(r *bytes.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeUint16(w *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	w.Write(buf[:])
}

func writeUint32(w *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.Write(buf[:])
}
