// Package codec implements the Modbus TCP wire format: the MBAP header, PDU
// framing, per-function request/response bodies, and the bit/register
// packing rules. Ref: SPEC_FULL.md #4.1 (Frame Codec).
//
// The encode/decode shape follows the teacher's transport.Request/Response
// (big-endian binary.Write/Read over a bytes.Buffer); the framing algorithm
// and per-function wire layouts follow original_source's modbus_protocol.rs,
// which this specification was distilled from.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
)

// MBAPHeader is the 7-byte Modbus Application Protocol header.
// Ref: SPEC_FULL.md #4.1
type MBAPHeader struct {
	TransactionID common.TransactionID
	ProtocolID    common.ProtocolID
	Length        uint16 // bytes following Length itself: unit id + PDU
	UnitID        common.UnitID
}

// ParseMBAPHeader parses the first common.TCPHeaderLength bytes of data.
func ParseMBAPHeader(data []byte) (MBAPHeader, error) {
	if len(data) < common.TCPHeaderLength {
		return MBAPHeader{}, fmt.Errorf("codec: %w: mbap header needs %d bytes, got %d", common.ErrFrameTooShort, common.TCPHeaderLength, len(data))
	}
	h := MBAPHeader{
		TransactionID: common.TransactionID(binary.BigEndian.Uint16(data[0:2])),
		ProtocolID:    common.ProtocolID(binary.BigEndian.Uint16(data[2:4])),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        common.UnitID(data[6]),
	}
	if h.ProtocolID != common.TCPProtocolIdentifier {
		return MBAPHeader{}, fmt.Errorf("codec: %w: protocol id must be 0, got %d", common.ErrInvalidProtocolHeader, h.ProtocolID)
	}
	return h, nil
}

// WriteTo appends the encoded header to dst and returns the extended slice.
func (h MBAPHeader) WriteTo(dst []byte) []byte {
	var buf [common.TCPHeaderLength]byte
	binary.BigEndian.PutUint16(buf[0:2], uint16(h.TransactionID))
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.ProtocolID))
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = byte(h.UnitID)
	return append(dst, buf[:]...)
}

// ExpectedFrameLength peeks at the first 6 bytes of a buffer (transaction id,
// protocol id, length) and returns the total ADU size (6 + length) the
// connection handler must accumulate before a frame can be parsed. It
// returns ok=false if fewer than 6 bytes are available yet.
//
// Ref: SPEC_FULL.md #4.1, #4.3 - the peek-ahead that drives stream reassembly.
func ExpectedFrameLength(data []byte) (length int, ok bool) {
	if len(data) < 6 {
		return 0, false
	}
	fieldLength := binary.BigEndian.Uint16(data[4:6])
	return 6 + int(fieldLength), true
}

// Frame is a fully parsed, framed Modbus TCP request: MBAP header plus PDU.
type Frame struct {
	Header       MBAPHeader
	FunctionCode common.FunctionCode
	Data         []byte // PDU payload following the function code
}

// ParseFrame parses one complete ADU (exactly ExpectedFrameLength(data) bytes).
// Ref: SPEC_FULL.md #4.1 - parse(data) contract.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) < common.TCPHeaderLength+1 {
		return Frame{}, fmt.Errorf("codec: %w: frame needs at least %d bytes, got %d", common.ErrFrameTooShort, common.TCPHeaderLength+1, len(data))
	}
	header, err := ParseMBAPHeader(data)
	if err != nil {
		return Frame{}, err
	}
	expected := 6 + int(header.Length)
	if len(data) < expected {
		return Frame{}, fmt.Errorf("codec: %w: need %d bytes, have %d", common.ErrFrameIncomplete, expected, len(data))
	}
	functionCode := common.FunctionCode(data[7])
	pduData := data[8:expected]
	return Frame{Header: header, FunctionCode: functionCode, Data: pduData}, nil
}

// BuildResponse encodes a normal (non-exception) response ADU.
func BuildResponse(header MBAPHeader, functionCode common.FunctionCode, data []byte) []byte {
	respHeader := MBAPHeader{
		TransactionID: header.TransactionID,
		ProtocolID:    common.TCPProtocolIdentifier,
		Length:        uint16(2 + len(data)), // unit id + function code + data
		UnitID:        header.UnitID,
	}
	out := respHeader.WriteTo(make([]byte, 0, common.TCPHeaderLength+1+len(data)))
	out = append(out, byte(functionCode))
	out = append(out, data...)
	return out
}

// BuildException encodes an exception response ADU.
// Ref: SPEC_FULL.md #4.1 - exception response shape (length = 3).
func BuildException(header MBAPHeader, functionCode common.FunctionCode, exceptionCode common.ExceptionCode) []byte {
	respHeader := MBAPHeader{
		TransactionID: header.TransactionID,
		ProtocolID:    common.TCPProtocolIdentifier,
		Length:        3, // unit id + function code + exception code
		UnitID:        header.UnitID,
	}
	out := respHeader.WriteTo(make([]byte, 0, common.TCPHeaderLength+1))
	out = append(out, byte(functionCode)|common.ExceptionBit)
	out = append(out, byte(exceptionCode))
	return out
}

// IsErrorResponse reports whether an encoded response ADU is an exception
// response, by inspecting the function-code byte at offset 7.
// Ref: SPEC_FULL.md #4.6 - Response vs Error telemetry classification.
func IsErrorResponse(encoded []byte) bool {
	if len(encoded) <= 7 {
		return false
	}
	return common.IsException(encoded[7])
}
