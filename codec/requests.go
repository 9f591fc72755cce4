package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
)

// ReadRequest is the shared request body for function codes 0x01-0x04:
// start address + quantity. Ref: SPEC_FULL.md #4.1.
type ReadRequest struct {
	Start    common.Address
	Quantity common.Quantity
}

// ParseReadRequest parses a 4-byte {start, quantity} request body.
func ParseReadRequest(data []byte) (ReadRequest, error) {
	if len(data) < 4 {
		return ReadRequest{}, fmt.Errorf("codec: %w: read request needs 4 bytes, got %d", common.ErrInvalidValue, len(data))
	}
	return ReadRequest{
		Start:    common.Address(binary.BigEndian.Uint16(data[0:2])),
		Quantity: common.Quantity(binary.BigEndian.Uint16(data[2:4])),
	}, nil
}

// ValidateBitQuantity enforces the 1..=2000 limit for coil/discrete-input reads.
func ValidateBitQuantity(qty common.Quantity) bool {
	return qty != 0 && qty <= common.MaxCoilCount
}

// ValidateRegisterQuantity enforces the 1..=125 limit for register reads.
func ValidateRegisterQuantity(qty common.Quantity) bool {
	return qty != 0 && qty <= common.MaxRegisterCount
}

// WriteSingleCoilRequest is the request body for function code 0x05.
type WriteSingleCoilRequest struct {
	Address common.Address
	Value   bool
}

// ParseWriteSingleCoilRequest parses and validates a {address, value} body.
// Only 0x0000 (OFF) and 0xFF00 (ON) are legal wire values for the coil value field.
func ParseWriteSingleCoilRequest(data []byte) (WriteSingleCoilRequest, error) {
	if len(data) < 4 {
		return WriteSingleCoilRequest{}, fmt.Errorf("codec: %w: write single coil needs 4 bytes, got %d", common.ErrInvalidValue, len(data))
	}
	address := common.Address(binary.BigEndian.Uint16(data[0:2]))
	raw := binary.BigEndian.Uint16(data[2:4])
	switch raw {
	case common.CoilOnU16:
		return WriteSingleCoilRequest{Address: address, Value: true}, nil
	case common.CoilOffU16:
		return WriteSingleCoilRequest{Address: address, Value: false}, nil
	default:
		return WriteSingleCoilRequest{}, fmt.Errorf("codec: %w: illegal coil value 0x%04X", common.ErrInvalidValue, raw)
	}
}

// ToResponseData returns the verbatim 4-byte echo of the request body.
func (r WriteSingleCoilRequest) ToResponseData() []byte {
	raw := uint16(common.CoilOffU16)
	if r.Value {
		raw = common.CoilOnU16
	}
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], uint16(r.Address))
	binary.BigEndian.PutUint16(out[2:4], raw)
	return out
}

// WriteSingleRegisterRequest is the request body for function code 0x06.
type WriteSingleRegisterRequest struct {
	Address common.Address
	Value   uint16
}

// ParseWriteSingleRegisterRequest parses a {address, value} body.
func ParseWriteSingleRegisterRequest(data []byte) (WriteSingleRegisterRequest, error) {
	if len(data) < 4 {
		return WriteSingleRegisterRequest{}, fmt.Errorf("codec: %w: write single register needs 4 bytes, got %d", common.ErrInvalidValue, len(data))
	}
	return WriteSingleRegisterRequest{
		Address: common.Address(binary.BigEndian.Uint16(data[0:2])),
		Value:   binary.BigEndian.Uint16(data[2:4]),
	}, nil
}

// ToResponseData returns the verbatim 4-byte echo of the request body.
func (r WriteSingleRegisterRequest) ToResponseData() []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], uint16(r.Address))
	binary.BigEndian.PutUint16(out[2:4], r.Value)
	return out
}

// WriteMultipleCoilsRequest is the request body for function code 0x0F.
type WriteMultipleCoilsRequest struct {
	Start    common.Address
	Quantity common.Quantity
	Values   []bool
}

// ParseWriteMultipleCoilsRequest parses {start, qty, byte_count, packed_bits}.
func ParseWriteMultipleCoilsRequest(data []byte) (WriteMultipleCoilsRequest, error) {
	if len(data) < 5 {
		return WriteMultipleCoilsRequest{}, fmt.Errorf("codec: %w: write multiple coils needs at least 5 bytes, got %d", common.ErrInvalidValue, len(data))
	}
	start := common.Address(binary.BigEndian.Uint16(data[0:2]))
	qty := common.Quantity(binary.BigEndian.Uint16(data[2:4]))
	byteCount := int(data[4])
	expectedByteCount := (int(qty) + 7) / 8
	if byteCount != expectedByteCount || len(data) < 5+byteCount {
		return WriteMultipleCoilsRequest{}, fmt.Errorf("codec: %w: byte count mismatch for write multiple coils", common.ErrInvalidValue)
	}
	values := UnpackBits(data[5:5+byteCount], int(qty))
	return WriteMultipleCoilsRequest{Start: start, Quantity: qty, Values: values}, nil
}

// Valid reports whether the quantity is within the 1..=1968 write-path limit.
func (r WriteMultipleCoilsRequest) Valid() bool {
	return r.Quantity != 0 && r.Quantity <= common.MaxWriteCoilCount
}

// ToResponseData returns the {start, qty} 4-byte response body.
func (r WriteMultipleCoilsRequest) ToResponseData() []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], uint16(r.Start))
	binary.BigEndian.PutUint16(out[2:4], uint16(r.Quantity))
	return out
}

// WriteMultipleRegistersRequest is the request body for function code 0x10.
type WriteMultipleRegistersRequest struct {
	Start    common.Address
	Quantity common.Quantity
	Values   []uint16
}

// ParseWriteMultipleRegistersRequest parses {start, qty, byte_count, regs}.
func ParseWriteMultipleRegistersRequest(data []byte) (WriteMultipleRegistersRequest, error) {
	if len(data) < 5 {
		return WriteMultipleRegistersRequest{}, fmt.Errorf("codec: %w: write multiple registers needs at least 5 bytes, got %d", common.ErrInvalidValue, len(data))
	}
	start := common.Address(binary.BigEndian.Uint16(data[0:2]))
	qty := common.Quantity(binary.BigEndian.Uint16(data[2:4]))
	byteCount := int(data[4])
	if byteCount != int(qty)*2 || len(data) < 5+byteCount {
		return WriteMultipleRegistersRequest{}, fmt.Errorf("codec: %w: byte count mismatch for write multiple registers", common.ErrInvalidValue)
	}
	values := UnpackRegisters(data[5 : 5+byteCount])
	return WriteMultipleRegistersRequest{Start: start, Quantity: qty, Values: values}, nil
}

// Valid reports whether the quantity is within the 1..=123 write-path limit.
func (r WriteMultipleRegistersRequest) Valid() bool {
	return r.Quantity != 0 && r.Quantity <= common.MaxWriteRegisterCount
}

// ToResponseData returns the {start, qty} 4-byte response body.
func (r WriteMultipleRegistersRequest) ToResponseData() []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], uint16(r.Start))
	binary.BigEndian.PutUint16(out[2:4], uint16(r.Quantity))
	return out
}
