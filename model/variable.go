// Package model defines the cross-boundary data shapes shared by the data
// store, the control surface, and the HTTP/WebSocket front end: the variable
// catalog, server status, and telemetry log entries.
//
// Field casing follows SPEC_FULL.md #6: ModbusArea is snake_case, ModbusDataType
// is lowercase, everything else is camelCase - mirroring the TypeScript models
// the original desktop GUI expected.
package model

import (
	"encoding/json"
	"fmt"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
)

// Area identifies one of the four Modbus memory areas.
type Area string

const (
	AreaCoil            Area = "coil"
	AreaDiscreteInput   Area = "discrete_input"
	AreaInputRegister   Area = "input_register"
	AreaHoldingRegister Area = "holding_register"
)

// Writable reports whether the area can be written through the protocol path.
func (a Area) Writable() bool {
	return a == AreaCoil || a == AreaHoldingRegister
}

// DataType identifies how a variable's raw register cells should be
// interpreted and (de)coded.
type DataType string

const (
	DataTypeBool    DataType = "bool"
	DataTypeUint16  DataType = "uint16"
	DataTypeInt16   DataType = "int16"
	DataTypeUint32  DataType = "uint32"
	DataTypeFloat32 DataType = "float32"
)

// RegisterCount returns the number of 16-bit registers this data type occupies.
func (d DataType) RegisterCount() uint16 {
	switch d {
	case DataTypeUint32, DataTypeFloat32:
		return 2
	default:
		return 1
	}
}

// Value is the untagged bool/number/null union carried by a variable.
// It serializes as a bare JSON boolean, number, or null - never an object.
type Value struct {
	kind   valueKind
	b      bool
	number float64
}

type valueKind int

const (
	valueKindNull valueKind = iota
	valueKindBool
	valueKindNumber
)

// NullValue is the zero Value; it coerces to zero/false on every conversion.
var NullValue = Value{kind: valueKindNull}

// BoolValue wraps a boolean as a Value.
func BoolValue(b bool) Value { return Value{kind: valueKindBool, b: b} }

// NumberValue wraps a float64 as a Value.
func NumberValue(n float64) Value { return Value{kind: valueKindNumber, number: n} }

// IsNull reports whether the value is the untyped null.
func (v Value) IsNull() bool { return v.kind == valueKindNull }

// AsBool converts the value to bool for coils/discrete inputs.
func (v Value) AsBool() bool {
	switch v.kind {
	case valueKindBool:
		return v.b
	case valueKindNumber:
		return v.number != 0
	default:
		return false
	}
}

// AsUint16 converts the value to u16 for register encoding.
func (v Value) AsUint16() uint16 {
	switch v.kind {
	case valueKindBool:
		if v.b {
			return 1
		}
		return 0
	case valueKindNumber:
		return uint16(int64(v.number))
	default:
		return 0
	}
}

// AsInt16 converts the value to i16 for register encoding.
func (v Value) AsInt16() int16 {
	switch v.kind {
	case valueKindBool:
		if v.b {
			return 1
		}
		return 0
	case valueKindNumber:
		return int16(int64(v.number))
	default:
		return 0
	}
}

// AsUint32 converts the value to u32 for register encoding.
func (v Value) AsUint32() uint32 {
	switch v.kind {
	case valueKindBool:
		if v.b {
			return 1
		}
		return 0
	case valueKindNumber:
		return uint32(int64(v.number))
	default:
		return 0
	}
}

// AsFloat32 converts the value to f32 for register encoding.
func (v Value) AsFloat32() float32 {
	switch v.kind {
	case valueKindBool:
		if v.b {
			return 1
		}
		return 0
	case valueKindNumber:
		return float32(v.number)
	default:
		return 0
	}
}

// String renders the value for logs and the debug dump.
func (v Value) String() string {
	switch v.kind {
	case valueKindBool:
		return fmt.Sprintf("%t", v.b)
	case valueKindNumber:
		return fmt.Sprintf("%g", v.number)
	default:
		return "null"
	}
}

// MarshalJSON implements json.Marshaler, emitting a bare bool/number/null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case valueKindBool:
		return json.Marshal(v.b)
	case valueKindNumber:
		return json.Marshal(v.number)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler for the untagged union.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = NullValue
	case bool:
		*v = BoolValue(t)
	case float64:
		*v = NumberValue(t)
	default:
		return fmt.Errorf("model: unsupported ModbusValue json type %T", raw)
	}
	return nil
}

// Variable is a single user-level Modbus variable definition: the unit of
// the catalog that load_variables/update_variable/get_variables operate on.
type Variable struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Area     Area     `json:"area"`
	Address  uint16   `json:"address"`
	DataType DataType `json:"dataType"`
	Value    Value    `json:"value"`
	Bit      *uint8   `json:"bit,omitempty"`
	Readonly *bool    `json:"readonly,omitempty"`
	Note     string   `json:"note,omitempty"`
}

// RegisterCount returns the number of 16-bit registers this variable occupies.
func (v Variable) RegisterCount() uint16 {
	return v.DataType.RegisterCount()
}

// Addresses returns every address this variable's registers cover.
func (v Variable) Addresses() []common.Address {
	count := v.RegisterCount()
	out := make([]common.Address, count)
	for i := uint16(0); i < count; i++ {
		out[i] = common.Address(v.Address) + common.Address(i)
	}
	return out
}

// ServerStatus is the control-surface snapshot of the running server.
type ServerStatus struct {
	Running           bool    `json:"running"`
	Host              string  `json:"host"`
	Port              uint16  `json:"port"`
	UnitID            uint8   `json:"unitId"`
	ConnectionsCount  int     `json:"connectionsCount"`
	Error             *string `json:"error,omitempty"`
}

// ConnectionProfile describes how the server should bind and which unit id
// it answers. Mirrors the original desktop app's per-project connection profile.
type ConnectionProfile struct {
	Host   string `json:"host"`
	Port   uint16 `json:"port"`
	UnitID uint8  `json:"unitId"`
}

// DefaultConnectionProfile matches the original project's default.
func DefaultConnectionProfile() ConnectionProfile {
	return ConnectionProfile{Host: "0.0.0.0", Port: common.DefaultTCPPort, UnitID: 1}
}
