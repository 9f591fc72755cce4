package common

import "fmt"

// TransactionID is a unique identifier for a transaction
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1 (MBAP Header), Field 1
type TransactionID uint16

// ProtocolID identifies the protocol used (e.g., Modbus TCP, RTU)
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1 (MBAP Header), Field 2
type ProtocolID uint16

// UnitID identifies a specific device on a Modbus network
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1 (MBAP Header), Field 4
type UnitID byte

// ExceptionCode represents an exception code in a Modbus response
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Responses)
type ExceptionCode byte

// FunctionCode represents a Modbus function code
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6 (MODBUS Function Codes)
type FunctionCode byte

// Address represents a Modbus address (coil, register, etc.)
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.3 (MODBUS Data Model)
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.4 (Addressing Model - specifies 0-65535 range)
type Address uint16

// Quantity represents the number of coils or registers to read/write
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, e.g., Section 6.1 (Read Coils Request PDU defines "Quantity of Coils")
type Quantity uint16

// CoilValue alias represents a coil value
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.1 (Read Coils) and 6.5 (Write Single Coil)
type CoilValue = bool

// DiscreteInputValue alias represents a discrete input value
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.2 (Read Discrete Inputs)
type DiscreteInputValue = bool

// RegisterValue alias represents a holding register value
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.3 (Read Holding Registers)
type RegisterValue = uint16

// InputRegisterValue alias represents an input register value
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.4 (Read Input Registers)
type InputRegisterValue = uint16

// Function codes supported by this slave simulator.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6 (Function Codes)
//
// Only the eight function codes a Modbus TCP slave simulator needs to service
// are defined here; the simulator responds IllegalFunction to anything else.
const (
	FuncReadCoils              FunctionCode = 0x01 // Ref: Section 6.1
	FuncReadDiscreteInputs     FunctionCode = 0x02 // Ref: Section 6.2
	FuncReadHoldingRegisters   FunctionCode = 0x03 // Ref: Section 6.3
	FuncReadInputRegisters     FunctionCode = 0x04 // Ref: Section 6.4
	FuncWriteSingleCoil        FunctionCode = 0x05 // Ref: Section 6.5
	FuncWriteSingleRegister    FunctionCode = 0x06 // Ref: Section 6.6
	FuncWriteMultipleCoils     FunctionCode = 0x0F // Ref: Section 6.11
	FuncWriteMultipleRegisters FunctionCode = 0x10 // Ref: Section 6.12

	// Exception codes this simulator can emit.
	// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Codes)
	ExceptionIllegalFunction    ExceptionCode = 0x01 // Ref: Section 7.1
	ExceptionIllegalDataAddress ExceptionCode = 0x02 // Ref: Section 7.2
	ExceptionIllegalDataValue   ExceptionCode = 0x03 // Ref: Section 7.3
	ExceptionServerDeviceFailure ExceptionCode = 0x04 // Ref: Section 7.4 - reserved, see SPEC_FULL.md #9
)

// String returns the string representation of a FunctionCode
func (f FunctionCode) String() string {
	switch f {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	default:
		if IsException(byte(f)) {
			original := GetOriginalFunctionCode(byte(f))
			return fmt.Sprintf("Exception(%s)", FunctionCode(original).String())
		}
		return fmt.Sprintf("Unknown(0x%02X)", byte(f))
	}
}

func (e ExceptionCode) String() string {
	switch e {
	case ExceptionIllegalFunction:
		return "IllegalFunction"
	case ExceptionIllegalDataAddress:
		return "IllegalDataAddress"
	case ExceptionIllegalDataValue:
		return "IllegalDataValue"
	case ExceptionServerDeviceFailure:
		return "ServerDeviceFailure"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", byte(e))
	}
}

// Protocol-specific constants
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4 (Data Model)
const (
	// Modbus TCP
	// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1 (MBAP Header)
	TCPHeaderLength = 7   // Transaction ID (2) + Protocol ID (2) + Length (2) + Unit ID (1)
	MaxPDULength    = 253 // Maximum PDU length
	MaxADULength    = 260 // Maximum ADU length (TCP with header)
	DefaultTCPPort  = 502 // Default Modbus TCP port

	// MaxFrameSize bounds a single reassembled ADU; the connection handler
	// resyncs its buffer if more than 2x this accumulates without a complete frame.
	MaxFrameSize = 260

	// ReadChunkSize is the size of each chunked socket read during reassembly.
	ReadChunkSize = 1024

	// Data sizes
	// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.3 (Data Encoding)
	BytesPerRegister = 2 // Ref: Section 6.3

	// Modbus limits
	MaxCoilCount           = 2000 // Ref: Section 6.11 (read path)
	MaxRegisterCount       = 125  // Ref: Section 6.3/6.4 (read path)
	MaxWriteCoilCount      = 1968 // Ref: Section 6.11 (write path)
	MaxWriteRegisterCount  = 123  // Ref: Section 6.12 (write path)

	// AddressSpaceSize is the size of each of the four memory banks: the
	// full 16-bit Modbus address space (0..65535 inclusive).
	AddressSpaceSize = 65536

	// Coil Values as defined in the Modbus specification
	// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.5 (Write Single Coil)
	CoilOnU16  = 0xFF00 // ON value for coils in register format
	CoilOffU16 = 0x0000 // OFF value for coils in register format
)

// TCPProtocolIdentifier is the standard identifier for Modbus TCP
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1
const TCPProtocolIdentifier = ProtocolID(0)

// ExceptionBit is the bit that is set in the function code to indicate an exception response
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Responses)
const ExceptionBit byte = 0x80

// IsException checks if a function code represents an exception
func IsException(functionCode byte) bool {
	return (functionCode & ExceptionBit) != 0
}

// IsFunctionException checks if a FunctionCode represents an exception
func IsFunctionException(functionCode FunctionCode) bool {
	return IsException(byte(functionCode))
}

// GetOriginalFunctionCode extracts the original function code from an exception
func GetOriginalFunctionCode(exceptionCode byte) byte {
	return exceptionCode & ^ExceptionBit
}

// GetOriginalFunction extracts the original FunctionCode from an exception
func GetOriginalFunction(exceptionCode FunctionCode) FunctionCode {
	return FunctionCode(GetOriginalFunctionCode(byte(exceptionCode)))
}
