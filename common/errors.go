package common

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// Protocol constraint errors (related to Modbus specification)
	// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6 (Function Codes) - Various constraints
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidValue    = errors.New("invalid value")

	// Protocol header/frame errors
	// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1 (MBAP Header)
	ErrInvalidProtocolHeader = errors.New("invalid protocol header")
	ErrFrameTooShort         = errors.New("frame too short")
	ErrFrameIncomplete       = errors.New("incomplete frame")

	// Variable-catalog errors
	ErrVariableNotFound = errors.New("variable not found")

	// Server lifecycle errors
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerNotRunning     = errors.New("server not running")
)

// ModbusError represents an error from a Modbus exception response
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Responses)
type ModbusError struct {
	FunctionCode  FunctionCode  // Function code from the request (without the exception bit)
	ExceptionCode ExceptionCode // Exception code indicating the error reason
}

// Error implements the error interface
func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception response: function: %s, exception code: %#x (%s)",
		e.FunctionCode, e.ExceptionCode, GetExceptionString(e.ExceptionCode))
}

// IsModbusError checks if an error is a ModbusError
func IsModbusError(err error) bool {
	_, ok := err.(*ModbusError)
	return ok
}

// NewModbusError creates a new ModbusError
func NewModbusError(functionCode FunctionCode, exceptionCode ExceptionCode) *ModbusError {
	return &ModbusError{
		FunctionCode:  functionCode,
		ExceptionCode: exceptionCode,
	}
}

// GetExceptionString returns a human-readable description of an exception code
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Responses)
func GetExceptionString(exceptionCode ExceptionCode) string {
	switch exceptionCode {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	default:
		return fmt.Sprintf("unknown exception code: %#x", exceptionCode)
	}
}
