package server

import (
	"context"
	"errors"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/codec"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
)

// dispatcher routes a parsed frame to the data store and builds the response
// ADU. Ref: SPEC_FULL.md #4.4.
type dispatcher struct {
	store common.DataStore
}

func newDispatcher(store common.DataStore) *dispatcher {
	return &dispatcher{store: store}
}

// dispatch processes one frame and returns the encoded response ADU. It
// never returns an error: any failure is turned into an exception response,
// matching a real Modbus slave's behavior of always answering a well-formed
// request it understands.
func (d *dispatcher) dispatch(ctx context.Context, frame codec.Frame) []byte {
	switch frame.FunctionCode {
	case common.FuncReadCoils:
		return d.handleReadBits(ctx, frame, common.MaxCoilCount, d.store.ReadCoils)
	case common.FuncReadDiscreteInputs:
		return d.handleReadBits(ctx, frame, common.MaxCoilCount, d.store.ReadDiscreteInputs)
	case common.FuncReadHoldingRegisters:
		return d.handleReadRegisters(ctx, frame, common.MaxRegisterCount, d.store.ReadHoldingRegisters)
	case common.FuncReadInputRegisters:
		return d.handleReadRegisters(ctx, frame, common.MaxRegisterCount, d.store.ReadInputRegisters)
	case common.FuncWriteSingleCoil:
		return d.handleWriteSingleCoil(ctx, frame)
	case common.FuncWriteSingleRegister:
		return d.handleWriteSingleRegister(ctx, frame)
	case common.FuncWriteMultipleCoils:
		return d.handleWriteMultipleCoils(ctx, frame)
	case common.FuncWriteMultipleRegisters:
		return d.handleWriteMultipleRegisters(ctx, frame)
	default:
		return codec.BuildException(frame.Header, frame.FunctionCode, common.ExceptionIllegalFunction)
	}
}

// storeErrorException maps a store-level error to the exception code a
// dispatch failure should report. Ref: SPEC_FULL.md #4.4, #7.
func storeErrorException(err error) common.ExceptionCode {
	switch {
	case errors.Is(err, common.ErrInvalidAddress):
		return common.ExceptionIllegalDataAddress
	case errors.Is(err, common.ErrInvalidQuantity), errors.Is(err, common.ErrInvalidValue):
		return common.ExceptionIllegalDataValue
	default:
		return common.ExceptionServerDeviceFailure
	}
}

func (d *dispatcher) handleReadBits(
	ctx context.Context,
	frame codec.Frame,
	maxQuantity common.Quantity,
	read func(context.Context, common.Address, common.Quantity) ([]bool, error),
) []byte {
	req, err := codec.ParseReadRequest(frame.Data)
	if err != nil {
		return codec.BuildException(frame.Header, frame.FunctionCode, common.ExceptionIllegalDataValue)
	}
	if req.Quantity == 0 || req.Quantity > maxQuantity {
		return codec.BuildException(frame.Header, frame.FunctionCode, common.ExceptionIllegalDataValue)
	}

	values, err := read(ctx, req.Start, req.Quantity)
	if err != nil {
		return codec.BuildException(frame.Header, frame.FunctionCode, storeErrorException(err))
	}

	packed := codec.PackBits(values)
	data := append([]byte{byte(len(packed))}, packed...)
	return codec.BuildResponse(frame.Header, frame.FunctionCode, data)
}

func (d *dispatcher) handleReadRegisters(
	ctx context.Context,
	frame codec.Frame,
	maxQuantity common.Quantity,
	read func(context.Context, common.Address, common.Quantity) ([]uint16, error),
) []byte {
	req, err := codec.ParseReadRequest(frame.Data)
	if err != nil {
		return codec.BuildException(frame.Header, frame.FunctionCode, common.ExceptionIllegalDataValue)
	}
	if req.Quantity == 0 || req.Quantity > maxQuantity {
		return codec.BuildException(frame.Header, frame.FunctionCode, common.ExceptionIllegalDataValue)
	}

	values, err := read(ctx, req.Start, req.Quantity)
	if err != nil {
		return codec.BuildException(frame.Header, frame.FunctionCode, storeErrorException(err))
	}

	packed := codec.PackRegisters(values)
	data := append([]byte{byte(len(packed))}, packed...)
	return codec.BuildResponse(frame.Header, frame.FunctionCode, data)
}

func (d *dispatcher) handleWriteSingleCoil(ctx context.Context, frame codec.Frame) []byte {
	req, err := codec.ParseWriteSingleCoilRequest(frame.Data)
	if err != nil {
		return codec.BuildException(frame.Header, frame.FunctionCode, common.ExceptionIllegalDataValue)
	}
	if err := d.store.WriteSingleCoil(ctx, req.Address, req.Value); err != nil {
		return codec.BuildException(frame.Header, frame.FunctionCode, storeErrorException(err))
	}
	return codec.BuildResponse(frame.Header, frame.FunctionCode, req.ToResponseData())
}

func (d *dispatcher) handleWriteSingleRegister(ctx context.Context, frame codec.Frame) []byte {
	req, err := codec.ParseWriteSingleRegisterRequest(frame.Data)
	if err != nil {
		return codec.BuildException(frame.Header, frame.FunctionCode, common.ExceptionIllegalDataValue)
	}
	if err := d.store.WriteSingleRegister(ctx, req.Address, req.Value); err != nil {
		return codec.BuildException(frame.Header, frame.FunctionCode, storeErrorException(err))
	}
	return codec.BuildResponse(frame.Header, frame.FunctionCode, req.ToResponseData())
}

func (d *dispatcher) handleWriteMultipleCoils(ctx context.Context, frame codec.Frame) []byte {
	req, err := codec.ParseWriteMultipleCoilsRequest(frame.Data)
	if err != nil || !req.Valid() {
		return codec.BuildException(frame.Header, frame.FunctionCode, common.ExceptionIllegalDataValue)
	}
	if err := d.store.WriteMultipleCoils(ctx, req.Start, req.Values); err != nil {
		return codec.BuildException(frame.Header, frame.FunctionCode, storeErrorException(err))
	}
	return codec.BuildResponse(frame.Header, frame.FunctionCode, req.ToResponseData())
}

func (d *dispatcher) handleWriteMultipleRegisters(ctx context.Context, frame codec.Frame) []byte {
	req, err := codec.ParseWriteMultipleRegistersRequest(frame.Data)
	if err != nil || !req.Valid() {
		return codec.BuildException(frame.Header, frame.FunctionCode, common.ExceptionIllegalDataValue)
	}
	if err := d.store.WriteMultipleRegisters(ctx, req.Start, req.Values); err != nil {
		return codec.BuildException(frame.Header, frame.FunctionCode, storeErrorException(err))
	}
	return codec.BuildResponse(frame.Header, frame.FunctionCode, req.ToResponseData())
}
