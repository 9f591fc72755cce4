package server

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/codec"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/model"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/store"
)

func newTestStore() *store.Store {
	s := store.New()
	s.LoadVariables([]model.Variable{
		{ID: "c100", Area: model.AreaCoil, Address: 100, DataType: model.DataTypeBool, Value: model.BoolValue(true)},
		{ID: "c101", Area: model.AreaCoil, Address: 101, DataType: model.DataTypeBool, Value: model.BoolValue(false)},
		{ID: "c102", Area: model.AreaCoil, Address: 102, DataType: model.DataTypeBool, Value: model.BoolValue(true)},
		{ID: "hr1", Area: model.AreaHoldingRegister, Address: 1, DataType: model.DataTypeUint16, Value: model.NumberValue(0)},
	})
	return s
}

func readBitsFrame(fc common.FunctionCode, addr, qty uint16) codec.Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], qty)
	return codec.Frame{
		Header:       codec.MBAPHeader{TransactionID: 1, UnitID: 1},
		FunctionCode: fc,
		Data:         data,
	}
}

func TestDispatchReadCoils(t *testing.T) {
	d := newDispatcher(newTestStore())
	resp := d.dispatch(context.Background(), readBitsFrame(common.FuncReadCoils, 100, 3))

	require.False(t, codec.IsErrorResponse(resp))
	require.Equal(t, byte(common.FuncReadCoils), resp[7])
	require.Equal(t, byte(1), resp[8]) // byte count
	require.Equal(t, byte(0b101), resp[9])
}

func TestDispatchReadCoilsUndefinedAddress(t *testing.T) {
	d := newDispatcher(newTestStore())
	resp := d.dispatch(context.Background(), readBitsFrame(common.FuncReadCoils, 200, 1))

	require.True(t, codec.IsErrorResponse(resp))
	require.Equal(t, byte(common.ExceptionIllegalDataAddress), resp[8])
}

func TestDispatchWriteSingleCoil(t *testing.T) {
	s := newTestStore()
	d := newDispatcher(s)

	data := []byte{0x00, 0x64, 0xFF, 0x00} // address 100, ON
	frame := codec.Frame{Header: codec.MBAPHeader{TransactionID: 2, UnitID: 1}, FunctionCode: common.FuncWriteSingleCoil, Data: data}
	resp := d.dispatch(context.Background(), frame)

	require.False(t, codec.IsErrorResponse(resp))
	require.Equal(t, data, resp[8:])

	values, err := s.ReadCoils(context.Background(), 100, 1)
	require.NoError(t, err)
	require.True(t, values[0])
}

func TestDispatchWriteSingleCoilIllegalValue(t *testing.T) {
	d := newDispatcher(newTestStore())
	data := []byte{0x00, 0x64, 0x12, 0x34} // illegal coil value
	frame := codec.Frame{Header: codec.MBAPHeader{TransactionID: 3, UnitID: 1}, FunctionCode: common.FuncWriteSingleCoil, Data: data}
	resp := d.dispatch(context.Background(), frame)

	require.True(t, codec.IsErrorResponse(resp))
	require.Equal(t, byte(common.ExceptionIllegalDataValue), resp[8])
}

func TestDispatchUnknownFunctionCode(t *testing.T) {
	d := newDispatcher(newTestStore())
	frame := codec.Frame{Header: codec.MBAPHeader{TransactionID: 4, UnitID: 1}, FunctionCode: common.FunctionCode(0x2B), Data: nil}
	resp := d.dispatch(context.Background(), frame)

	require.True(t, codec.IsErrorResponse(resp))
	require.Equal(t, byte(common.ExceptionIllegalFunction), resp[8])
}

func TestDispatchWriteMultipleRegisters(t *testing.T) {
	s := newTestStore()
	s.LoadVariables([]model.Variable{
		{ID: "hr1", Area: model.AreaHoldingRegister, Address: 1, DataType: model.DataTypeUint16, Value: model.NumberValue(0)},
		{ID: "hr2", Area: model.AreaHoldingRegister, Address: 2, DataType: model.DataTypeUint16, Value: model.NumberValue(0)},
	})
	d := newDispatcher(s)

	data := []byte{0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x00, 0x0B}
	frame := codec.Frame{Header: codec.MBAPHeader{TransactionID: 5, UnitID: 1}, FunctionCode: common.FuncWriteMultipleRegisters, Data: data}
	resp := d.dispatch(context.Background(), frame)

	require.False(t, codec.IsErrorResponse(resp))
	values, err := s.ReadHoldingRegisters(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, []common.RegisterValue{10, 11}, values)
}
