package server

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/codec"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/logging"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/model"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/store"
)

// buildReadHoldingRegistersRequest encodes a complete ADU for function 0x03.
func buildReadHoldingRegistersRequest(txID uint16, unitID common.UnitID, addr, qty uint16) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], qty)
	header := codec.MBAPHeader{TransactionID: common.TransactionID(txID), ProtocolID: common.TCPProtocolIdentifier, UnitID: unitID}
	adu := header.WriteTo(nil)
	adu = append(adu, byte(common.FuncReadHoldingRegisters))
	adu = append(adu, data...)
	// Patch the length field now that the PDU is known (unit id + fc + data).
	binary.BigEndian.PutUint16(adu[4:6], uint16(1+1+len(data)))
	return adu
}

func startTestServer(t *testing.T, unitID common.UnitID, vars []model.Variable) (*TCPServer, net.Conn) {
	t.Helper()
	st := store.New()
	st.LoadVariables(vars)

	srv := NewTCPServer("127.0.0.1",
		WithServerPort(0),
		WithServerUnitID(unitID),
		WithServerLogger(logging.NewLogger(logging.WithLevel(common.LevelNone))),
		WithServerDataStore(st),
	)

	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop(ctx) })

	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return srv, conn
}

func readResponse(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	header := make([]byte, common.TCPHeaderLength)
	if _, err := readFull(conn, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	length := binary.BigEndian.Uint16(header[4:6])
	rest := make([]byte, length-1)
	if _, err := readFull(conn, rest); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return append(header, rest...)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestTCPServer_SingleFrameRequestResponse(t *testing.T) {
	vars := []model.Variable{
		{ID: "hr0", Area: model.AreaHoldingRegister, Address: 0, DataType: model.DataTypeUint16, Value: model.NumberValue(1234)},
	}
	_, conn := startTestServer(t, 1, vars)

	req := buildReadHoldingRegistersRequest(1, 1, 0, 1)
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readResponse(t, conn)
	if resp[7] != byte(common.FuncReadHoldingRegisters) {
		t.Fatalf("function code byte = %#x, want 0x03", resp[7])
	}
	byteCount := resp[8]
	if byteCount != 2 {
		t.Fatalf("byte count = %d, want 2", byteCount)
	}
	val := binary.BigEndian.Uint16(resp[9:11])
	if val != 1234 {
		t.Fatalf("register value = %d, want 1234", val)
	}
}

func TestTCPServer_PipelinedFramesInOneWrite(t *testing.T) {
	vars := []model.Variable{
		{ID: "hr0", Area: model.AreaHoldingRegister, Address: 0, DataType: model.DataTypeUint16, Value: model.NumberValue(10)},
		{ID: "hr1", Area: model.AreaHoldingRegister, Address: 1, DataType: model.DataTypeUint16, Value: model.NumberValue(20)},
	}
	_, conn := startTestServer(t, 1, vars)

	// Two complete ADUs concatenated into a single Write, exercising the
	// growable-buffer reassembly loop's "drain more than one frame per read".
	batch := append(buildReadHoldingRegistersRequest(1, 1, 0, 1), buildReadHoldingRegistersRequest(2, 1, 1, 1)...)
	if _, err := conn.Write(batch); err != nil {
		t.Fatalf("write: %v", err)
	}

	first := readResponse(t, conn)
	second := readResponse(t, conn)

	v1 := binary.BigEndian.Uint16(first[9:11])
	v2 := binary.BigEndian.Uint16(second[9:11])
	if v1 != 10 || v2 != 20 {
		t.Fatalf("got v1=%d v2=%d, want 10 and 20", v1, v2)
	}
}

func TestTCPServer_UnitIDMismatchIsSilentlyDropped(t *testing.T) {
	vars := []model.Variable{
		{ID: "hr0", Area: model.AreaHoldingRegister, Address: 0, DataType: model.DataTypeUint16, Value: model.NumberValue(1)},
	}
	_, conn := startTestServer(t, 5, vars)

	// Request addressed to unit 9 while the server answers unit 5: no
	// response should ever arrive.
	mismatched := buildReadHoldingRegistersRequest(1, 9, 0, 1)
	if _, err := conn.Write(mismatched); err != nil {
		t.Fatalf("write mismatched: %v", err)
	}

	// Follow up with a request to the correct unit id; this response must
	// be the only one that shows up, proving the mismatched request never
	// produced output of its own.
	matching := buildReadHoldingRegistersRequest(2, 5, 0, 1)
	if _, err := conn.Write(matching); err != nil {
		t.Fatalf("write matching: %v", err)
	}

	resp := readResponse(t, conn)
	txID := binary.BigEndian.Uint16(resp[0:2])
	if txID != 2 {
		t.Fatalf("transaction id = %d, want 2 (the matching request's, proving the mismatched one was dropped)", txID)
	}
}

func TestTCPServer_UnitIDZeroIsBroadcastAccepted(t *testing.T) {
	vars := []model.Variable{
		{ID: "hr0", Area: model.AreaHoldingRegister, Address: 0, DataType: model.DataTypeUint16, Value: model.NumberValue(77)},
	}
	_, conn := startTestServer(t, 5, vars)

	req := buildReadHoldingRegistersRequest(1, 0, 0, 1)
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readResponse(t, conn)
	val := binary.BigEndian.Uint16(resp[9:11])
	if val != 77 {
		t.Fatalf("register value = %d, want 77", val)
	}
}

func TestTCPServer_MalformedFrameResyncsConnection(t *testing.T) {
	vars := []model.Variable{
		{ID: "hr0", Area: model.AreaHoldingRegister, Address: 0, DataType: model.DataTypeUint16, Value: model.NumberValue(5)},
	}
	_, conn := startTestServer(t, 1, vars)

	// An MBAP header claiming protocol id 1 (invalid; Modbus TCP requires 0)
	// fails to parse. The handler must clear its buffer and resync rather
	// than wedge the connection.
	bad := make([]byte, common.TCPHeaderLength+2)
	binary.BigEndian.PutUint16(bad[0:2], 99)
	binary.BigEndian.PutUint16(bad[2:4], 1) // bogus protocol id
	binary.BigEndian.PutUint16(bad[4:6], 3)
	bad[6] = 1
	bad[7] = byte(common.FuncReadHoldingRegisters)
	if _, err := conn.Write(bad); err != nil {
		t.Fatalf("write bad frame: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	good := buildReadHoldingRegistersRequest(1, 1, 0, 1)
	if _, err := conn.Write(good); err != nil {
		t.Fatalf("write good frame: %v", err)
	}

	resp := readResponse(t, conn)
	val := binary.BigEndian.Uint16(resp[9:11])
	if val != 5 {
		t.Fatalf("register value after resync = %d, want 5", val)
	}
}

func TestTCPServer_WriteSingleRegisterThenReadBack(t *testing.T) {
	vars := []model.Variable{
		{ID: "hr0", Area: model.AreaHoldingRegister, Address: 0, DataType: model.DataTypeUint16, Value: model.NumberValue(0)},
	}
	_, conn := startTestServer(t, 1, vars)

	writeData := make([]byte, 4)
	binary.BigEndian.PutUint16(writeData[0:2], 0)
	binary.BigEndian.PutUint16(writeData[2:4], 999)
	header := codec.MBAPHeader{TransactionID: 1, ProtocolID: common.TCPProtocolIdentifier, UnitID: 1}
	adu := header.WriteTo(nil)
	adu = append(adu, byte(common.FuncWriteSingleRegister))
	adu = append(adu, writeData...)
	binary.BigEndian.PutUint16(adu[4:6], uint16(1+1+len(writeData)))

	if _, err := conn.Write(adu); err != nil {
		t.Fatalf("write: %v", err)
	}
	writeResp := readResponse(t, conn)
	if writeResp[7] != byte(common.FuncWriteSingleRegister) {
		t.Fatalf("write response function code = %#x", writeResp[7])
	}

	readReq := buildReadHoldingRegistersRequest(2, 1, 0, 1)
	if _, err := conn.Write(readReq); err != nil {
		t.Fatalf("write read request: %v", err)
	}
	readResp := readResponse(t, conn)
	val := binary.BigEndian.Uint16(readResp[9:11])
	if val != 999 {
		t.Fatalf("register value after write = %d, want 999", val)
	}
}
