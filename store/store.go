package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/model"
)

// Store is the strict-addressed Modbus data store. It implements
// common.DataStore plus the catalog operations the control surface needs.
type Store struct {
	coils            bank[bool]
	discreteInputs   bank[bool]
	holdingRegisters bank[uint16]
	inputRegisters   bank[uint16]

	definedCoils            *definedSet
	definedDiscreteInputs   *definedSet
	definedHoldingRegisters *definedSet
	definedInputRegisters   *definedSet

	catalogMu sync.RWMutex
	catalog   map[string]model.Variable
}

// New creates an empty store: every bank is zeroed and no address is defined.
func New() *Store {
	return &Store{
		definedCoils:            newDefinedSet(),
		definedDiscreteInputs:   newDefinedSet(),
		definedHoldingRegisters: newDefinedSet(),
		definedInputRegisters:   newDefinedSet(),
		catalog:                 make(map[string]model.Variable),
	}
}

// LoadVariables atomically replaces the catalog and every defined-address
// set, then writes each variable's initial value into its bank cells.
// Ref: SPEC_FULL.md #4.2 load_variables.
func (s *Store) LoadVariables(vars []model.Variable) {
	s.definedCoils.clear()
	s.definedDiscreteInputs.clear()
	s.definedHoldingRegisters.clear()
	s.definedInputRegisters.clear()

	s.catalogMu.Lock()
	s.catalog = make(map[string]model.Variable, len(vars))
	for _, v := range vars {
		s.catalog[v.ID] = v
	}
	s.catalogMu.Unlock()

	for _, v := range vars {
		s.markDefined(v)
		s.writeVariableValue(v)
	}
}

func (s *Store) markDefined(v model.Variable) {
	switch v.Area {
	case model.AreaCoil:
		s.definedCoils.add(common.Address(v.Address))
	case model.AreaDiscreteInput:
		s.definedDiscreteInputs.add(common.Address(v.Address))
	case model.AreaHoldingRegister:
		for _, a := range v.Addresses() {
			s.definedHoldingRegisters.add(a)
		}
	case model.AreaInputRegister:
		for _, a := range v.Addresses() {
			s.definedInputRegisters.add(a)
		}
	}
}

// writeVariableValue encodes v.Value into the bank cell(s) its area/address cover.
func (s *Store) writeVariableValue(v model.Variable) {
	switch v.Area {
	case model.AreaCoil:
		s.coils.writeOne(common.Address(v.Address), v.Value.AsBool())
	case model.AreaDiscreteInput:
		s.discreteInputs.writeOne(common.Address(v.Address), v.Value.AsBool())
	case model.AreaHoldingRegister:
		s.encodeRegister(&s.holdingRegisters, v)
	case model.AreaInputRegister:
		s.encodeRegister(&s.inputRegisters, v)
	}
}

// encodeRegister writes v.Value into one or two register cells according to
// v.DataType, with 32-bit types split big-endian (high word first).
// Ref: SPEC_FULL.md #4.2 "Register decoding for sync", #3 encoding rules.
func (s *Store) encodeRegister(b *bank[uint16], v model.Variable) {
	addr := common.Address(v.Address)
	switch v.DataType {
	case model.DataTypeBool:
		b.writeOne(addr, v.Value.AsUint16())
	case model.DataTypeUint16, model.DataTypeInt16:
		b.writeOne(addr, v.Value.AsUint16())
	case model.DataTypeUint32:
		val := v.Value.AsUint32()
		b.writeOne(addr, uint16(val>>16))
		b.writeOne(addr+1, uint16(val))
	case model.DataTypeFloat32:
		bits := math.Float32bits(v.Value.AsFloat32())
		b.writeOne(addr, uint16(bits>>16))
		b.writeOne(addr+1, uint16(bits))
	}
}

// UpdateVariable replaces the value of an existing catalog entry by id and
// re-encodes it into its bank cells. It does not touch defined-sets.
// Ref: SPEC_FULL.md #4.2 update_variable.
func (s *Store) UpdateVariable(id string, value model.Value) bool {
	s.catalogMu.Lock()
	v, ok := s.catalog[id]
	if !ok {
		s.catalogMu.Unlock()
		return false
	}
	v.Value = value
	s.catalog[id] = v
	s.catalogMu.Unlock()

	s.writeVariableValue(v)
	return true
}

// GetVariables returns a snapshot copy of the current catalog.
func (s *Store) GetVariables() []model.Variable {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	out := make([]model.Variable, 0, len(s.catalog))
	for _, v := range s.catalog {
		out = append(out, v)
	}
	return out
}

// Clear zeroes every bank cell and empties the catalog and defined-sets.
// Ref: SPEC_FULL.md #4.2 clear.
func (s *Store) Clear() {
	s.coils.clear()
	s.discreteInputs.clear()
	s.holdingRegisters.clear()
	s.inputRegisters.clear()

	s.definedCoils.clear()
	s.definedDiscreteInputs.clear()
	s.definedHoldingRegisters.clear()
	s.definedInputRegisters.clear()

	s.catalogMu.Lock()
	s.catalog = make(map[string]model.Variable)
	s.catalogMu.Unlock()
}

// ReadCoils implements common.DataStore.
func (s *Store) ReadCoils(_ context.Context, address common.Address, quantity common.Quantity) ([]common.CoilValue, error) {
	if !s.definedCoils.containsRange(address, quantity) {
		return nil, common.ErrInvalidAddress
	}
	return s.coils.read(address, quantity)
}

// ReadDiscreteInputs implements common.DataStore.
func (s *Store) ReadDiscreteInputs(_ context.Context, address common.Address, quantity common.Quantity) ([]common.DiscreteInputValue, error) {
	if !s.definedDiscreteInputs.containsRange(address, quantity) {
		return nil, common.ErrInvalidAddress
	}
	return s.discreteInputs.read(address, quantity)
}

// ReadHoldingRegisters implements common.DataStore.
func (s *Store) ReadHoldingRegisters(_ context.Context, address common.Address, quantity common.Quantity) ([]common.RegisterValue, error) {
	if !s.definedHoldingRegisters.containsRange(address, quantity) {
		return nil, common.ErrInvalidAddress
	}
	return s.holdingRegisters.read(address, quantity)
}

// ReadInputRegisters implements common.DataStore.
func (s *Store) ReadInputRegisters(_ context.Context, address common.Address, quantity common.Quantity) ([]common.InputRegisterValue, error) {
	if !s.definedInputRegisters.containsRange(address, quantity) {
		return nil, common.ErrInvalidAddress
	}
	return s.inputRegisters.read(address, quantity)
}

// WriteSingleCoil implements common.DataStore, re-syncing any catalog
// variable whose address exactly matches after the write succeeds.
func (s *Store) WriteSingleCoil(_ context.Context, address common.Address, value common.CoilValue) error {
	if !s.definedCoils.containsRange(address, 1) {
		return common.ErrInvalidAddress
	}
	if err := s.coils.writeOne(address, value); err != nil {
		return err
	}
	s.syncCoil(address, value)
	return nil
}

// WriteSingleRegister implements common.DataStore.
func (s *Store) WriteSingleRegister(_ context.Context, address common.Address, value common.RegisterValue) error {
	if !s.definedHoldingRegisters.containsRange(address, 1) {
		return common.ErrInvalidAddress
	}
	if err := s.holdingRegisters.writeOne(address, value); err != nil {
		return err
	}
	s.syncHoldingRegister(address)
	return nil
}

// WriteMultipleCoils implements common.DataStore.
func (s *Store) WriteMultipleCoils(_ context.Context, address common.Address, values []common.CoilValue) error {
	quantity := common.Quantity(len(values))
	if !s.definedCoils.containsRange(address, quantity) {
		return common.ErrInvalidAddress
	}
	if err := s.coils.writeMany(address, values); err != nil {
		return err
	}
	for i, v := range values {
		s.syncCoil(address+common.Address(i), v)
	}
	return nil
}

// WriteMultipleRegisters implements common.DataStore.
func (s *Store) WriteMultipleRegisters(_ context.Context, address common.Address, values []common.RegisterValue) error {
	quantity := common.Quantity(len(values))
	if !s.definedHoldingRegisters.containsRange(address, quantity) {
		return common.ErrInvalidAddress
	}
	if err := s.holdingRegisters.writeMany(address, values); err != nil {
		return err
	}
	for i := range values {
		s.syncHoldingRegister(address + common.Address(i))
	}
	return nil
}

// syncCoil applies SPEC_FULL.md #4.2's bank->catalog sync rule for coils:
// every catalog variable whose area/address exactly match is overwritten.
func (s *Store) syncCoil(address common.Address, value bool) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	for id, v := range s.catalog {
		if v.Area == model.AreaCoil && common.Address(v.Address) == address {
			v.Value = model.BoolValue(value)
			s.catalog[id] = v
		}
	}
}

// syncHoldingRegister re-decodes every catalog variable whose area is
// HoldingRegister and whose address exactly matches the written cell. A
// 32-bit variable keeps its high word at its own address and its low word at
// address+1: a write to its own address re-syncs it, a write that touches
// only the low word at address+1 does not - see SPEC_FULL.md #9 for why this
// address-equality match (not coverage) is intentional.
func (s *Store) syncHoldingRegister(address common.Address) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	for id, v := range s.catalog {
		if v.Area != model.AreaHoldingRegister || common.Address(v.Address) != address {
			continue
		}
		newValue, ok := s.decodeRegister(&s.holdingRegisters, v)
		if !ok {
			continue
		}
		v.Value = newValue
		s.catalog[id] = v
	}
}

// decodeRegister reads back v.DataType from the bank cells at v.Address,
// mirroring the big-endian encoding used by writeVariableValue.
func (s *Store) decodeRegister(b *bank[uint16], v model.Variable) (model.Value, bool) {
	addr := common.Address(v.Address)
	switch v.DataType {
	case model.DataTypeBool:
		return model.BoolValue(b.get(addr) != 0), true
	case model.DataTypeUint16:
		return model.NumberValue(float64(b.get(addr))), true
	case model.DataTypeInt16:
		return model.NumberValue(float64(int16(b.get(addr)))), true
	case model.DataTypeUint32:
		if int(addr)+1 >= common.AddressSpaceSize {
			return model.Value{}, false
		}
		val := uint32(b.get(addr))<<16 | uint32(b.get(addr+1))
		return model.NumberValue(float64(val)), true
	case model.DataTypeFloat32:
		if int(addr)+1 >= common.AddressSpaceSize {
			return model.Value{}, false
		}
		bits := uint32(b.get(addr))<<16 | uint32(b.get(addr+1))
		return model.NumberValue(float64(math.Float32frombits(bits))), true
	default:
		return model.Value{}, false
	}
}

// Dump renders every catalog variable (area, name, address, type, value) as a
// human-readable text block. Ambient debug helper, grounded on the teacher's
// MemoryStore.DumpRegisters; neither the wire protocol nor the CLI calls it.
func (s *Store) Dump() string {
	var b strings.Builder

	s.catalogMu.RLock()
	vars := make([]model.Variable, 0, len(s.catalog))
	for _, v := range s.catalog {
		vars = append(vars, v)
	}
	s.catalogMu.RUnlock()

	sort.Slice(vars, func(i, j int) bool {
		if vars[i].Area != vars[j].Area {
			return vars[i].Area < vars[j].Area
		}
		return vars[i].Address < vars[j].Address
	})

	fmt.Fprintf(&b, "store: %d variables defined\n", len(vars))
	for _, v := range vars {
		fmt.Fprintf(&b, "  %-6s %-20s addr=%-6d type=%-8s value=%v\n", v.Area, v.Name, v.Address, v.DataType, v.Value)
	}
	return b.String()
}
