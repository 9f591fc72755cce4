package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/model"
)

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vars.yaml")
	content := `
variables:
  - id: coil0
    name: Pump Run
    area: coil
    address: 0
    dataType: bool
    value: true
  - id: hr0
    name: Setpoint
    area: holding_register
    address: 10
    dataType: uint16
    value: 1500
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Variables) != 2 {
		t.Fatalf("len(Variables) = %d, want 2", len(doc.Variables))
	}
	if doc.Variables[0].ID != "coil0" {
		t.Errorf("Variables[0].ID = %q, want coil0", doc.Variables[0].ID)
	}
}

func TestLoad_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vars.json")
	content := `{"variables":[{"id":"di0","name":"Door Open","area":"discrete_input","address":0,"dataType":"bool","value":false}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Variables) != 1 || doc.Variables[0].ID != "di0" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}

func TestLoad_UnrecognizedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vars.txt")
	if err := os.WriteFile(path, []byte("irrelevant"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unrecognized extension")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/vars.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_DuplicateID(t *testing.T) {
	vars := []model.Variable{
		{ID: "a", Area: model.AreaCoil, Address: 0, DataType: model.DataTypeBool},
		{ID: "a", Area: model.AreaCoil, Address: 1, DataType: model.DataTypeBool},
	}
	if err := Validate(vars); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestValidate_EmptyID(t *testing.T) {
	vars := []model.Variable{{ID: "", Area: model.AreaCoil, Address: 0, DataType: model.DataTypeBool}}
	if err := Validate(vars); err == nil {
		t.Fatal("expected empty id error")
	}
}

func TestValidate_AddressOutOfRange(t *testing.T) {
	vars := []model.Variable{
		{ID: "hr", Area: model.AreaHoldingRegister, Address: 65535, DataType: model.DataTypeUint32},
	}
	if err := Validate(vars); err == nil {
		t.Fatal("expected out-of-range error for a 2-register variable at address 65535")
	}
}

func TestValidate_OK(t *testing.T) {
	vars := []model.Variable{
		{ID: "hr", Area: model.AreaHoldingRegister, Address: 65534, DataType: model.DataTypeUint32},
	}
	if err := Validate(vars); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vars.yaml")
	initial := "variables:\n  - id: a\n    area: coil\n    address: 0\n    dataType: bool\n    value: false\n"
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Document, 4)
	errs := make(chan error, 4)
	if err := Watch(ctx, path, func(d *Document) { changed <- d }, func(e error) { errs <- e }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Give the watcher goroutine time to register before we write.
	time.Sleep(100 * time.Millisecond)

	updated := "variables:\n  - id: a\n    area: coil\n    address: 0\n    dataType: bool\n    value: true\n  - id: b\n    area: coil\n    address: 1\n    dataType: bool\n    value: false\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case doc := <-changed:
		if len(doc.Variables) != 2 {
			t.Errorf("reloaded doc has %d variables, want 2", len(doc.Variables))
		}
	case err := <-errs:
		t.Fatalf("onError called: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("onChange was not called within timeout")
	}
}
