package replay

import (
	"path/filepath"
	"testing"
)

func TestWriteAndReadHeader(t *testing.T) {
	dir := t.TempDir()
	header := Header{
		SchemaVersion: HeaderSchemaVersion,
		SessionID:     "session-9",
		Level:         2,
		TotalGates:    25,
		TerrainParams: TerrainParameters{"riverWidth": 16},
		FilePointer:   manifestName,
	}
	path := filepath.Join(dir, "nested", headerName)
	if err := WriteHeader(path, header); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	loaded, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if loaded.SessionID != header.SessionID || loaded.Level != 2 || loaded.TotalGates != 25 {
		t.Fatalf("unexpected header values: %+v", loaded)
	}
	if loaded.TerrainParams["riverWidth"] != 16 {
		t.Fatalf("unexpected terrain params: %#v", loaded.TerrainParams)
	}
}

func TestHeaderValidation(t *testing.T) {
	if err := WriteHeader(filepath.Join(t.TempDir(), headerName), Header{SchemaVersion: 1}); err == nil {
		t.Fatal("expected missing file pointer to be rejected")
	}
	if err := (Header{FilePointer: manifestName}).Validate(); err == nil {
		t.Fatal("expected zero schema version to be rejected")
	}
}

func TestTerrainParametersCloneIsIndependent(t *testing.T) {
	original := TerrainParameters{"a": 1}
	clone := original.Clone()
	clone["a"] = 2
	if original["a"] != 1 {
		t.Fatal("clone shares storage with the original")
	}
	if TerrainParameters(nil).Clone() != nil {
		t.Fatal("empty parameters should clone to nil")
	}
}
