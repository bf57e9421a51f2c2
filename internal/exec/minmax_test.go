package exec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func sampleMaps() (MinMaxMap, MinMaxMap) {
	inputs := MinMaxMap{
		{Model: 0, Subgraph: 0, Index: 0}: {Min: -1, Max: 1},
	}
	ops := MinMaxMap{
		{Model: 0, Subgraph: 0, Index: 3}: {Min: 0, Max: 6},
		{Model: 0, Subgraph: 0, Index: 1}: {Min: -2.5, Max: 2.5},
	}
	return inputs, ops
}

func TestDumpTwiceCountsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minmax.bin")
	d := NewRawMinMaxDumper(path)
	inputs, ops := sampleMaps()

	for i := 0; i < 2; i++ {
		if err := d.Dump(inputs, ops); err != nil {
			t.Fatalf("dump %d: %v", i, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	header := []byte{0x44, 0x4D, 0x4D, 0x4F, 0x01, 0x00, 0x00, 0x00}
	if !bytes.Equal(data[:8], header) {
		t.Errorf("expected header % x, got % x", header, data[:8])
	}
	if runs := binary.LittleEndian.Uint32(data[8:]); runs != 2 {
		t.Errorf("expected run_count 2, got %d", runs)
	}
	// header + 2 runs of (counts + 3 records)
	if want := 12 + 2*(8+3*minMaxRecordSize); len(data) != want {
		t.Errorf("expected %d bytes, got %d", want, len(data))
	}

	file, err := ReadMinMaxFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(file.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(file.Runs))
	}
	run := file.Runs[1]
	if len(run.Ops) != 2 || len(run.Inputs) != 1 {
		t.Fatalf("unexpected run shape %+v", run)
	}
	// Records are written in key order.
	if run.Ops[0].Key.Index != 1 || run.Ops[1].Key.Index != 3 {
		t.Errorf("ops out of order: %+v", run.Ops)
	}
	if run.Ops[0].Min != -2.5 || run.Ops[0].Max != 2.5 {
		t.Errorf("unexpected op range %+v", run.Ops[0].MinMax)
	}
	if run.Inputs[0].Min != -1 || run.Inputs[0].Max != 1 {
		t.Errorf("unexpected input range %+v", run.Inputs[0].MinMax)
	}
}

func TestDumpRecreatesInvalidFile(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"garbage", []byte("not a minmax file at all")},
		{"short", []byte{0x44, 0x4D}},
		{"wrong version", []byte{0x44, 0x4D, 0x4D, 0x4F, 0x02, 0x00, 0x00, 0x00, 0x07, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "minmax.bin")
			if err := os.WriteFile(path, tt.content, 0o644); err != nil {
				t.Fatal(err)
			}
			if err := NewRawMinMaxDumper(path).Dump(sampleMaps()); err != nil {
				t.Fatal(err)
			}
			file, err := ReadMinMaxFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if len(file.Runs) != 1 {
				t.Errorf("expected a fresh file with 1 run, got %d", len(file.Runs))
			}
		})
	}
}

func TestDumpHeaderOnlyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minmax.bin")
	header := []byte{0x44, 0x4D, 0x4D, 0x4F, 0x01, 0x00, 0x00, 0x00}
	if err := os.WriteFile(path, header, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewRawMinMaxDumper(path).Dump(MinMaxMap{}, MinMaxMap{}); err != nil {
		t.Fatal(err)
	}
	file, err := ReadMinMaxFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(file.Runs) != 1 || len(file.Runs[0].Ops) != 0 {
		t.Errorf("expected one empty run, got %+v", file.Runs)
	}
}

func TestDumpReportsOpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "minmax.bin")
	if err := NewRawMinMaxDumper(path).Dump(sampleMaps()); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestParseMinMaxErrors(t *testing.T) {
	le := binary.LittleEndian
	build := func(words ...uint32) []byte {
		b := make([]byte, 4*len(words))
		for i, w := range words {
			le.PutUint32(b[i*4:], w)
		}
		return b
	}

	_, err := ParseMinMax(build(0xDEADBEEF, 1, 0))
	var magicErr ErrInvalidMagic
	if !errors.As(err, &magicErr) || magicErr.Magic != 0xDEADBEEF {
		t.Errorf("expected ErrInvalidMagic, got %v", err)
	}

	_, err = ParseMinMax(build(MinMaxMagic, 9, 0))
	var versionErr ErrUnsupportedVersion
	if !errors.As(err, &versionErr) || versionErr.Version != 9 {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}

	// One run announcing two op records but carrying none.
	_, err = ParseMinMax(build(MinMaxMagic, MinMaxVersion, 1, 2, 0))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}

	if _, err := ParseMinMax([]byte{1, 2}); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF for short input, got %v", err)
	}
}
