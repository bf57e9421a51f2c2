package exec

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
)

const (
	MinMaxMagic   uint32 = 0x4F4D4D44
	MinMaxVersion uint32 = 1

	minMaxHeaderSize = 8
	minMaxRecordSize = 20
)

type MinMax struct {
	Min float32
	Max float32
}

// MinMaxKey locates a value in a multi-model package. Index is an operation
// index for op records and an input position for input records.
type MinMaxKey struct {
	Model    uint32
	Subgraph uint32
	Index    uint32
}

type MinMaxMap map[MinMaxKey]MinMax

type ErrInvalidMagic struct{ Magic uint32 }

func (e ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid minmax magic: %x", e.Magic)
}

type ErrUnsupportedVersion struct{ Version uint32 }

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported minmax version: %d", e.Version)
}

// RawMinMaxDumper appends calibration runs to a little-endian file:
//
//	uint32 magic, uint32 version, uint32 run_count
//	per run: uint32 op_count, uint32 input_count,
//	         op_count x (model, subgraph, op, float32 min, float32 max)
//	         input_count x (model, subgraph, input, float32 min, float32 max)
type RawMinMaxDumper struct {
	path string
}

func NewRawMinMaxDumper(path string) *RawMinMaxDumper {
	return &RawMinMaxDumper{path: path}
}

func (d *RawMinMaxDumper) Path() string { return d.path }

// Dump appends one run. Only the run count of an existing file is rewritten;
// a file without a valid header is truncated and started over.
func (d *RawMinMaxDumper) Dump(inputs, ops MinMaxMap) (err error) {
	f, err := os.OpenFile(d.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open minmax file %s: %w", d.path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close minmax file %s: %w", d.path, cerr)
		}
	}()

	var header [12]byte
	n, err := io.ReadFull(f, header[:])
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("failed to read minmax header: %w", err)
	}

	valid := n >= minMaxHeaderSize &&
		binary.LittleEndian.Uint32(header[0:]) == MinMaxMagic &&
		binary.LittleEndian.Uint32(header[4:]) == MinMaxVersion

	runs := uint32(1)
	if !valid {
		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("failed to truncate minmax file: %w", err)
		}
		binary.LittleEndian.PutUint32(header[0:], MinMaxMagic)
		binary.LittleEndian.PutUint32(header[4:], MinMaxVersion)
		if _, err := f.WriteAt(header[:minMaxHeaderSize], 0); err != nil {
			return fmt.Errorf("failed to write minmax header: %w", err)
		}
	} else if n == len(header) {
		runs = binary.LittleEndian.Uint32(header[8:]) + 1
	}

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], runs)
	if _, err := f.WriteAt(count[:], minMaxHeaderSize); err != nil {
		return fmt.Errorf("failed to write run count: %w", err)
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end of minmax file: %w", err)
	}
	if _, err := f.Write(encodeRun(inputs, ops)); err != nil {
		return fmt.Errorf("failed to append minmax run: %w", err)
	}
	return nil
}

func encodeRun(inputs, ops MinMaxMap) []byte {
	var buf bytes.Buffer
	buf.Grow(8 + minMaxRecordSize*(len(inputs)+len(ops)))

	put := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	put(uint32(len(ops)))
	put(uint32(len(inputs)))
	for _, m := range []MinMaxMap{ops, inputs} {
		for _, k := range sortedKeys(m) {
			put(k.Model)
			put(k.Subgraph)
			put(k.Index)
			put(math.Float32bits(m[k].Min))
			put(math.Float32bits(m[k].Max))
		}
	}
	return buf.Bytes()
}

func sortedKeys(m MinMaxMap) []MinMaxKey {
	keys := make([]MinMaxKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b MinMaxKey) int {
		return cmp.Or(cmp.Compare(a.Model, b.Model), cmp.Compare(a.Subgraph, b.Subgraph), cmp.Compare(a.Index, b.Index))
	})
	return keys
}

type MinMaxRecord struct {
	Key MinMaxKey
	MinMax
}

type MinMaxRun struct {
	Ops    []MinMaxRecord
	Inputs []MinMaxRecord
}

type MinMaxFile struct {
	Version uint32
	Runs    []MinMaxRun
}

// ReadMinMaxFile parses a whole dump.
func ReadMinMaxFile(path string) (*MinMaxFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseMinMax(data)
}

func ParseMinMax(data []byte) (*MinMaxFile, error) {
	if len(data) < minMaxHeaderSize+4 {
		return nil, io.ErrUnexpectedEOF
	}
	if magic := binary.LittleEndian.Uint32(data[0:]); magic != MinMaxMagic {
		return nil, ErrInvalidMagic{Magic: magic}
	}
	file := &MinMaxFile{Version: binary.LittleEndian.Uint32(data[4:])}
	if file.Version != MinMaxVersion {
		return nil, ErrUnsupportedVersion{Version: file.Version}
	}
	runCount := binary.LittleEndian.Uint32(data[8:])

	offset := 12
	readRecords := func(n uint32) ([]MinMaxRecord, error) {
		if len(data)-offset < int(n)*minMaxRecordSize {
			return nil, io.ErrUnexpectedEOF
		}
		out := make([]MinMaxRecord, n)
		for i := range out {
			r := data[offset:]
			out[i] = MinMaxRecord{
				Key: MinMaxKey{
					Model:    binary.LittleEndian.Uint32(r[0:]),
					Subgraph: binary.LittleEndian.Uint32(r[4:]),
					Index:    binary.LittleEndian.Uint32(r[8:]),
				},
				MinMax: MinMax{
					Min: math.Float32frombits(binary.LittleEndian.Uint32(r[12:])),
					Max: math.Float32frombits(binary.LittleEndian.Uint32(r[16:])),
				},
			}
			offset += minMaxRecordSize
		}
		return out, nil
	}

	for run := uint32(0); run < runCount; run++ {
		if len(data)-offset < 8 {
			return nil, fmt.Errorf("run %d: %w", run, io.ErrUnexpectedEOF)
		}
		opCount := binary.LittleEndian.Uint32(data[offset:])
		inputCount := binary.LittleEndian.Uint32(data[offset+4:])
		offset += 8

		ops, err := readRecords(opCount)
		if err != nil {
			return nil, fmt.Errorf("run %d ops: %w", run, err)
		}
		inputs, err := readRecords(inputCount)
		if err != nil {
			return nil, fmt.Errorf("run %d inputs: %w", run, err)
		}
		file.Runs = append(file.Runs, MinMaxRun{Ops: ops, Inputs: inputs})
	}
	return file, nil
}
