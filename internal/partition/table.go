// Package partition reads the INI table that assigns operations to backends.
//
//	[partition]
//	backends=cpu,npu
//	default=cpu
//	comply=opcode
//
//	[OPCODE]
//	CONV_2D=npu
//	_=cpu
//
//	[OPNAME]
//	encoder/dense_1=npu
//
// The "_" key of the section matching the comply mode replaces the default.
package partition

import (
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/23skdu/longbow-lattice/internal/ir"
	"github.com/23skdu/longbow-lattice/internal/logger"
)

const (
	sectionPartition = "partition"
	sectionOpCode    = "OPCODE"
	sectionOpName    = "OPNAME"

	keyBackends   = "backends"
	keyDefault    = "default"
	keyComply     = "comply"
	keyUnderscore = "_"
)

var (
	ErrMissingKey     = errors.New("partition: required key missing")
	ErrInvalidComply  = errors.New("partition: invalid or unset comply")
	ErrUnknownBackend = errors.New("partition: group is not a listed backend")
)

type Comply int

const (
	ComplyOpCode Comply = iota
	ComplyOpName
)

func (c Comply) String() string {
	if c == ComplyOpName {
		return "opname"
	}
	return "opcode"
}

type Table struct {
	Backends []string
	Default  string
	Comply   Comply
	ByOpCode map[string]string
	ByOpName map[string]string
}

// Single places every operation on one backend.
func Single(backend string) *Table {
	return &Table{
		Backends: []string{backend},
		Default:  backend,
		ByOpCode: map[string]string{},
		ByOpName: map[string]string{},
	}
}

// Load reads a table from a file path or from raw INI bytes.
func Load(source interface{}) (*Table, error) {
	f, err := ini.Load(source)
	if err != nil {
		return nil, errors.Wrap(err, "partition: read")
	}
	table, err := parse(f)
	if err != nil {
		return nil, err
	}
	if path, ok := source.(string); ok {
		logger.Log.Info("partition table loaded", "path", path, "backends", strings.Join(table.Backends, ","), "default", table.Default, "comply", table.Comply.String())
	}
	return table, nil
}

func parse(f *ini.File) (*Table, error) {
	table := &Table{
		Comply:   ComplyOpCode,
		ByOpCode: make(map[string]string),
		ByOpName: make(map[string]string),
	}

	sec, err := f.GetSection(sectionPartition)
	if err != nil {
		return nil, errors.Wrapf(ErrMissingKey, "[%s] section", sectionPartition)
	}
	for _, key := range []string{keyBackends, keyDefault, keyComply} {
		if !sec.HasKey(key) {
			return nil, errors.Wrapf(ErrMissingKey, "'%s' is required", key)
		}
	}
	for _, b := range strings.Split(sec.Key(keyBackends).String(), ",") {
		if b = strings.TrimSpace(b); b != "" {
			table.Backends = append(table.Backends, b)
		}
	}
	table.Default = sec.Key(keyDefault).String()

	switch sec.Key(keyComply).String() {
	case "opcode":
		table.Comply = ComplyOpCode
	case "opname":
		table.Comply = ComplyOpName
	default:
		return nil, errors.Wrapf(ErrInvalidComply, "%q", sec.Key(keyComply).String())
	}

	readOverrides := func(name string, mode Comply, into map[string]string) {
		s, err := f.GetSection(name)
		if err != nil {
			return
		}
		for _, k := range s.Keys() {
			if k.Name() == keyUnderscore {
				if table.Comply == mode {
					table.Default = k.Value()
				}
				continue
			}
			into[k.Name()] = k.Value()
		}
	}
	readOverrides(sectionOpCode, ComplyOpCode, table.ByOpCode)
	readOverrides(sectionOpName, ComplyOpName, table.ByOpName)

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// Validate checks that every group the table can return is a listed backend.
func (t *Table) Validate() error {
	check := func(group, where string) error {
		if !slices.Contains(t.Backends, group) {
			return errors.Wrapf(ErrUnknownBackend, "%s: %q", where, group)
		}
		return nil
	}
	if err := check(t.Default, keyDefault); err != nil {
		return err
	}
	for code, g := range t.ByOpCode {
		if err := check(g, sectionOpCode+"."+code); err != nil {
			return err
		}
	}
	for name, g := range t.ByOpName {
		if err := check(g, sectionOpName+"."+name); err != nil {
			return err
		}
	}
	return nil
}

// BackendFor returns the group of op according to the comply mode.
func (t *Table) BackendFor(op *ir.Operation) string {
	switch t.Comply {
	case ComplyOpName:
		if g, ok := t.ByOpName[op.Name]; ok && op.Name != "" {
			return g
		}
	default:
		if g, ok := t.ByOpCode[string(op.Code)]; ok {
			return g
		}
	}
	return t.Default
}
