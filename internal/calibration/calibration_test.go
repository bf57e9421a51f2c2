package calibration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-lattice/internal/exec"
)

func sampleFile() *exec.MinMaxFile {
	return &exec.MinMaxFile{
		Version: exec.MinMaxVersion,
		Runs: []exec.MinMaxRun{
			{
				Inputs: []exec.MinMaxRecord{{Key: exec.MinMaxKey{Index: 0}, MinMax: exec.MinMax{Min: -1, Max: 1}}},
				Ops:    []exec.MinMaxRecord{{Key: exec.MinMaxKey{Subgraph: 1, Index: 2}, MinMax: exec.MinMax{Min: 0, Max: 6}}},
			},
			{
				Ops: []exec.MinMaxRecord{{Key: exec.MinMaxKey{Index: 3}, MinMax: exec.MinMax{Min: -0.5, Max: 0.5}}},
			},
		},
	}
}

func TestRecordRoundTrip(t *testing.T) {
	rows := Rows(sampleFile())
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Kind != KindInput || rows[1].Kind != KindOp || rows[2].Run != 1 {
		t.Errorf("unexpected row order %+v", rows)
	}

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := BuildRecord(mem, rows)
	if rec.NumCols() != int64(len(Schema.Fields())) || rec.NumRows() != 3 {
		t.Errorf("unexpected record shape %dx%d", rec.NumRows(), rec.NumCols())
	}
	got := ReadRows(rec)
	rec.Release()

	for i := range rows {
		if got[i] != rows[i] {
			t.Errorf("row %d: expected %+v, got %+v", i, rows[i], got[i])
		}
	}
}

// putServer collects every row written to it, keyed by descriptor path.
type putServer struct {
	flight.BaseFlightServer

	mu   sync.Mutex
	rows map[string][]Row
}

func (s *putServer) DoPut(stream flight.FlightService_DoPutServer) error {
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer rdr.Release()

	var name string
	for rdr.Next() {
		if d := rdr.LatestFlightDescriptor(); d != nil && len(d.Path) > 0 {
			name = d.Path[0]
		}
		rows := ReadRows(rdr.Record())
		s.mu.Lock()
		s.rows[name] = append(s.rows[name], rows...)
		s.mu.Unlock()
	}
	if err := rdr.Err(); err != nil {
		return err
	}
	return stream.Send(&flight.PutResult{})
}

func TestFlightExport(t *testing.T) {
	svc := &putServer{rows: make(map[string][]Row)}
	srv := flight.NewServerWithMiddleware(nil)
	if err := srv.Init("localhost:0"); err != nil {
		t.Fatal(err)
	}
	srv.RegisterFlightService(svc)
	go srv.Serve()
	defer srv.Shutdown()

	fe := NewFlightExporter("", 0)
	fe.addr = srv.Addr().String()
	if err := fe.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer fe.Close()

	if err := fe.Export(context.Background(), "model.minmax", sampleFile()); err != nil {
		t.Fatal(err)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	got := svc.rows["model.minmax"]
	if len(got) != 3 {
		t.Fatalf("expected 3 rows at the server, got %d (%v)", len(got), svc.rows)
	}
	if got[1].Key.Subgraph != 1 || got[1].Max != 6 {
		t.Errorf("unexpected row %+v", got[1])
	}
}

func TestFlightExportNotConnected(t *testing.T) {
	fe := NewFlightExporter("localhost", 0)
	if fe.Addr() != "localhost:3000" {
		t.Errorf("expected default port, got %s", fe.Addr())
	}
	if err := fe.Export(context.Background(), "x", sampleFile()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := fe.Close(); err != nil {
		t.Errorf("closing an unconnected exporter: %v", err)
	}
}

func TestMemoryExporter(t *testing.T) {
	m := NewMemoryExporter()
	var e Exporter = m
	for i := 0; i < 2; i++ {
		if err := e.Export(context.Background(), "a", sampleFile()); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(m.Rows("a")); n != 6 {
		t.Errorf("expected 6 rows, got %d", n)
	}
	if n := len(m.Rows("b")); n != 0 {
		t.Errorf("expected no rows for b, got %d", n)
	}
}
