package calibration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-lattice/internal/exec"
	"github.com/23skdu/longbow-lattice/internal/logger"
)

// DefaultPort is the data port of the calibration service.
const DefaultPort = 3000

var ErrNotConnected = errors.New("client not connected, call Connect() first")

// Exporter publishes a min/max dump under a name.
type Exporter interface {
	Export(ctx context.Context, name string, file *exec.MinMaxFile) error
}

// FlightExporter sends dumps through Arrow Flight DoPut, one stream per
// dump, with the name as the descriptor path.
type FlightExporter struct {
	addr    string
	client  flight.Client
	timeout time.Duration
	mem     memory.Allocator
}

func NewFlightExporter(host string, port int) *FlightExporter {
	if port <= 0 {
		port = DefaultPort
	}
	return &FlightExporter{
		addr:    fmt.Sprintf("%s:%d", host, port),
		timeout: 30 * time.Second,
		mem:     memory.NewGoAllocator(),
	}
}

func (fe *FlightExporter) Addr() string { return fe.addr }

// Connect establishes connection to the Flight server.
func (fe *FlightExporter) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(fe.addr, nil, nil, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	fe.client = client
	return nil
}

func (fe *FlightExporter) Close() error {
	if fe.client != nil {
		return fe.client.Close()
	}
	return nil
}

func (fe *FlightExporter) Export(ctx context.Context, name string, file *exec.MinMaxFile) error {
	if fe.client == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, fe.timeout)
	defer cancel()

	rows := Rows(file)
	rec := BuildRecord(fe.mem, rows)
	defer rec.Release()

	stream, err := fe.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("failed to open DoPut stream: %w", err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(Schema))
	w.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{name}})
	if err := w.Write(rec); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("DoPut failed: %w", err)
		}
	}

	logger.Log.Info("calibration exported", "addr", fe.addr, "name", name, "runs", len(file.Runs), "rows", len(rows))
	return nil
}

// MemoryExporter keeps exported rows in memory.
type MemoryExporter struct {
	mu   sync.RWMutex
	data map[string][]Row
}

func NewMemoryExporter() *MemoryExporter {
	return &MemoryExporter{data: make(map[string][]Row)}
}

func (m *MemoryExporter) Export(_ context.Context, name string, file *exec.MinMaxFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = append(m.data[name], Rows(file)...)
	return nil
}

func (m *MemoryExporter) Rows(name string) []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Row(nil), m.data[name]...)
}
