package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/thermolink-core/internal/device"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{writer: w, connected: true}, w
}

func testDevice() *device.Device {
	return &device.Device{ID: "dev-1", MACAddress: "AA:BB:CC"}
}

func TestConnect_Disabled(t *testing.T) {
	client, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() should return nil client when disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:59999"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestReadingStored_WritesPoint(t *testing.T) {
	client, w := newTestClient()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	client.ReadingStored(context.Background(), testDevice(), &device.Reading{
		DeviceID:  "dev-1",
		Value:     215,
		Timestamp: at,
	})

	if len(w.points) != 1 {
		t.Fatalf("points written = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementTemperature {
		t.Errorf("Name() = %q, want %q", p.Name(), MeasurementTemperature)
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", p.Time(), at)
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["device_id"] != "dev-1" || tags["mac"] != "AA:BB:CC" {
		t.Errorf("tags = %v", tags)
	}

	fields := p.FieldList()
	if len(fields) != 1 || fields[0].Key != "value" {
		t.Fatalf("fields = %+v, want single value field", fields)
	}
	if v, ok := fields[0].Value.(float64); !ok || v != 21.5 {
		t.Errorf("value = %#v, want 21.5", fields[0].Value)
	}
}

func TestWriteReading_Skipped(t *testing.T) {
	tests := []struct {
		name    string
		closed  bool
		dev     *device.Device
		reading *device.Reading
	}{
		{"closed client", true, testDevice(), &device.Reading{Value: 1}},
		{"nil device", false, nil, &device.Reading{Value: 1}},
		{"nil reading", false, testDevice(), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, w := newTestClient()
			if tt.closed {
				client.Close()
			}
			client.WriteReading(tt.dev, tt.reading)
			if len(w.points) != 0 {
				t.Errorf("points written = %d, want 0", len(w.points))
			}
		})
	}
}

func TestClose_FlushesOnce(t *testing.T) {
	client, w := newTestClient()

	client.Close()
	client.Close()
	client.Flush()

	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHandleWriteErrors_WrapsAndForwards(t *testing.T) {
	client, _ := newTestClient()

	got := make(chan error, 1)
	client.SetOnError(func(err error) { got <- err })

	ch := make(chan error, 1)
	ch <- errors.New("bucket not found")
	close(ch)
	client.handleWriteErrors(ch)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Fatal("callback not invoked")
	}
}
