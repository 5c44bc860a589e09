package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/thermolink-core/internal/device"
)

// MeasurementTemperature is the measurement name for device readings.
const MeasurementTemperature = "temperature"

// WriteReading queues one reading. Points are tagged with the device id
// and MAC address; the value field is in degrees.
func (c *Client) WriteReading(dev *device.Device, reading *device.Reading) {
	if !c.IsConnected() || dev == nil || reading == nil {
		return
	}
	c.writer.WritePoint(readingPoint(dev, reading))
}

// ReadingStored implements telemetry.Sink.
func (c *Client) ReadingStored(_ context.Context, dev *device.Device, reading *device.Reading) {
	c.WriteReading(dev, reading)
}

func readingPoint(dev *device.Device, reading *device.Reading) *write.Point {
	at := reading.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		MeasurementTemperature,
		map[string]string{
			"device_id": dev.ID,
			"mac":       dev.MACAddress,
		},
		map[string]interface{}{
			"value": reading.Value.Float64(),
		},
		at,
	)
}
