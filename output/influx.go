package output

import (
	"github.com/aldas/go-isobus-client"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"strconv"
	"time"
)

// DefaultMeasurement is measurement name for decoded signal values
const DefaultMeasurement = "isobus"

// InfluxOutput writes decoded messages as InfluxDB points. Point is tagged with PGN and source, fields are signal
// values. Writes are asynchronous (api.WriteAPI batches them in the background).
type InfluxOutput struct {
	writeAPI    api.WriteAPI
	measurement string
}

// NewInfluxOutput creates InfluxDB output
func NewInfluxOutput(writeAPI api.WriteAPI, measurement string) *InfluxOutput {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &InfluxOutput{
		writeAPI:    writeAPI,
		measurement: measurement,
	}
}

// Write queues message as point. Messages without signal values are not written.
func (o *InfluxOutput) Write(msg isobus.Message) error {
	if len(msg.SignalValues) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(msg.SignalValues))
	for name, v := range msg.SignalValues {
		fields[name] = v
	}
	o.writeAPI.WritePoint(influxdb2.NewPoint(o.measurement,
		map[string]string{
			"pgn":    strconv.FormatUint(uint64(msg.PGN), 10),
			"source": strconv.FormatUint(uint64(msg.Info.Source), 10),
		},
		fields,
		timestampToTime(msg.Info.Timestamp),
	))
	return nil
}

// Flush forces pending points to be sent
func (o *InfluxOutput) Flush() {
	o.writeAPI.Flush()
}

func timestampToTime(ts float64) time.Time {
	return time.Unix(0, int64(ts*float64(time.Second))).UTC()
}
