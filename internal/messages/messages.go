// Package messages defines the application payloads exchanged by canlink
// nodes. Layouts are packed little-endian.
package messages

import "fmt"

const (
	TypeStatus    uint8 = 1
	TypeSensor    uint8 = 2
	TypeTelemetry uint8 = 3
)

// StatusMsg reports a node's state machine and last error.
type StatusMsg struct {
	State     uint8
	ErrorCode uint8
}

func (StatusMsg) TypeID() uint8 { return TypeStatus }

func (m StatusMsg) String() string {
	return fmt.Sprintf("state=%d error=%d", m.State, m.ErrorCode)
}

// SensorData carries one environmental reading.
type SensorData struct {
	Temperature float32
	Humidity    float32
}

func (SensorData) TypeID() uint8 { return TypeSensor }

func (m SensorData) String() string {
	return fmt.Sprintf("temperature=%.2f humidity=%.1f%%", m.Temperature, m.Humidity)
}

// Telemetry is a periodic health report. At 20 bytes it never fits one frame.
type Telemetry struct {
	UptimeSeconds uint32
	Voltage       float32
	Current       float32
	Temperature   float32
	Faults        uint16
	Node          uint8
	Mode          uint8
}

func (Telemetry) TypeID() uint8 { return TypeTelemetry }

func (m Telemetry) String() string {
	return fmt.Sprintf("node=%d uptime=%ds voltage=%.2fV current=%.2fA temperature=%.1f faults=%#04x mode=%d",
		m.Node, m.UptimeSeconds, m.Voltage, m.Current, m.Temperature, m.Faults, m.Mode)
}

// Kinds lists the message names accepted on the command line.
var Kinds = []string{"status", "sensor", "telemetry"}
