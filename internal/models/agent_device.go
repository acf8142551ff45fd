package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// AgentDevice represents a compute device on an agent
type AgentDevice struct {
	DeviceID   int    `json:"device_id"` // Physical device index (0-based)
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"` // "gpu" or "cpu"
	Enabled    bool   `json:"enabled"`
	Backend    string `json:"backend,omitempty"` // "CUDA", "HIP", "OpenCL"
}

// NormalizedType returns the lower-cased device type used for capability matching
func (d AgentDevice) NormalizedType() string {
	return strings.ToLower(strings.TrimSpace(d.DeviceType))
}

// AgentDevices is a slice of AgentDevice that implements sql Scanner and driver Valuer for JSONB
type AgentDevices []AgentDevice

// Scan implements the sql.Scanner interface for reading from database
func (d *AgentDevices) Scan(value interface{}) error {
	if value == nil {
		*d = AgentDevices{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to scan AgentDevices: expected []byte, got %T", value)
	}

	if len(bytes) == 0 {
		*d = AgentDevices{}
		return nil
	}

	return json.Unmarshal(bytes, d)
}

// Value implements the driver.Valuer interface for writing to database
func (d AgentDevices) Value() (driver.Value, error) {
	if len(d) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(d)
}

// DeviceUpdate represents a device update request
type DeviceUpdate struct {
	DeviceID int  `json:"device_id"`
	Enabled  bool `json:"enabled"`
}
