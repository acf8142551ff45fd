package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentState is the connection/health state of an agent
type AgentState string

const (
	AgentStateActive  AgentState = "active"
	AgentStatePending AgentState = "pending"
	AgentStateStopped AgentState = "stopped"
	AgentStateError   AgentState = "error"
	AgentStateOffline AgentState = "offline"
)

// Agent is a worker process that executes chunks
type Agent struct {
	ID            int          `json:"id"`
	Name          string       `json:"name"`
	Enabled       bool         `json:"enabled"`
	State         AgentState   `json:"state"`
	Benchmarks    BenchmarkMap `json:"benchmarks"` // hash type -> hashes/sec
	Devices       AgentDevices `json:"devices"`
	CurrentTaskID *uuid.UUID   `json:"current_task_id,omitempty"`
	LastSeenAt    time.Time    `json:"last_seen_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// EnabledDeviceTypes returns the set of device types with at least one enabled device
func (a *Agent) EnabledDeviceTypes() map[string]bool {
	types := make(map[string]bool)
	for _, d := range a.Devices {
		if d.Enabled {
			types[d.NormalizedType()] = true
		}
	}
	return types
}

// BenchmarkMap maps a hashcat hash type to a measured speed in hashes per second
type BenchmarkMap map[int]int64

// Speed returns the benchmarked speed for a hash type
func (b BenchmarkMap) Speed(hashType int) (int64, bool) {
	s, ok := b[hashType]
	return s, ok
}

// Value stores the map as JSON
func (b BenchmarkMap) Value() (driver.Value, error) {
	if b == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(b)
}

// Scan loads the map from JSON
func (b *BenchmarkMap) Scan(value interface{}) error {
	if value == nil {
		*b = BenchmarkMap{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for benchmarks: %T", value)
	}
	m := BenchmarkMap{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*b = m
	return nil
}

// AgentCapabilities is what an agent reports on check-in
type AgentCapabilities struct {
	Name       string       `json:"name,omitempty"`
	Benchmarks BenchmarkMap `json:"benchmarks"`
	Devices    AgentDevices `json:"devices"`
}
