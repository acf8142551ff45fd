package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AttackMode selects how an attack generates candidates
type AttackMode string

const (
	AttackModeDictionary AttackMode = "dictionary"
	AttackModeMask       AttackMode = "mask"
	AttackModeBruteForce AttackMode = "brute_force"
	AttackModeHybrid     AttackMode = "hybrid"
)

// Valid reports whether m is a known attack mode
func (m AttackMode) Valid() bool {
	switch m {
	case AttackModeDictionary, AttackModeMask, AttackModeBruteForce, AttackModeHybrid:
		return true
	}
	return false
}

// AttackState tracks whether an attack still has work
type AttackState string

const (
	AttackStatePending   AttackState = "pending"
	AttackStateRunning   AttackState = "running"
	AttackStateCompleted AttackState = "completed"
	AttackStateFailed    AttackState = "failed"
)

// Attack is one configured search strategy inside a campaign
type Attack struct {
	ID              int64        `json:"id"`
	CampaignID      int64        `json:"campaign_id"`
	Name            string       `json:"name"`
	Mode            AttackMode   `json:"mode"`
	HashType        int          `json:"hash_type"` // hashcat mode number
	Phase           int          `json:"phase"`
	Position        int          `json:"position"`
	Config          AttackConfig `json:"config"`
	Keyspace        Keyspace     `json:"keyspace"`
	ComplexityScore int          `json:"complexity_score"`
	ChunkCursor     Keyspace     `json:"chunk_cursor"` // next undispatched offset
	State           AttackState  `json:"state"`
	ProgressPercent float64      `json:"progress_percent"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

// FullyChunked reports whether every offset of the keyspace belongs to some task
func (a *Attack) FullyChunked() bool {
	return a.ChunkCursor.Cmp(a.Keyspace) >= 0
}

// RemainingKeyspace returns the part of the keyspace no task covers yet
func (a *Attack) RemainingKeyspace() Keyspace {
	if a.FullyChunked() {
		return Keyspace{}
	}
	return a.Keyspace.Sub(a.ChunkCursor)
}

// AttackConfig holds the mode specific parameters and resource references.
// Resolved counts are filled in when the keyspace is estimated.
type AttackConfig struct {
	WordlistRef string `json:"wordlist_ref,omitempty"`
	RuleRef     string `json:"rule_ref,omitempty"`

	// Resolved from the resource store at estimation time
	WordlistLines int64 `json:"wordlist_lines,omitempty"`
	RuleCount     int64 `json:"rule_count,omitempty"`

	Masks          []string          `json:"masks,omitempty"`
	CustomCharsets map[string]string `json:"custom_charsets,omitempty"` // "1".."4"
	IncrementMode  bool              `json:"increment_mode,omitempty"`
	IncrementMin   int               `json:"increment_min,omitempty"`
	IncrementMax   int               `json:"increment_max,omitempty"`

	// Brute force
	Charset   string `json:"charset,omitempty"`
	MinLength int    `json:"min_length,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`

	// Hybrid: mask prepended to each word instead of appended
	MaskFirst bool `json:"mask_first,omitempty"`

	RequiredDeviceTypes []string  `json:"required_device_types,omitempty"`
	ChunkSize           *Keyspace `json:"chunk_size,omitempty"`
}

// ResourceRefs lists the resource references an agent must fetch for the attack
func (c AttackConfig) ResourceRefs() []string {
	var refs []string
	if c.WordlistRef != "" {
		refs = append(refs, c.WordlistRef)
	}
	if c.RuleRef != "" {
		refs = append(refs, c.RuleRef)
	}
	return refs
}

// Value returns the JSON encoding of the config for a JSONB column
func (c AttackConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan decodes a JSONB column
func (c *AttackConfig) Scan(value interface{}) error {
	if value == nil {
		*c = AttackConfig{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("unsupported type for attack config: %T", value)
	}
}
