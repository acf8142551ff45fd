package models

import (
	"time"

	"github.com/google/uuid"
)

// HashList is the set of target hashes a campaign attacks
type HashList struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	HashTypeID    int       `json:"hash_type_id"`
	TotalHashes   int64     `json:"total_hashes"`
	CrackedHashes int64     `json:"cracked_hashes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HashItem is a single hash of a hash list
type HashItem struct {
	ID         int64      `json:"id"`
	HashListID int64      `json:"hash_list_id"`
	HashValue  string     `json:"hash_value"`
	Cracked    bool       `json:"cracked"`
	Plaintext  *string    `json:"plaintext,omitempty"`
	CrackedBy  *CrackedBy `json:"cracked_by,omitempty"`
	CrackedAt  *time.Time `json:"cracked_at,omitempty"`
}

// CrackedBy records which attack, task and agent produced a crack
type CrackedBy struct {
	AttackID int64     `json:"attack_id"`
	TaskID   uuid.UUID `json:"task_id"`
	AgentID  int       `json:"agent_id"`
}
