package models

import (
	"time"
)

// CampaignState is the lifecycle state of a campaign
type CampaignState string

const (
	CampaignStateDraft     CampaignState = "draft"
	CampaignStateActive    CampaignState = "active"
	CampaignStatePaused    CampaignState = "paused"
	CampaignStateCompleted CampaignState = "completed"
	CampaignStateArchived  CampaignState = "archived"
	CampaignStateError     CampaignState = "error"
)

// Valid reports whether s is a known campaign state
func (s CampaignState) Valid() bool {
	switch s {
	case CampaignStateDraft, CampaignStateActive, CampaignStatePaused,
		CampaignStateCompleted, CampaignStateArchived, CampaignStateError:
		return true
	}
	return false
}

// Schedulable reports whether new chunks may be handed out for the campaign
func (s CampaignState) Schedulable() bool {
	return s == CampaignStateActive
}

// Campaign targets one hash list with an ordered set of attacks
type Campaign struct {
	ID              int64         `json:"id"`
	ProjectID       int64         `json:"project_id"`
	HashListID      int64         `json:"hash_list_id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	Priority        int           `json:"priority"` // higher is scheduled first
	State           CampaignState `json:"state"`
	DAGEnabled      bool          `json:"dag_enabled"`
	CrackedCount    int64         `json:"cracked_count"`
	ProgressPercent float64       `json:"progress_percent"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// CampaignProgress is the snapshot returned to dashboards
type CampaignProgress struct {
	CampaignID      int64              `json:"campaign_id"`
	State           CampaignState      `json:"state"`
	ProgressPercent float64            `json:"progress_percent"`
	CrackedCount    int64              `json:"cracked_count"`
	TotalHashes     int64              `json:"total_hashes"`
	TotalTasks      int                `json:"total_tasks"`
	ActiveAgents    int                `json:"active_agents"`
	Attacks         []AttackProgress   `json:"attacks"`
	TaskCounts      map[TaskState]int  `json:"task_counts"`
	BlockedTasks    []BlockedTaskEntry `json:"blocked_tasks,omitempty"`
}

// AttackProgress is the per-attack part of a campaign snapshot
type AttackProgress struct {
	AttackID        int64       `json:"attack_id"`
	Name            string      `json:"name"`
	Phase           int         `json:"phase"`
	Position        int         `json:"position"`
	State           AttackState `json:"state"`
	Keyspace        Keyspace    `json:"keyspace"`
	ProgressPercent float64     `json:"progress_percent"`
}

// BlockedTaskEntry lists a permanently failed task still waiting for an operator
type BlockedTaskEntry struct {
	TaskID     string `json:"task_id"`
	AttackID   int64  `json:"attack_id"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`
}
