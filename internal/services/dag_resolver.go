package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
)

// ReorderMove is an operator request to move an attack
type ReorderMove string

const (
	MoveUp       ReorderMove = "up"
	MoveDown     ReorderMove = "down"
	MoveTop      ReorderMove = "top"
	MoveBottom   ReorderMove = "bottom"
	MoveSetPhase ReorderMove = "set_phase"
)

// ReorderRequest moves one attack within its campaign. Confirm applies a move
// that requires confirmation; Restart additionally re-chunks the moved attack.
type ReorderRequest struct {
	AttackID int64       `json:"attack_id"`
	Move     ReorderMove `json:"move"`
	Phase    int         `json:"phase,omitempty"`
	Confirm  bool        `json:"confirm,omitempty"`
	Restart  bool        `json:"restart,omitempty"`
}

// ReorderResult holds the recomputed placement of every attack
type ReorderResult struct {
	Attacks              []models.Attack `json:"attacks"`
	Changed              []int64         `json:"changed"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	Applied              bool            `json:"applied"`
}

// DAGResolver gates scheduling on phase ordering.
//
// An attack is settled once its keyspace is fully chunked and none of its
// tasks can still run. The ready phase is the lowest phase holding an
// unsettled attack; later phases are blocked until it settles. With DAG
// disabled every attack is treated as phase 0.
type DAGResolver struct {
	attacks AttackStore
	tasks   TaskStore
}

// NewDAGResolver creates a new DAG resolver
func NewDAGResolver(attacks AttackStore, tasks TaskStore) *DAGResolver {
	return &DAGResolver{attacks: attacks, tasks: tasks}
}

// EffectivePhase returns the phase the scheduler uses for an attack
func EffectivePhase(campaign *models.Campaign, attack *models.Attack) int {
	if !campaign.DAGEnabled {
		return 0
	}
	return attack.Phase
}

// AttackSettled reports whether an attack no longer blocks later phases
func AttackSettled(attack *models.Attack, summary models.TaskSummary) bool {
	return attack.FullyChunked() && summary.AllTerminal()
}

// Validate checks the phase assignment of a campaign's attacks
func (r *DAGResolver) Validate(campaign *models.Campaign, attacks []models.Attack) error {
	for _, a := range attacks {
		if a.Phase < 0 {
			return configErr("phase", "attack %d has negative phase %d", a.ID, a.Phase)
		}
		if !campaign.DAGEnabled && a.Phase != 0 {
			return configErr("phase", "attack %d has phase %d but DAG is disabled for campaign %d", a.ID, a.Phase, campaign.ID)
		}
	}
	return nil
}

// ReadyPhase returns the lowest phase with an unsettled attack. ok is false
// when every attack is settled.
func (r *DAGResolver) ReadyPhase(campaign *models.Campaign, attacks []models.Attack, summaries map[int64]models.TaskSummary) (int, bool) {
	phase, found := 0, false
	for i := range attacks {
		a := &attacks[i]
		if AttackSettled(a, summaries[a.ID]) {
			continue
		}
		p := EffectivePhase(campaign, a)
		if !found || p < phase {
			phase, found = p, true
		}
	}
	return phase, found
}

// IsPhaseReady reports whether every task of every attack in an earlier phase is terminal
func (r *DAGResolver) IsPhaseReady(ctx context.Context, campaign *models.Campaign, phase int) (bool, error) {
	if !campaign.DAGEnabled {
		return true, nil
	}

	attacks, err := r.attacks.ListByCampaign(ctx, campaign.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list attacks: %w", err)
	}
	summaries, err := r.tasks.SummarizeByCampaign(ctx, campaign.ID)
	if err != nil {
		return false, fmt.Errorf("failed to summarize tasks: %w", err)
	}

	for i := range attacks {
		a := &attacks[i]
		if a.Phase < phase && !AttackSettled(a, summaries[a.ID]) {
			return false, nil
		}
	}
	return true, nil
}

// Reorder recomputes phases and positions for a move. Positions are
// renumbered 0..n-1 in (phase, position) order. When the moved attack already
// has tasks past Pending the result requires confirmation.
func (r *DAGResolver) Reorder(campaign *models.Campaign, attacks []models.Attack, req ReorderRequest, summaries map[int64]models.TaskSummary) (*ReorderResult, error) {
	ordered := make([]models.Attack, len(attacks))
	copy(ordered, attacks)
	sortByPlacement(campaign, ordered)

	idx := -1
	for i := range ordered {
		if ordered[i].ID == req.AttackID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("attack %d does not belong to campaign %d", req.AttackID, campaign.ID)
	}

	moved := ordered[idx]
	phase := EffectivePhase(campaign, &moved)

	// indexes of the moved attack's phase group, in order
	group := func(p int) []int {
		var out []int
		for i := range ordered {
			if EffectivePhase(campaign, &ordered[i]) == p {
				out = append(out, i)
			}
		}
		return out
	}

	switch req.Move {
	case MoveUp, MoveDown, MoveTop, MoveBottom:
		members := group(phase)
		pos := 0
		for i, m := range members {
			if m == idx {
				pos = i
			}
		}
		target := pos
		switch req.Move {
		case MoveUp:
			target = pos - 1
		case MoveDown:
			target = pos + 1
		case MoveTop:
			target = 0
		case MoveBottom:
			target = len(members) - 1
		}
		if target < 0 || target >= len(members) || target == pos {
			return &ReorderResult{Attacks: ordered}, nil
		}
		ordered = moveWithin(ordered, idx, members[target])
	case MoveSetPhase:
		if !campaign.DAGEnabled {
			return nil, configErr("phase", "campaign %d does not have DAG enabled", campaign.ID)
		}
		if req.Phase < 0 {
			return nil, configErr("phase", "phase must be non-negative, got %d", req.Phase)
		}
		if req.Phase == moved.Phase {
			return &ReorderResult{Attacks: ordered}, nil
		}
		ordered = append(ordered[:idx], ordered[idx+1:]...)
		moved.Phase = req.Phase
		ordered = append(ordered, moved)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Phase < ordered[j].Phase
		})
	default:
		return nil, configErr("move", "unknown move %q", req.Move)
	}

	result := &ReorderResult{Attacks: ordered}
	for i := range ordered {
		if ordered[i].ID == moved.ID {
			ordered[i].Phase = moved.Phase
		}
		if ordered[i].Position != i || placementChanged(attacks, ordered[i]) {
			result.Changed = append(result.Changed, ordered[i].ID)
		}
		ordered[i].Position = i
	}
	result.RequiresConfirmation = summaries[moved.ID].HasNonPending()
	return result, nil
}

func sortByPlacement(campaign *models.Campaign, attacks []models.Attack) {
	sort.SliceStable(attacks, func(i, j int) bool {
		pi, pj := EffectivePhase(campaign, &attacks[i]), EffectivePhase(campaign, &attacks[j])
		if pi != pj {
			return pi < pj
		}
		if attacks[i].Position != attacks[j].Position {
			return attacks[i].Position < attacks[j].Position
		}
		return attacks[i].ID < attacks[j].ID
	})
}

// moveWithin moves the element at from to index to, shifting the others
func moveWithin(attacks []models.Attack, from, to int) []models.Attack {
	item := attacks[from]
	out := append(attacks[:from:from], attacks[from+1:]...)
	out = append(out[:to], append([]models.Attack{item}, out[to:]...)...)
	return out
}

func placementChanged(before []models.Attack, after models.Attack) bool {
	for _, a := range before {
		if a.ID == after.ID {
			return a.Phase != after.Phase
		}
	}
	return false
}
