package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/utils"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
)

// Complexity bucket upper bounds (exclusive) for scores 1 through 4
var complexityBounds = []*big.Int{
	big.NewInt(1_000_000),
	big.NewInt(100_000_000),
	big.NewInt(10_000_000_000),
	big.NewInt(1_000_000_000_000),
}

// KeyspaceEstimationService computes attack keyspaces and complexity scores
type KeyspaceEstimationService struct {
	resources ResourceResolver
}

// NewKeyspaceEstimationService creates a new keyspace estimation service
func NewKeyspaceEstimationService(resources ResourceResolver) *KeyspaceEstimationService {
	return &KeyspaceEstimationService{resources: resources}
}

// KeyspaceEstimate is the result of estimating an attack
type KeyspaceEstimate struct {
	Keyspace        models.Keyspace
	ComplexityScore int
}

// Estimate resolves the attack's resource counts into its config and computes its keyspace
func (s *KeyspaceEstimationService) Estimate(ctx context.Context, attack *models.Attack) (*KeyspaceEstimate, error) {
	if err := s.resolveCounts(ctx, attack); err != nil {
		return nil, err
	}

	keyspace, err := EstimateKeyspace(attack.Mode, attack.Config)
	if err != nil {
		return nil, err
	}

	estimate := &KeyspaceEstimate{
		Keyspace:        keyspace,
		ComplexityScore: ComplexityScore(keyspace),
	}

	debug.Log("Estimated attack keyspace", map[string]interface{}{
		"attack_id":  attack.ID,
		"mode":       attack.Mode,
		"keyspace":   keyspace.String(),
		"complexity": estimate.ComplexityScore,
	})
	return estimate, nil
}

func (s *KeyspaceEstimationService) resolveCounts(ctx context.Context, attack *models.Attack) error {
	cfg := &attack.Config

	needsWordlist := attack.Mode == models.AttackModeDictionary || attack.Mode == models.AttackModeHybrid
	if needsWordlist {
		if cfg.WordlistRef == "" {
			return configErr("wordlist_ref", "%s attack requires a wordlist", attack.Mode)
		}
		lines, err := s.count(ctx, "wordlist_ref", cfg.WordlistRef)
		if err != nil {
			return err
		}
		cfg.WordlistLines = lines
	}

	if attack.Mode == models.AttackModeDictionary && cfg.RuleRef != "" {
		rules, err := s.count(ctx, "rule_ref", cfg.RuleRef)
		if err != nil {
			return err
		}
		cfg.RuleCount = rules
	}
	return nil
}

func (s *KeyspaceEstimationService) count(ctx context.Context, field, ref string) (int64, error) {
	if s.resources == nil {
		return 0, fmt.Errorf("no resource store configured to resolve %s", ref)
	}
	n, err := s.resources.Count(ctx, ref)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, configErr(field, "resource %q not found", ref)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	return n, nil
}

// EstimateKeyspace computes the keyspace of an attack whose resource counts are already resolved
func EstimateKeyspace(mode models.AttackMode, cfg models.AttackConfig) (models.Keyspace, error) {
	if err := validateCustomCharsets(cfg.CustomCharsets); err != nil {
		return models.Keyspace{}, err
	}

	var (
		keyspace *big.Int
		err      error
	)
	switch mode {
	case models.AttackModeDictionary:
		keyspace, err = dictionaryKeyspace(cfg)
	case models.AttackModeMask:
		keyspace, err = maskKeyspace(cfg)
	case models.AttackModeBruteForce:
		keyspace, err = bruteForceKeyspace(cfg)
	case models.AttackModeHybrid:
		keyspace, err = hybridKeyspace(cfg)
	default:
		return models.Keyspace{}, configErr("mode", "unknown attack mode %q", mode)
	}
	if err != nil {
		return models.Keyspace{}, err
	}
	if keyspace.Sign() <= 0 {
		return models.Keyspace{}, configErr("keyspace", "attack has an empty keyspace")
	}
	return models.KeyspaceFromBig(keyspace), nil
}

// ComplexityScore buckets a keyspace into 1-5 by order of magnitude
func ComplexityScore(keyspace models.Keyspace) int {
	k := keyspace.Big()
	for i, bound := range complexityBounds {
		if k.Cmp(bound) < 0 {
			return i + 1
		}
	}
	return len(complexityBounds) + 1
}

func dictionaryKeyspace(cfg models.AttackConfig) (*big.Int, error) {
	if cfg.WordlistLines <= 0 {
		return nil, configErr("wordlist_ref", "wordlist is empty")
	}
	rules := cfg.RuleCount
	if rules < 1 {
		rules = 1
	}
	return new(big.Int).Mul(big.NewInt(cfg.WordlistLines), big.NewInt(rules)), nil
}

func maskKeyspace(cfg models.AttackConfig) (*big.Int, error) {
	if len(cfg.Masks) == 0 {
		return nil, configErr("masks", "at least one mask is required")
	}

	total := new(big.Int)
	for _, mask := range cfg.Masks {
		var (
			ks  *big.Int
			err error
		)
		if cfg.IncrementMode {
			length, lerr := utils.GetMaskLength(mask)
			if lerr != nil {
				return nil, configErr("masks", "%v", lerr)
			}
			minLen, maxLen := incrementBounds(cfg, length)
			if minLen > maxLen {
				return nil, configErr("increment_min", "increment_min %d exceeds increment_max %d", minLen, maxLen)
			}
			ks, err = utils.CalculateIncrementKeyspace(mask, cfg.CustomCharsets, minLen, maxLen)
		} else {
			ks, err = utils.CalculateEffectiveKeyspace(mask, cfg.CustomCharsets)
		}
		if err != nil {
			return nil, configErr("masks", "mask %q: %v", mask, err)
		}
		total.Add(total, ks)
	}
	return total, nil
}

func incrementBounds(cfg models.AttackConfig, maskLength int) (int, int) {
	minLen := cfg.IncrementMin
	if minLen <= 0 {
		minLen = 1
	}
	maxLen := cfg.IncrementMax
	if maxLen <= 0 || maxLen > maskLength {
		maxLen = maskLength
	}
	return minLen, maxLen
}

func bruteForceKeyspace(cfg models.AttackConfig) (*big.Int, error) {
	if cfg.Charset == "" {
		return nil, configErr("charset", "brute force requires a charset")
	}
	if cfg.MinLength < 1 {
		return nil, configErr("min_length", "min_length must be at least 1")
	}
	if cfg.MinLength > cfg.MaxLength {
		return nil, configErr("min_length", "min_length %d exceeds max_length %d", cfg.MinLength, cfg.MaxLength)
	}
	if cfg.MaxLength > utils.MaxMaskLength {
		return nil, configErr("max_length", "max_length %d exceeds %d", cfg.MaxLength, utils.MaxMaskLength)
	}

	size, err := utils.CharsetCardinality(cfg.Charset, cfg.CustomCharsets)
	if err != nil {
		return nil, configErr("charset", "%v", err)
	}

	base := big.NewInt(size)
	total := new(big.Int)
	for length := cfg.MinLength; length <= cfg.MaxLength; length++ {
		total.Add(total, new(big.Int).Exp(base, big.NewInt(int64(length)), nil))
	}
	return total, nil
}

func hybridKeyspace(cfg models.AttackConfig) (*big.Int, error) {
	if cfg.WordlistLines <= 0 {
		return nil, configErr("wordlist_ref", "wordlist is empty")
	}
	masks, err := maskKeyspace(cfg)
	if err != nil {
		return nil, err
	}
	return masks.Mul(masks, big.NewInt(cfg.WordlistLines)), nil
}

func validateCustomCharsets(charsets map[string]string) error {
	for key := range charsets {
		switch key {
		case "1", "2", "3", "4":
		default:
			return configErr("custom_charsets", "custom charset key %q must be 1-4", key)
		}
	}
	return nil
}
