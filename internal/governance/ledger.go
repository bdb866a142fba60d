package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantmesh/sentinel/internal/errdefs"
	"github.com/quantmesh/sentinel/internal/store"
)

const voteKeyPrefix = "vote:ledger:"

// Vote is a single ballot option.
type Vote string

// Ballot options.
const (
	VoteYes     Vote = "yes"
	VoteNo      Vote = "no"
	VoteAbstain Vote = "abstain"
)

// LedgerConfig holds the two independent approval gates. Both are
// absolute weighted-score constants, not percentages.
type LedgerConfig struct {
	// ApprovalThreshold is the minimum yes-score for a proposal to pass.
	ApprovalThreshold float64

	// QuorumThreshold is the minimum total weighted participation
	// (yes + no + abstain) for the outcome to be binding.
	QuorumThreshold float64
}

// DefaultLedgerConfig returns the documented defaults.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		ApprovalThreshold: 2.0,
		QuorumThreshold:   2.5,
	}
}

func (c LedgerConfig) withDefaults() LedgerConfig {
	def := DefaultLedgerConfig()
	if c.ApprovalThreshold <= 0 {
		c.ApprovalThreshold = def.ApprovalThreshold
	}
	if c.QuorumThreshold <= 0 {
		c.QuorumThreshold = def.QuorumThreshold
	}
	return c
}

// VoteRecord is one agent's vote on one proposal. The weight snapshot
// is computed at cast time and never revised afterwards, so later trust
// changes cannot retroactively inflate or deflate a tally.
type VoteRecord struct {
	ProposalID string    `json:"proposal_id"`
	AgentID    string    `json:"agent_id"`
	Vote       Vote      `json:"vote"`
	Weight     float64   `json:"weight"`
	Timestamp  time.Time `json:"timestamp"`
}

// Summary is the cached aggregate for a proposal. Passed and
// QuorumReached are independent gates; Approved requires both.
type Summary struct {
	ProposalID    string    `json:"proposal_id"`
	YesScore      float64   `json:"yes_score"`
	NoScore       float64   `json:"no_score"`
	AbstainScore  float64   `json:"abstain_score"`
	TotalWeight   float64   `json:"total_weight"`
	Passed        bool      `json:"passed"`
	QuorumReached bool      `json:"quorum_reached"`
	Approved      bool      `json:"approved"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TrustSource supplies the normalized trust snapshot used when
// weighting a vote.
type TrustSource interface {
	NormalizedScore(agentID string) float64
}

// Ledger records weighted votes and enforces the dual approval gates.
type Ledger struct {
	mu        sync.Mutex
	votes     map[string]map[string]VoteRecord // proposal -> agent -> record
	summaries map[string]Summary
	stale     map[string]bool

	cfg   LedgerConfig
	roles *RoleRegistry
	trust TrustSource
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

// NewLedger creates a vote ledger.
func NewLedger(cfg LedgerConfig, roles *RoleRegistry, trust TrustSource, st store.Store, log *zap.Logger) *Ledger {
	return &Ledger{
		votes:     make(map[string]map[string]VoteRecord),
		summaries: make(map[string]Summary),
		stale:     make(map[string]bool),
		cfg:       cfg.withDefaults(),
		roles:     roles,
		trust:     trust,
		store:     st,
		log:       log.Named("governance.ledger"),
		now:       time.Now,
	}
}

// WeightedScore computes an agent's current voting weight:
// roleWeight(role) * clamp(normalizedTrust, 0, 1), rounded to four
// decimal places.
func (l *Ledger) WeightedScore(agentID string) float64 {
	roleWeight := l.roles.WeightOf(l.roles.RoleOf(agentID))
	norm := l.trust.NormalizedScore(agentID)
	if norm < 0 {
		norm = 0
	} else if norm > 1 {
		norm = 1
	}
	return math.Round(roleWeight*norm*10000) / 10000
}

// CastVote records an agent's vote on a proposal. The weight snapshot
// is taken at this instant. Recasting overwrites the prior record for
// the same (proposal, agent) pair.
func (l *Ledger) CastVote(ctx context.Context, agentID, proposalID string, vote Vote) error {
	if agentID == "" || proposalID == "" {
		return fmt.Errorf("agent and proposal ids are required: %w", errdefs.ErrInvalidConfig)
	}
	switch vote {
	case VoteYes, VoteNo, VoteAbstain:
	default:
		return fmt.Errorf("invalid vote %q: %w", vote, errdefs.ErrInvalidConfig)
	}

	record := VoteRecord{
		ProposalID: proposalID,
		AgentID:    agentID,
		Vote:       vote,
		Weight:     l.WeightedScore(agentID),
		Timestamp:  l.now(),
	}

	l.mu.Lock()
	byAgent, ok := l.votes[proposalID]
	if !ok {
		byAgent = make(map[string]VoteRecord)
		l.votes[proposalID] = byAgent
	}
	byAgent[agentID] = record
	l.stale[proposalID] = true
	l.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode vote record: %w", err)
	}
	if err := l.store.Set(ctx, voteKey(proposalID, agentID), string(data)); err != nil {
		return fmt.Errorf("persist vote record: %w", err)
	}
	return nil
}

// Tally recomputes the proposal's aggregate from all recorded votes and
// refreshes the cached summary. Identical vote sets always yield an
// identical summary.
func (l *Ledger) Tally(proposalID string) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tallyLocked(proposalID)
}

// tallyLocked recomputes and caches the summary. Caller holds l.mu.
func (l *Ledger) tallyLocked(proposalID string) Summary {
	s := Summary{ProposalID: proposalID, UpdatedAt: l.now()}

	for _, rec := range l.votes[proposalID] {
		switch rec.Vote {
		case VoteYes:
			s.YesScore += rec.Weight
		case VoteNo:
			s.NoScore += rec.Weight
		case VoteAbstain:
			s.AbstainScore += rec.Weight
		}
	}
	s.TotalWeight = s.YesScore + s.NoScore + s.AbstainScore

	// Two deliberately independent gates: a small but enthusiastic yes
	// minority cannot pass a proposal without broad participation.
	s.Passed = s.YesScore >= l.cfg.ApprovalThreshold
	s.QuorumReached = s.TotalWeight >= l.cfg.QuorumThreshold
	s.Approved = s.Passed && s.QuorumReached

	l.summaries[proposalID] = s
	l.stale[proposalID] = false
	return s
}

// VoteStatus returns the cached summary for a proposal, recomputing it
// lazily when stale. Unknown proposals yield errdefs.ErrNotFound.
func (l *Ledger) VoteStatus(proposalID string) (Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.votes[proposalID]; !ok {
		return Summary{}, fmt.Errorf("proposal %s: %w", proposalID, errdefs.ErrNotFound)
	}
	if s, ok := l.summaries[proposalID]; ok && !l.stale[proposalID] {
		return s, nil
	}
	return l.tallyLocked(proposalID), nil
}

// Votes returns the recorded votes for a proposal ordered by cast time.
func (l *Ledger) Votes(proposalID string) []VoteRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]VoteRecord, 0, len(l.votes[proposalID]))
	for _, rec := range l.votes[proposalID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Load restores persisted vote records after a restart.
func (l *Ledger) Load(ctx context.Context) error {
	keys, err := l.store.Keys(ctx, voteKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("scan vote records: %w", err)
	}

	loaded := 0
	for _, key := range keys {
		data, err := l.store.Get(ctx, key)
		if err != nil {
			l.log.Warn("load vote record", zap.String("key", key), zap.Error(err))
			continue
		}
		var rec VoteRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			l.log.Warn("decode vote record", zap.String("key", key), zap.Error(err))
			continue
		}
		if rec.ProposalID == "" || rec.AgentID == "" {
			continue
		}

		l.mu.Lock()
		byAgent, ok := l.votes[rec.ProposalID]
		if !ok {
			byAgent = make(map[string]VoteRecord)
			l.votes[rec.ProposalID] = byAgent
		}
		byAgent[rec.AgentID] = rec
		l.stale[rec.ProposalID] = true
		l.mu.Unlock()
		loaded++
	}
	if loaded > 0 {
		l.log.Info("restored vote records", zap.Int("count", loaded))
	}
	return nil
}

// voteKey builds the store key for one (proposal, agent) vote.
func voteKey(proposalID, agentID string) string {
	return voteKeyPrefix + proposalID + ":" + agentID
}
