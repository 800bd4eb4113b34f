// Package salience ranks findings so that only the important ones reach a
// human.
//
// A Scorer remembers how often it has seen each (agent, summary) pair; repeated
// findings lose novelty until Reset is called. The memory is guarded by a
// mutex so one Scorer may be shared by concurrent cycles.
package salience

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/metalagman/steward/internal/model"
)

// Weights of the four sub-scores.
type Weights struct {
	Urgency       float64 `json:"urgency"        mapstructure:"urgency"`
	Relevance     float64 `json:"relevance"      mapstructure:"relevance"`
	Novelty       float64 `json:"novelty"        mapstructure:"novelty"`
	Actionability float64 `json:"actionability"  mapstructure:"actionability"`
}

// DefaultWeights are used when no override is configured.
var DefaultWeights = Weights{Urgency: 0.35, Relevance: 0.25, Novelty: 0.2, Actionability: 0.2}

// DefaultRelevantPrefixes mark context refs that raise relevance.
var DefaultRelevantPrefixes = []string{"contacts/", "action-queue/"}

var urgencyScores = map[model.Urgency]float64{
	model.UrgencyCritical: 1.0,
	model.UrgencyHigh:     0.75,
	model.UrgencyMedium:   0.5,
	model.UrgencyLow:      0.25,
}

// Input is a finding together with the agent that produced it.
type Input struct {
	Finding model.Finding
	Agent   string
}

// Scorer computes salience with cross-call novelty memory.
type Scorer struct {
	mu       sync.Mutex
	weights  Weights
	prefixes []string
	seen     map[[32]byte]int
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithWeights overrides the default weights.
func WithWeights(w Weights) Option {
	return func(s *Scorer) { s.weights = w }
}

// WithRelevantPrefixes overrides the context-ref prefixes treated as relevant.
func WithRelevantPrefixes(prefixes []string) Option {
	return func(s *Scorer) { s.prefixes = append([]string(nil), prefixes...) }
}

// NewScorer creates a scorer.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		weights:  DefaultWeights,
		prefixes: DefaultRelevantPrefixes,
		seen:     map[[32]byte]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configure replaces weights and prefixes without touching novelty memory.
// A nil prefix list keeps the current one.
func (s *Scorer) Configure(w Weights, prefixes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights = w
	if prefixes != nil {
		s.prefixes = append([]string(nil), prefixes...)
	}
}

// Reset forgets every finding seen so far.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = map[[32]byte]int{}
}

// Score rates each input with the scorer's weights and returns them sorted by
// descending salience. Equal scores keep input order.
func (s *Scorer) Score(inputs []Input) []model.ScoredFinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scoreLocked(inputs, s.weights)
}

// ScoreWith is Score with explicit weights for this call.
func (s *Scorer) ScoreWith(inputs []Input, w Weights) []model.ScoredFinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scoreLocked(inputs, w)
}

func (s *Scorer) scoreLocked(inputs []Input, w Weights) []model.ScoredFinding {
	out := make([]model.ScoredFinding, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, model.ScoredFinding{
			Finding:  in.Finding,
			Agent:    in.Agent,
			Salience: s.salience(in, w),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Salience > out[j].Salience
	})
	return out
}

func (s *Scorer) salience(in Input, w Weights) float64 {
	total := w.Urgency + w.Relevance + w.Novelty + w.Actionability
	novelty := s.novelty(in)
	if total <= 0 {
		return 0
	}
	sum := w.Urgency*urgency(in.Finding) +
		w.Relevance*relevance(in.Finding, s.prefixes) +
		w.Novelty*novelty +
		w.Actionability*actionability(in.Finding)
	return round4(sum / total)
}

// novelty records the occurrence and returns 1.0, 0.5, then 0.2.
func (s *Scorer) novelty(in Input) float64 {
	key := blake3.Sum256([]byte(in.Agent + "\x00" + in.Finding.Summary))
	s.seen[key]++
	switch s.seen[key] {
	case 1:
		return 1.0
	case 2:
		return 0.5
	default:
		return 0.2
	}
}

func urgency(f model.Finding) float64 {
	return urgencyScores[f.Urgency]
}

func relevance(f model.Finding, prefixes []string) float64 {
	if f.Type == model.FindingActionItem {
		return 0.9
	}
	for _, ref := range f.ContextRefs {
		for _, prefix := range prefixes {
			if strings.HasPrefix(ref, prefix) {
				return 0.9
			}
		}
	}
	return 0.7
}

func actionability(f model.Finding) float64 {
	if strings.TrimSpace(f.SuggestedAction) != "" {
		return 0.8
	}
	return 0.5
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Surface returns the scored findings at or above threshold, keeping order.
func Surface(scored []model.ScoredFinding, threshold float64) []model.ScoredFinding {
	out := []model.ScoredFinding{}
	for _, sf := range scored {
		if sf.Salience >= threshold {
			out = append(out, sf)
		}
	}
	return out
}
