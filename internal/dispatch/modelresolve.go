package dispatch

import (
	"strings"

	"github.com/pulseforge/supervisor/internal/types"
)

// PatternSample is one historical (tier, task-type) outcome sample, the
// input to the pattern-tracker step of model resolution.
type PatternSample struct {
	Tier       types.ModelTier
	TaskType   string
	SuccessPct float64 // 0..100
	Samples    int
}

// ResolveInput bundles everything the model-resolution cascade needs
// (spec.md §4.3 Model resolution), in the order each step is tried.
type ResolveInput struct {
	Task *types.Task

	// AgentPinnedModel is a non-empty model string if a deployed-agent
	// frontmatter file pins this task type to a specific model.
	AgentPinnedModel string

	// Patterns are historical samples for this task's type, across tiers.
	Patterns []PatternSample

	// BudgetNearCap, if true, forces a one-step downgrade from the
	// resolved tier (the budget-aware degrade step).
	BudgetNearCap bool
}

// Resolve implements the tiered cascade documented in spec.md §4.3 and
// SPEC_FULL.md's Open-Questions decision: explicit task model, then
// CONTEST sentinel, then agent-pinned model, then pattern-tracker
// recommendation (with an opus->sonnet cost-efficiency check), then
// heuristic classification, then a final budget-aware degrade. Resolve
// does not modify the task: callers store the returned tier in the task's
// ResolvedModel themselves, and the requested tier stays as it was.
func Resolve(in ResolveInput) types.ModelTier {
	t := in.Task

	if t.RequestedTier != "" && t.RequestedTier != types.TierContest {
		return t.RequestedTier
	}
	if t.RequestedTier == types.TierContest {
		return types.TierContest
	}
	if in.AgentPinnedModel != "" {
		return types.ModelTier(in.AgentPinnedModel)
	}

	tier := patternRecommend(in.Patterns)
	if tier == "" {
		tier = heuristicClassify(t.Description, t.Tags)
	}
	tier = costEfficiencyDowngrade(tier, in.Patterns, t.Description)

	if in.BudgetNearCap {
		tier = degradeOneStep(tier)
	}
	return tier
}

// patternRecommend applies the pattern-tracker rule: a tier with >=3
// samples and >=75% success becomes the recommendation. Ties prefer the
// cheaper tier (earlier in the Anthropic escalation chain).
func patternRecommend(samples []PatternSample) types.ModelTier {
	best := types.ModelTier("")
	for _, chain := range [][]types.ModelTier{types.AnthropicEscalation, types.GeminiEscalation} {
		for _, tier := range chain {
			for _, s := range samples {
				if s.Tier == tier && s.Samples >= 3 && s.SuccessPct >= 75 {
					if best == "" {
						best = tier
					}
				}
			}
		}
		if best != "" {
			return best
		}
	}
	return ""
}

// costEfficiencyDowngrade drops opus to sonnet when >=3 samples show >=80%
// success at sonnet and the description carries no hard-opus indicator.
func costEfficiencyDowngrade(tier types.ModelTier, samples []PatternSample, description string) types.ModelTier {
	if tier != types.TierOpus {
		return tier
	}
	if hasHardOpusIndicator(description) {
		return tier
	}
	for _, s := range samples {
		if s.Tier == types.TierSonnet && s.Samples >= 3 && s.SuccessPct >= 80 {
			return types.TierSonnet
		}
	}
	return tier
}

var hardOpusIndicators = []string{
	"architecture", "security-critical", "cryptograph", "migration of",
	"concurrency bug", "data loss", "race condition",
}

func hasHardOpusIndicator(description string) bool {
	d := strings.ToLower(description)
	for _, ind := range hardOpusIndicators {
		if strings.Contains(d, ind) {
			return true
		}
	}
	return false
}

var trivialIndicators = []string{"typo", "rename", "comment", "formatting", "changelog", "readme"}
var complexIndicators = []string{"refactor", "architecture", "migrate", "redesign", "investigat"}

// heuristicClassify buckets a task's description/tags into haiku/sonnet/opus
// when no pattern history exists yet.
func heuristicClassify(description string, tags []string) types.ModelTier {
	for _, tag := range tags {
		switch tag {
		case "#trivial":
			return types.TierHaiku
		case "#investigation", "#plan":
			return types.TierOpus
		}
	}
	d := strings.ToLower(description)
	for _, ind := range trivialIndicators {
		if strings.Contains(d, ind) {
			return types.TierHaiku
		}
	}
	for _, ind := range complexIndicators {
		if strings.Contains(d, ind) {
			return types.TierOpus
		}
	}
	return types.TierSonnet
}

// degradeOneStep drops tier one step down its chain for the budget-aware
// final step, staying at the floor if already cheapest.
func degradeOneStep(tier types.ModelTier) types.ModelTier {
	for _, chain := range [][]types.ModelTier{types.AnthropicEscalation, types.GeminiEscalation} {
		for i, t := range chain {
			if t == tier {
				if i == 0 {
					return t
				}
				return chain[i-1]
			}
		}
	}
	return tier
}
