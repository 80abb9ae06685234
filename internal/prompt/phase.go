package prompt

import "fmt"

// Phase is the coarse-grained stage of a discussion, derived from
// round progress.
type Phase string

const (
	PhaseInitial     Phase = "initial"
	PhaseExploration Phase = "exploration"
	PhaseAnalysis    Phase = "analysis"
	PhaseSynthesis   Phase = "synthesis"
	PhaseConclusion  Phase = "conclusion"
)

// PhaseFor computes the phase for a turn. Round 0 is always initial;
// later rounds map their progress p = (round-1)/(maxRounds-1) onto the
// 0.4/0.7/0.9 boundaries.
func PhaseFor(currentRound, maxRounds int) Phase {
	if currentRound <= 0 {
		return PhaseInitial
	}
	if maxRounds <= 1 {
		return PhaseConclusion
	}
	p := float64(currentRound-1) / float64(maxRounds-1)
	switch {
	case p < 0.4:
		return PhaseExploration
	case p < 0.7:
		return PhaseAnalysis
	case p < 0.9:
		return PhaseSynthesis
	default:
		return PhaseConclusion
	}
}

// Guideline returns the phase-specific instruction appended to the
// system prompt.
func (p Phase) Guideline() string {
	switch p {
	case PhaseInitial:
		return "Share your initial viewpoint on the topic. Be direct and substantive; do not reference other participants yet."
	case PhaseExploration:
		return "Explore the topic broadly. Bring up angles the others have not covered and respond to at least one earlier point."
	case PhaseAnalysis:
		return "Analyze the strongest arguments made so far. Weigh evidence, challenge weak reasoning and refine your position."
	case PhaseSynthesis:
		return "Work toward common ground. Identify where the participants agree, where they differ, and why."
	case PhaseConclusion:
		return "Draw the discussion to a close. State your final position and the key takeaways in a few sentences."
	default:
		return "Continue the discussion constructively."
	}
}

// FallbackPrompt returns the bare user prompt for this phase, used
// when no history fits the budget or when a retry needs a terse
// context.
func (p Phase) FallbackPrompt(topic string) string {
	switch p {
	case PhaseInitial:
		return fmt.Sprintf("Share your initial viewpoint on: %s", topic)
	case PhaseExploration:
		return fmt.Sprintf("Explore a new angle of the topic: %s", topic)
	case PhaseAnalysis:
		return fmt.Sprintf("Analyze the key arguments about: %s", topic)
	case PhaseSynthesis:
		return fmt.Sprintf("Identify common ground in the discussion about: %s", topic)
	case PhaseConclusion:
		return fmt.Sprintf("Give your concluding thoughts on: %s", topic)
	default:
		return fmt.Sprintf("Continue the discussion about: %s", topic)
	}
}
