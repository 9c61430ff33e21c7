package orchestrator

// ParticipantID identifies one of the fixed council participants.
type ParticipantID string

const (
	ParticipantGemini ParticipantID = "gemini"
	ParticipantCodex  ParticipantID = "codex"
	ParticipantClaude ParticipantID = "claude"
)

// registry is the fixed participant set in its initial display order.
var registry = [...]ParticipantID{ParticipantGemini, ParticipantCodex, ParticipantClaude}

// ParticipantIDs returns the participant identifiers in registry order.
func ParticipantIDs() []ParticipantID {
	ids := make([]ParticipantID, len(registry))
	copy(ids, registry[:])
	return ids
}

// IsParticipant reports whether id belongs to the registry.
func IsParticipant(id ParticipantID) bool {
	for _, known := range registry {
		if known == id {
			return true
		}
	}
	return false
}

// Participant is the per-model state shown to renderers.
type Participant struct {
	ID              ParticipantID `json:"id"`
	DisplayResponse *string       `json:"display_response"`
	IsWaiting       bool          `json:"is_waiting"`
	ElapsedSeconds  float64       `json:"elapsed_seconds"`
	Score           int           `json:"score"`
	AverageRank     float64       `json:"average_rank"`
}

// InitialParticipants returns a fresh participant sequence in registry order.
func InitialParticipants() []Participant {
	participants := make([]Participant, len(registry))
	for i, id := range registry {
		participants[i] = Participant{ID: id}
	}
	return participants
}

// mapParticipants returns a new sequence with fn applied to every participant.
func mapParticipants(participants []Participant, fn func(Participant) Participant) []Participant {
	out := make([]Participant, len(participants))
	for i, p := range participants {
		out[i] = fn(p)
	}
	return out
}

func startWaiting(p Participant) Participant {
	p.IsWaiting = true
	p.ElapsedSeconds = 0
	return p
}

func stopWaiting(p Participant) Participant {
	p.IsWaiting = false
	return p
}

// advanceElapsed adds step seconds to every waiting participant.
func advanceElapsed(participants []Participant, step float64) []Participant {
	return mapParticipants(participants, func(p Participant) Participant {
		if p.IsWaiting {
			p.ElapsedSeconds += step
		}
		return p
	})
}

func countWaiting(participants []Participant) int {
	n := 0
	for _, p := range participants {
		if p.IsWaiting {
			n++
		}
	}
	return n
}
