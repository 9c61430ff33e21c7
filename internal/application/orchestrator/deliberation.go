package orchestrator

// Stage is a phase of the deliberation workflow.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageCollecting   Stage = "collecting"
	StageVoting       Stage = "voting"
	StageSynthesizing Stage = "synthesizing"
	StageComplete     Stage = "complete"
)

// Waiting reports whether participants may be in flight during this stage.
// The elapsed ticker runs only while this holds.
func (s Stage) Waiting() bool {
	return s == StageCollecting || s == StageVoting
}

// StatusText is the progress line shown for the stage.
func (s Stage) StatusText() string {
	switch s {
	case StageCollecting:
		return "Stage 1: Collecting individual responses..."
	case StageVoting:
		return "Stage 2: Peer review in progress..."
	case StageSynthesizing:
		return "Stage 3: Chairman synthesizing..."
	case StageComplete:
		return "Deliberation complete!"
	default:
		return ""
	}
}

// Deliberation is the state of the single active deliberation.
type Deliberation struct {
	SessionID    string
	Stage        Stage
	Prompt       string
	Participants []Participant
	Synthesis    *string
	Error        string
}

// NewDeliberation returns the initial, idle deliberation.
func NewDeliberation() Deliberation {
	return Deliberation{
		Stage:        StageIdle,
		Participants: InitialParticipants(),
	}
}

// Winner returns the first participant of the sorted sequence once the
// deliberation is complete.
func (d Deliberation) Winner() (ParticipantID, bool) {
	if d.Stage != StageComplete || len(d.Participants) == 0 {
		return "", false
	}
	return d.Participants[0].ID, true
}

// RankedParticipant is a participant with its display position.
type RankedParticipant struct {
	Participant
	// Rank is the 1-based position, set only when the deliberation is complete.
	Rank int `json:"rank,omitempty"`
}

// Snapshot is the read-only view exposed to renderers.
type Snapshot struct {
	Generation   uint64              `json:"generation"`
	SessionID    string              `json:"session_id,omitempty"`
	Stage        Stage               `json:"stage"`
	StatusText   string              `json:"status_text,omitempty"`
	Prompt       string              `json:"prompt"`
	Participants []RankedParticipant `json:"participants"`
	WinnerID     ParticipantID       `json:"winner_id,omitempty"`
	TotalScore   int                 `json:"total_score"`
	Synthesis    *string             `json:"synthesis"`
	Error        string              `json:"error,omitempty"`
}

func (d Deliberation) snapshot(generation uint64) Snapshot {
	snap := Snapshot{
		Generation:   generation,
		SessionID:    d.SessionID,
		Stage:        d.Stage,
		StatusText:   d.Stage.StatusText(),
		Prompt:       d.Prompt,
		Participants: make([]RankedParticipant, len(d.Participants)),
		Synthesis:    d.Synthesis,
		Error:        d.Error,
	}
	for i, p := range d.Participants {
		snap.Participants[i] = RankedParticipant{Participant: p}
		if d.Stage == StageComplete {
			snap.Participants[i].Rank = i + 1
		}
		snap.TotalScore += p.Score
	}
	if winner, ok := d.Winner(); ok {
		snap.WinnerID = winner
	}
	return snap
}
