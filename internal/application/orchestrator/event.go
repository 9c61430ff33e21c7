package orchestrator

// Kind discriminates deliberation events.
type Kind string

const (
	KindSubmit         Kind = "submit"
	KindStage1Complete Kind = "stage1_complete"
	KindStage2Start    Kind = "stage2_start"
	KindStage2Complete Kind = "stage2_complete"
	KindStage3Start    Kind = "stage3_start"
	KindStage3Complete Kind = "stage3_complete"
	KindComplete       Kind = "complete"
	KindError          Kind = "error"
	KindReset          Kind = "reset"

	// KindUnknown covers wire kinds the orchestrator does not interpret.
	KindUnknown Kind = "unknown"
)

// Event is a closed set of deliberation events. Every event carries its own
// transition, so a new event type does not compile until it defines one.
type Event interface {
	Kind() Kind
	apply(d Deliberation) Deliberation
}

// Answer is one participant's stage 1 response.
type Answer struct {
	ParticipantID ParticipantID
	Response      string
}

// Submitted starts a deliberation on an open session.
type Submitted struct {
	SessionID string
	Prompt    string
}

// Stage1Completed carries the participants' individual answers.
type Stage1Completed struct {
	Answers []Answer
}

// Stage2Started marks the beginning of peer review.
type Stage2Started struct{}

// Stage2Completed carries the aggregated peer-review ranks.
type Stage2Completed struct {
	Rankings []AggregateRanking
}

// Stage3Started marks the beginning of synthesis.
type Stage3Started struct{}

// Stage3Completed carries the synthesizer's final answer.
type Stage3Completed struct {
	Response string
}

// Completed ends the deliberation.
type Completed struct{}

// Failed reports a stream error.
type Failed struct {
	Message string
}

// ResetRequested discards the deliberation.
type ResetRequested struct{}

// Unknown is an event kind outside the interpreted set. It is ignored.
type Unknown struct {
	Type string
}

func (Submitted) Kind() Kind       { return KindSubmit }
func (Stage1Completed) Kind() Kind { return KindStage1Complete }
func (Stage2Started) Kind() Kind   { return KindStage2Start }
func (Stage2Completed) Kind() Kind { return KindStage2Complete }
func (Stage3Started) Kind() Kind   { return KindStage3Start }
func (Stage3Completed) Kind() Kind { return KindStage3Complete }
func (Completed) Kind() Kind       { return KindComplete }
func (Failed) Kind() Kind          { return KindError }
func (ResetRequested) Kind() Kind  { return KindReset }
func (Unknown) Kind() Kind         { return KindUnknown }

func (e Submitted) apply(d Deliberation) Deliberation {
	if d.Stage != StageIdle {
		return d
	}
	return Deliberation{
		SessionID:    e.SessionID,
		Stage:        StageCollecting,
		Prompt:       e.Prompt,
		Participants: mapParticipants(InitialParticipants(), startWaiting),
	}
}

func (e Stage1Completed) apply(d Deliberation) Deliberation {
	if d.Stage != StageCollecting {
		return d
	}

	answers := make(map[ParticipantID]string, len(e.Answers))
	for _, a := range e.Answers {
		if _, seen := answers[a.ParticipantID]; !seen {
			answers[a.ParticipantID] = a.Response
		}
	}

	d.Participants = mapParticipants(d.Participants, func(p Participant) Participant {
		response, ok := answers[p.ID]
		if !ok {
			return p
		}
		p.DisplayResponse = nil
		if response != "" {
			p.DisplayResponse = &response
		}
		p.IsWaiting = false
		return p
	})
	return d
}

func (Stage2Started) apply(d Deliberation) Deliberation {
	if d.Stage == StageIdle || d.Stage == StageComplete {
		return d
	}
	d.Stage = StageVoting
	d.Participants = mapParticipants(d.Participants, startWaiting)
	return d
}

func (e Stage2Completed) apply(d Deliberation) Deliberation {
	if d.Stage != StageVoting {
		return d
	}
	d.Participants = mapParticipants(Rank(d.Participants, e.Rankings), stopWaiting)
	return d
}

func (Stage3Started) apply(d Deliberation) Deliberation {
	if d.Stage == StageIdle || d.Stage == StageComplete {
		return d
	}
	d.Stage = StageSynthesizing
	return d
}

func (e Stage3Completed) apply(d Deliberation) Deliberation {
	if d.Stage != StageSynthesizing {
		return d
	}
	synthesis := e.Response
	d.Synthesis = &synthesis
	return d
}

func (Completed) apply(d Deliberation) Deliberation {
	if d.Stage == StageIdle || d.Stage == StageComplete {
		return d
	}
	d.Stage = StageComplete
	d.Participants = mapParticipants(d.Participants, stopWaiting)
	return d
}

func (e Failed) apply(d Deliberation) Deliberation {
	if d.Stage == StageIdle || d.Stage == StageComplete {
		return d
	}
	d.Stage = StageIdle
	d.Error = e.Message
	d.Participants = mapParticipants(d.Participants, stopWaiting)
	return d
}

func (ResetRequested) apply(Deliberation) Deliberation {
	return NewDeliberation()
}

func (Unknown) apply(d Deliberation) Deliberation {
	return d
}
