package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/aescanero/council/pkg/ports"
)

// MalformedEventMessage is the deliberation error shown for undecodable events.
const MalformedEventMessage = "Received a malformed event from the council"

// maxRank is the worst possible average rank
var maxRank = float64(len(ParticipantIDs()))

// envelope is the wire shape shared by every stream event
type envelope struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Metadata *struct {
		AggregateRankings *[]wireRanking `json:"aggregate_rankings"`
	} `json:"metadata"`
	Message *string `json:"message"`
}

type wireAnswer struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

type wireRanking struct {
	Model       string   `json:"model"`
	AverageRank *float64 `json:"average_rank"`
	// AvgRank is the older field name still sent by some councils.
	AvgRank       *float64 `json:"avg_rank"`
	RankingsCount int      `json:"rankings_count"`
}

type wireSynthesis struct {
	Model    string  `json:"model"`
	Response *string `json:"response"`
}

// Decode classifies a raw stream event into a typed Event. Kinds outside
// the interpreted set decode to Unknown. A payload that does not match its
// kind returns an error wrapping ErrMalformedEvent.
func Decode(raw ports.RawEvent) (Event, error) {
	var env envelope
	if body := bytes.TrimSpace(raw.Body); len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, raw.Type, err)
		}
	}

	kind := raw.Type
	if kind == "" {
		kind = env.Type
	}

	switch Kind(kind) {
	case KindStage1Complete:
		return decodeStage1(env)
	case KindStage2Start:
		return Stage2Started{}, nil
	case KindStage2Complete:
		return decodeStage2(env)
	case KindStage3Start:
		return Stage3Started{}, nil
	case KindStage3Complete:
		return decodeStage3(env)
	case KindComplete:
		return Completed{}, nil
	case KindError:
		if env.Message == nil || strings.TrimSpace(*env.Message) == "" {
			return nil, fmt.Errorf("%w: error event without message", ErrMalformedEvent)
		}
		return Failed{Message: *env.Message}, nil
	default:
		return Unknown{Type: kind}, nil
	}
}

func decodeStage1(env envelope) (Event, error) {
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: stage1_complete without data", ErrMalformedEvent)
	}

	var answers *[]wireAnswer
	if err := json.Unmarshal(env.Data, &answers); err != nil {
		return nil, fmt.Errorf("%w: stage1_complete data: %v", ErrMalformedEvent, err)
	}
	if answers == nil {
		return nil, fmt.Errorf("%w: stage1_complete with null data", ErrMalformedEvent)
	}

	ev := Stage1Completed{Answers: make([]Answer, 0, len(*answers))}
	for i, a := range *answers {
		if a.Model == "" {
			return nil, fmt.Errorf("%w: stage1_complete answer %d has no model", ErrMalformedEvent, i)
		}
		ev.Answers = append(ev.Answers, Answer{
			ParticipantID: ParticipantID(a.Model),
			Response:      a.Response,
		})
	}
	return ev, nil
}

func decodeStage2(env envelope) (Event, error) {
	if env.Metadata == nil || env.Metadata.AggregateRankings == nil {
		return nil, fmt.Errorf("%w: stage2_complete without aggregate rankings", ErrMalformedEvent)
	}

	rankings := *env.Metadata.AggregateRankings
	ev := Stage2Completed{Rankings: make([]AggregateRanking, 0, len(rankings))}
	for i, r := range rankings {
		avg := r.AverageRank
		if avg == nil {
			avg = r.AvgRank
		}
		if r.Model == "" || avg == nil {
			return nil, fmt.Errorf("%w: aggregate ranking %d is incomplete", ErrMalformedEvent, i)
		}
		if math.IsNaN(*avg) || *avg < 1 || *avg > maxRank {
			return nil, fmt.Errorf("%w: aggregate ranking %d has average rank %v outside [1, %d]",
				ErrMalformedEvent, i, *avg, len(ParticipantIDs()))
		}
		ev.Rankings = append(ev.Rankings, AggregateRanking{
			ParticipantID: ParticipantID(r.Model),
			AverageRank:   *avg,
		})
	}
	return ev, nil
}

func decodeStage3(env envelope) (Event, error) {
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: stage3_complete without data", ErrMalformedEvent)
	}

	var synthesis wireSynthesis
	if err := json.Unmarshal(env.Data, &synthesis); err != nil {
		return nil, fmt.Errorf("%w: stage3_complete data: %v", ErrMalformedEvent, err)
	}
	if synthesis.Response == nil {
		return nil, fmt.Errorf("%w: stage3_complete without response", ErrMalformedEvent)
	}
	return Stage3Completed{Response: *synthesis.Response}, nil
}
