package challenge

import (
	"errors"
	"slices"
)

var ErrUnknownCard = errors.New("unknown assignment")
var ErrLocked = errors.New("card is locked")
var ErrAlreadyRevealed = errors.New("another card is already revealed")
var ErrNotRevealed = errors.New("card is not revealed")
var ErrAlreadyCompleted = errors.New("card already completed")
var ErrInvalidOutcome = errors.New("invalid outcome")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// HostMode ties a challenge to the host's own scorecard. Empty means none.
type HostMode string

const (
	HostNone HostMode = ""
	HostWith HostMode = "with"
	HostVs   HostMode = "vs"
)

// Card is one assignment on a player's dashboard, in assignment order.
type Card struct {
	AssignmentID  string   `json:"assignmentId"`
	ChallengeID   string   `json:"challengeId"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	SuccessMetric string   `json:"successMetric,omitempty"`
	HostMode      HostMode `json:"hostMode,omitempty"`
	Completed     bool     `json:"completed"`
	Outcome       Outcome  `json:"outcome,omitempty"`
}

type State struct {
	Cards    []Card
	Revealed string // assignment id of the revealed card, or ""
}

type CommandType string

const (
	CmdReveal   CommandType = "Reveal"
	CmdHide     CommandType = "Hide"
	CmdComplete CommandType = "Complete"
)

/*
	CmdReveal   -> EvtCardRevealed
	CmdHide     -> EvtCardHidden
	CmdComplete -> EvtCardCompleted -> EvtHostMirrored (host mode only)
	                                -> EvtNextUnlocked (success with a following card)
*/

type Command struct {
	Type         CommandType
	AssignmentID string
	Outcome      Outcome
}

type EventType string

const (
	EvtCardRevealed  EventType = "CardRevealed"
	EvtCardHidden    EventType = "CardHidden"
	EvtCardCompleted EventType = "CardCompleted"
	EvtHostMirrored  EventType = "HostMirrored"
	EvtNextUnlocked  EventType = "NextUnlocked"
)

type Event struct {
	Type         EventType
	AssignmentID string
	ChallengeID  string
	Outcome      Outcome
}

// Apply validates cmd against s and returns the resulting events and state.
// s is never modified; on error the returned state is s.
func Apply(s State, cmd Command) ([]Event, State, error) {
	i := s.index(cmd.AssignmentID)
	if i < 0 {
		return nil, s, ErrUnknownCard
	}
	card := s.Cards[i]

	switch cmd.Type {
	case CmdReveal:
		if card.Completed {
			return nil, s, ErrAlreadyCompleted
		}
		if s.Revealed == card.AssignmentID {
			return nil, s, nil
		}
		if s.Revealed != "" {
			return nil, s, ErrAlreadyRevealed
		}
		if i != s.FirstIncomplete() {
			return nil, s, ErrLocked
		}

		newState := s.Clone()
		newState.Revealed = card.AssignmentID
		return []Event{{Type: EvtCardRevealed, AssignmentID: card.AssignmentID, ChallengeID: card.ChallengeID}}, newState, nil

	case CmdHide:
		if s.Revealed != card.AssignmentID {
			return nil, s, ErrNotRevealed
		}
		newState := s.Clone()
		newState.Revealed = ""
		return []Event{{Type: EvtCardHidden, AssignmentID: card.AssignmentID, ChallengeID: card.ChallengeID}}, newState, nil

	case CmdComplete:
		if card.Completed {
			return nil, s, ErrAlreadyCompleted
		}
		if s.Revealed != card.AssignmentID {
			return nil, s, ErrNotRevealed
		}
		if !cmd.Outcome.Valid() {
			return nil, s, ErrInvalidOutcome
		}

		events := []Event{
			{Type: EvtCardCompleted, AssignmentID: card.AssignmentID, ChallengeID: card.ChallengeID, Outcome: cmd.Outcome},
		}
		if mirrored, ok := MirrorOutcome(card.HostMode, cmd.Outcome); ok {
			events = append(events, Event{Type: EvtHostMirrored, ChallengeID: card.ChallengeID, Outcome: mirrored})
		}

		newState := s.Clone()
		newState.Cards[i].Completed = true
		newState.Cards[i].Outcome = cmd.Outcome
		newState.Revealed = ""

		if cmd.Outcome == OutcomeSuccess {
			if next := newState.FirstIncomplete(); next > i {
				events = append(events, Event{Type: EvtNextUnlocked, AssignmentID: newState.Cards[next].AssignmentID, ChallengeID: newState.Cards[next].ChallengeID})
			}
		}
		return events, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// MirrorOutcome returns the outcome recorded for the host when a player
// completes a host-mode challenge. ok is false when the mode is not a
// host mode.
func MirrorOutcome(mode HostMode, outcome Outcome) (Outcome, bool) {
	switch mode {
	case HostWith:
		return outcome, true
	case HostVs:
		if outcome == OutcomeSuccess {
			return OutcomeFailure, true
		}
		return OutcomeSuccess, true
	default:
		return "", false
	}
}

// Clone returns a copy of s that shares no slices with it.
func (s State) Clone() State {
	return State{Cards: slices.Clone(s.Cards), Revealed: s.Revealed}
}

// FirstIncomplete returns the index of the first card not yet completed,
// or -1 when every card is done.
func (s State) FirstIncomplete() int {
	return slices.IndexFunc(s.Cards, func(c Card) bool { return !c.Completed })
}

func (s State) index(assignmentID string) int {
	if assignmentID == "" {
		return -1
	}
	return slices.IndexFunc(s.Cards, func(c Card) bool { return c.AssignmentID == assignmentID })
}

func ContainsEvent(events []Event, eventType EventType) bool {
	return slices.ContainsFunc(events, func(e Event) bool { return e.Type == eventType })
}
