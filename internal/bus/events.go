package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns the namespaced type, "<domain>:<action>".
	EventType() string
	// Timestamp returns when the event was created.
	Timestamp() time.Time
}

// Event types. Convention: "<domain>:<action>".
const (
	TypeChallengeReveal           = "challenge:reveal"
	TypeChallengeComplete         = "challenge:complete"
	TypeChallengeCompletedSuccess = "challenge:completed-success"
	TypeChallengeCompletedError   = "challenge:completed-error"
	TypeChallengeUpdated          = "challenge:updated"
	TypeChallengeLoading          = "challenge:loading"
	TypeChallengeDeny             = "challenge:deny"

	TypeUserLoaded          = "user:loaded"
	TypeUserLoading         = "user:loading"
	TypeUserError           = "user:error"
	TypeUserStatsUpdated    = "user:stats-updated"
	TypeUserLogout          = "user:logout"
	TypeUserHeadshotUpdated = "user:headshot-updated"

	TypeNavPageChange = "nav:page-change"
	TypeNavMenuToggle = "nav:menu-toggle"

	TypeAppReady = "app:ready"
	TypeAppError = "app:error"

	TypeAssignmentOpen     = "assignment:open"
	TypeAssignmentSubmit   = "assignment:submit"
	TypeAssignmentUpdated  = "assignment:updated"
	TypeAssignmentConflict = "assignment:conflict"

	TypeLeaderboardRefresh = "leaderboard:refresh"
)

// Header carries the type and creation time. Embed it in concrete events;
// both fields serialize next to the payload fields.
type Header struct {
	Type string    `json:"type"`
	At   time.Time `json:"timestamp"`
}

func (h Header) EventType() string    { return h.Type }
func (h Header) Timestamp() time.Time { return h.At }

func (h *Header) setHeader(n Header) { *h = n }

func newHeader(eventType string) Header {
	return Header{Type: eventType, At: time.Now()}
}

// -----------------------------------------------------------------------------
// Challenge events
// -----------------------------------------------------------------------------

// ChallengeRevealEvent asks the dashboard to reveal one challenge card.
type ChallengeRevealEvent struct {
	Header
	AssignmentID string `json:"assignmentId"`
	ChallengeID  string `json:"challengeId,omitempty"`
}

func NewChallengeReveal(assignmentID, challengeID string) ChallengeRevealEvent {
	return ChallengeRevealEvent{Header: newHeader(TypeChallengeReveal), AssignmentID: assignmentID, ChallengeID: challengeID}
}

// ChallengeCompleteEvent records the outcome the player picked for a
// revealed card.
type ChallengeCompleteEvent struct {
	Header
	AssignmentID string `json:"assignmentId"`
	ChallengeID  string `json:"challengeId"`
	Outcome      string `json:"outcome"`
	BrianMode    string `json:"brianMode,omitempty"`
}

func NewChallengeComplete(assignmentID, challengeID, outcome, brianMode string) ChallengeCompleteEvent {
	return ChallengeCompleteEvent{
		Header:       newHeader(TypeChallengeComplete),
		AssignmentID: assignmentID,
		ChallengeID:  challengeID,
		Outcome:      outcome,
		BrianMode:    brianMode,
	}
}

// ChallengeCompletedEvent is shared by the success and error results.
type ChallengeCompletedEvent struct {
	Header
	AssignmentID string `json:"assignmentId"`
	Outcome      string `json:"outcome"`
	Error        string `json:"error,omitempty"`
}

func NewChallengeCompletedSuccess(assignmentID, outcome string) ChallengeCompletedEvent {
	return ChallengeCompletedEvent{Header: newHeader(TypeChallengeCompletedSuccess), AssignmentID: assignmentID, Outcome: outcome}
}

func NewChallengeCompletedError(assignmentID, outcome, msg string) ChallengeCompletedEvent {
	return ChallengeCompletedEvent{Header: newHeader(TypeChallengeCompletedError), AssignmentID: assignmentID, Outcome: outcome, Error: msg}
}

type ChallengeUpdatedEvent struct {
	Header
	ChallengeID string `json:"challengeId"`
}

func NewChallengeUpdated(challengeID string) ChallengeUpdatedEvent {
	return ChallengeUpdatedEvent{Header: newHeader(TypeChallengeUpdated), ChallengeID: challengeID}
}

type ChallengeLoadingEvent struct {
	Header
	Loading bool `json:"loading"`
}

func NewChallengeLoading(loading bool) ChallengeLoadingEvent {
	return ChallengeLoadingEvent{Header: newHeader(TypeChallengeLoading), Loading: loading}
}

// ChallengeDenyEvent asks the admin page to reject a pending challenge.
type ChallengeDenyEvent struct {
	Header
	ChallengeID string `json:"challengeId"`
}

func NewChallengeDeny(challengeID string) ChallengeDenyEvent {
	return ChallengeDenyEvent{Header: newHeader(TypeChallengeDeny), ChallengeID: challengeID}
}

// -----------------------------------------------------------------------------
// User events
// -----------------------------------------------------------------------------

type UserLoadedEvent struct {
	Header
	UserID      string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	IsAdmin     bool   `json:"isAdmin"`
}

func NewUserLoaded(userID, username, displayName string, isAdmin bool) UserLoadedEvent {
	return UserLoadedEvent{
		Header:      newHeader(TypeUserLoaded),
		UserID:      userID,
		Username:    username,
		DisplayName: displayName,
		IsAdmin:     isAdmin,
	}
}

type UserLoadingEvent struct {
	Header
}

func NewUserLoading() UserLoadingEvent {
	return UserLoadingEvent{Header: newHeader(TypeUserLoading)}
}

type UserErrorEvent struct {
	Header
	Error string `json:"error"`
}

func NewUserError(msg string) UserErrorEvent {
	return UserErrorEvent{Header: newHeader(TypeUserError), Error: msg}
}

type UserStatsUpdatedEvent struct {
	Header
	Rank           int `json:"rank"`
	Points         int `json:"points"`
	TotalAssigned  int `json:"totalAssigned"`
	TotalCompleted int `json:"totalCompleted"`
}

func NewUserStatsUpdated(rank, points, assigned, completed int) UserStatsUpdatedEvent {
	return UserStatsUpdatedEvent{
		Header:         newHeader(TypeUserStatsUpdated),
		Rank:           rank,
		Points:         points,
		TotalAssigned:  assigned,
		TotalCompleted: completed,
	}
}

type UserLogoutEvent struct {
	Header
}

func NewUserLogout() UserLogoutEvent {
	return UserLogoutEvent{Header: newHeader(TypeUserLogout)}
}

type UserHeadshotUpdatedEvent struct {
	Header
	UserID      string `json:"userId"`
	HeadshotURL string `json:"headshotUrl"`
}

func NewUserHeadshotUpdated(userID, url string) UserHeadshotUpdatedEvent {
	return UserHeadshotUpdatedEvent{Header: newHeader(TypeUserHeadshotUpdated), UserID: userID, HeadshotURL: url}
}

// -----------------------------------------------------------------------------
// Navigation and app events
// -----------------------------------------------------------------------------

type NavPageChangeEvent struct {
	Header
	Page string `json:"page"`
}

func NewNavPageChange(page string) NavPageChangeEvent {
	return NavPageChangeEvent{Header: newHeader(TypeNavPageChange), Page: page}
}

type NavMenuToggleEvent struct {
	Header
	Open bool `json:"open"`
}

func NewNavMenuToggle(open bool) NavMenuToggleEvent {
	return NavMenuToggleEvent{Header: newHeader(TypeNavMenuToggle), Open: open}
}

type AppReadyEvent struct {
	Header
	Page string `json:"page"`
}

func NewAppReady(page string) AppReadyEvent {
	return AppReadyEvent{Header: newHeader(TypeAppReady), Page: page}
}

type AppErrorEvent struct {
	Header
	Error string `json:"error"`
}

func NewAppError(msg string) AppErrorEvent {
	return AppErrorEvent{Header: newHeader(TypeAppError), Error: msg}
}

// -----------------------------------------------------------------------------
// Assignment events
// -----------------------------------------------------------------------------

// AssignmentOpenEvent asks the admin page to load a challenge's members.
type AssignmentOpenEvent struct {
	Header
	ChallengeID string `json:"challengeId"`
	Approve     bool   `json:"approve,omitempty"`
}

func NewAssignmentOpen(challengeID string, approve bool) AssignmentOpenEvent {
	return AssignmentOpenEvent{Header: newHeader(TypeAssignmentOpen), ChallengeID: challengeID, Approve: approve}
}

// AssignmentSubmitEvent carries the full membership the admin selected.
type AssignmentSubmitEvent struct {
	Header
	ChallengeID string   `json:"challengeId"`
	MemberIDs   []string `json:"memberIds"`
}

func NewAssignmentSubmit(challengeID string, memberIDs []string) AssignmentSubmitEvent {
	return AssignmentSubmitEvent{Header: newHeader(TypeAssignmentSubmit), ChallengeID: challengeID, MemberIDs: memberIDs}
}

type AssignmentUpdatedEvent struct {
	Header
	ChallengeID string `json:"challengeId"`
	Version     string `json:"version"`
	Created     int    `json:"created"`
	Reactivated int    `json:"reactivated"`
	Deactivated int    `json:"deactivated"`
	Message     string `json:"message"`
}

func NewAssignmentUpdated(challengeID, version string, created, reactivated, deactivated int, msg string) AssignmentUpdatedEvent {
	return AssignmentUpdatedEvent{
		Header:      newHeader(TypeAssignmentUpdated),
		ChallengeID: challengeID,
		Version:     version,
		Created:     created,
		Reactivated: reactivated,
		Deactivated: deactivated,
		Message:     msg,
	}
}

type AssignmentConflictEvent struct {
	Header
	ChallengeID string `json:"challengeId"`
	Message     string `json:"message"`
}

func NewAssignmentConflict(challengeID, msg string) AssignmentConflictEvent {
	return AssignmentConflictEvent{Header: newHeader(TypeAssignmentConflict), ChallengeID: challengeID, Message: msg}
}

type LeaderboardRefreshEvent struct {
	Header
}

func NewLeaderboardRefresh() LeaderboardRefreshEvent {
	return LeaderboardRefreshEvent{Header: newHeader(TypeLeaderboardRefresh)}
}

// -----------------------------------------------------------------------------
// Untyped events
// -----------------------------------------------------------------------------

// Message carries an event type without a registered payload shape.
type Message struct {
	Header
	Detail any `json:"detail,omitempty"`
}

func NewMessage(eventType string, detail any) Message {
	return Message{Header: newHeader(eventType), Detail: detail}
}

// -----------------------------------------------------------------------------
// Registry and decoding
// -----------------------------------------------------------------------------

var (
	// ErrUnknownType is returned by Decode for unregistered event types.
	ErrUnknownType = errors.New("unknown event type")
	// ErrMalformedType is returned by Decode for types not shaped "<domain>:<action>".
	ErrMalformedType = errors.New("malformed event type")
)

var registry = map[string]reflect.Type{
	TypeChallengeReveal:           reflect.TypeFor[ChallengeRevealEvent](),
	TypeChallengeComplete:         reflect.TypeFor[ChallengeCompleteEvent](),
	TypeChallengeCompletedSuccess: reflect.TypeFor[ChallengeCompletedEvent](),
	TypeChallengeCompletedError:   reflect.TypeFor[ChallengeCompletedEvent](),
	TypeChallengeUpdated:          reflect.TypeFor[ChallengeUpdatedEvent](),
	TypeChallengeLoading:          reflect.TypeFor[ChallengeLoadingEvent](),
	TypeChallengeDeny:             reflect.TypeFor[ChallengeDenyEvent](),
	TypeUserLoaded:                reflect.TypeFor[UserLoadedEvent](),
	TypeUserLoading:               reflect.TypeFor[UserLoadingEvent](),
	TypeUserError:                 reflect.TypeFor[UserErrorEvent](),
	TypeUserStatsUpdated:          reflect.TypeFor[UserStatsUpdatedEvent](),
	TypeUserLogout:                reflect.TypeFor[UserLogoutEvent](),
	TypeUserHeadshotUpdated:       reflect.TypeFor[UserHeadshotUpdatedEvent](),
	TypeNavPageChange:             reflect.TypeFor[NavPageChangeEvent](),
	TypeNavMenuToggle:             reflect.TypeFor[NavMenuToggleEvent](),
	TypeAppReady:                  reflect.TypeFor[AppReadyEvent](),
	TypeAppError:                  reflect.TypeFor[AppErrorEvent](),
	TypeAssignmentOpen:            reflect.TypeFor[AssignmentOpenEvent](),
	TypeAssignmentSubmit:          reflect.TypeFor[AssignmentSubmitEvent](),
	TypeAssignmentUpdated:         reflect.TypeFor[AssignmentUpdatedEvent](),
	TypeAssignmentConflict:        reflect.TypeFor[AssignmentConflictEvent](),
	TypeLeaderboardRefresh:        reflect.TypeFor[LeaderboardRefreshEvent](),
}

func typeOf(e Event) reflect.Type {
	t := reflect.TypeOf(e)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// Registered reports whether eventType has a fixed payload shape.
func Registered(eventType string) bool {
	_, ok := registry[eventType]
	return ok
}

type decoder func(eventType string, raw []byte) (Event, error)

var decoders = map[string]decoder{
	TypeChallengeReveal:           decodeInto[ChallengeRevealEvent, *ChallengeRevealEvent],
	TypeChallengeComplete:         decodeInto[ChallengeCompleteEvent, *ChallengeCompleteEvent],
	TypeChallengeCompletedSuccess: decodeInto[ChallengeCompletedEvent, *ChallengeCompletedEvent],
	TypeChallengeCompletedError:   decodeInto[ChallengeCompletedEvent, *ChallengeCompletedEvent],
	TypeChallengeUpdated:          decodeInto[ChallengeUpdatedEvent, *ChallengeUpdatedEvent],
	TypeChallengeLoading:          decodeInto[ChallengeLoadingEvent, *ChallengeLoadingEvent],
	TypeChallengeDeny:             decodeInto[ChallengeDenyEvent, *ChallengeDenyEvent],
	TypeUserLoaded:                decodeInto[UserLoadedEvent, *UserLoadedEvent],
	TypeUserLoading:               decodeInto[UserLoadingEvent, *UserLoadingEvent],
	TypeUserError:                 decodeInto[UserErrorEvent, *UserErrorEvent],
	TypeUserStatsUpdated:          decodeInto[UserStatsUpdatedEvent, *UserStatsUpdatedEvent],
	TypeUserLogout:                decodeInto[UserLogoutEvent, *UserLogoutEvent],
	TypeUserHeadshotUpdated:       decodeInto[UserHeadshotUpdatedEvent, *UserHeadshotUpdatedEvent],
	TypeNavPageChange:             decodeInto[NavPageChangeEvent, *NavPageChangeEvent],
	TypeNavMenuToggle:             decodeInto[NavMenuToggleEvent, *NavMenuToggleEvent],
	TypeAppReady:                  decodeInto[AppReadyEvent, *AppReadyEvent],
	TypeAppError:                  decodeInto[AppErrorEvent, *AppErrorEvent],
	TypeAssignmentOpen:            decodeInto[AssignmentOpenEvent, *AssignmentOpenEvent],
	TypeAssignmentSubmit:          decodeInto[AssignmentSubmitEvent, *AssignmentSubmitEvent],
	TypeAssignmentUpdated:         decodeInto[AssignmentUpdatedEvent, *AssignmentUpdatedEvent],
	TypeAssignmentConflict:        decodeInto[AssignmentConflictEvent, *AssignmentConflictEvent],
	TypeLeaderboardRefresh:        decodeInto[LeaderboardRefreshEvent, *LeaderboardRefreshEvent],
}

func decodeInto[T any, PT interface {
	*T
	setHeader(Header)
}](eventType string, raw []byte) (Event, error) {
	var v T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
	}
	PT(&v).setHeader(newHeader(eventType))
	e, ok := any(v).(Event)
	if !ok {
		return nil, fmt.Errorf("decode %s: %w", eventType, ErrUnknownType)
	}
	return e, nil
}

// Decode builds the typed event for eventType from a JSON detail payload.
func Decode(eventType string, raw json.RawMessage) (Event, error) {
	if !ValidType(eventType) {
		return nil, fmt.Errorf("%w: %q", ErrMalformedType, eventType)
	}
	dec, ok := decoders[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, eventType)
	}
	return dec(eventType, raw)
}
