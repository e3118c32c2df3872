package types

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	DisplayName  string `json:"displayName"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	HeadshotURL  string `json:"headshotUrl,omitempty"`
	PasswordHash string `json:"-"`
}

// Identity is what a verified identity token says about its holder.
type Identity struct {
	UID   string
	Phone string
	Email string
	Name  string
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

type Challenge struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	SuccessMetric  string         `json:"successMetric,omitempty"`
	HostMode       string         `json:"hostMode,omitempty"`
	ApprovalStatus ApprovalStatus `json:"approvalStatus"`
	CreatedBy      string         `json:"createdBy,omitempty"`
	SuggestedFor   string         `json:"suggestedFor,omitempty"`
	ApprovedBy     string         `json:"approvedBy,omitempty"`
	ApprovedAt     *time.Time     `json:"approvedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Client -> Server frames on the tab socket.
//
// Event:    {"type":"Event","event":"challenge:reveal","detail":{...}}
// Navigate: {"type":"Navigate","page":"leaderboard"}
type ClientMessage struct {
	Type   string          `json:"type"` // "Event" | "Navigate" | "Retry" | "Ping"
	Event  string          `json:"event,omitempty"`
	Detail json.RawMessage `json:"detail,omitempty"`
	Page   string          `json:"page,omitempty"`
}

// Server -> Client frames. Version increases by one per frame on a tab.
type ServerMessage struct {
	Type    string `json:"type"` // "Render" | "Event" | "Redirect" | "Error"
	Version int    `json:"version"`
	Page    string `json:"page,omitempty"`
	View    any    `json:"view,omitempty"`
	Event   string `json:"event,omitempty"`
	Detail  any    `json:"detail,omitempty"`
	To      string `json:"to,omitempty"`
	Error   string `json:"error,omitempty"`
}
