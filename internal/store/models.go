package store

import (
	"time"

	"github.com/DoyleJ11/challenge-zone-backend/internal/challenge"
	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

type userRow struct {
	ID           string  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Username     string  `gorm:"uniqueIndex"`
	DisplayName  string  `gorm:"column:display_name"`
	Phone        *string `gorm:"column:phone"`
	Email        *string `gorm:"column:email"`
	FirebaseUID  *string `gorm:"column:firebase_uid;uniqueIndex"`
	PasswordHash string  `gorm:"column:password_hash"`
	HeadshotURL  string  `gorm:"column:headshot_url"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

type challengeRow struct {
	ID             string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Title          string `gorm:"not null"`
	Description    string
	SuccessMetric  string     `gorm:"column:success_metric"`
	BrianMode      *string    `gorm:"column:brian_mode"`
	ApprovalStatus string     `gorm:"column:approval_status;default:pending;index"`
	CreatedBy      *string    `gorm:"type:uuid;column:created_by"`
	SuggestedFor   *string    `gorm:"type:uuid;column:suggested_for"`
	ApprovedBy     *string    `gorm:"type:uuid;column:approved_by"`
	ApprovedAt     *time.Time `gorm:"column:approved_at"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (challengeRow) TableName() string { return "challenges" }

type assignmentRow struct {
	ID          string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID      string     `gorm:"type:uuid;not null;uniqueIndex:idx_assignments_user_challenge"`
	ChallengeID string     `gorm:"type:uuid;not null;uniqueIndex:idx_assignments_user_challenge;index"`
	Active      bool       `gorm:"not null;default:true"`
	AssignedAt  time.Time  `gorm:"column:assigned_at;not null"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	Outcome     *string    `gorm:"column:outcome"`
	UpdatedBy   *string    `gorm:"type:uuid;column:updated_by"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (assignmentRow) TableName() string { return "assignments" }

// Models lists every table for migrations.
func Models() []any {
	return []any{&userRow{}, &challengeRow{}, &assignmentRow{}}
}

func (r userRow) toUser() types.User {
	return types.User{
		ID:           r.ID,
		Username:     r.Username,
		DisplayName:  r.DisplayName,
		Phone:        deref(r.Phone),
		Email:        deref(r.Email),
		HeadshotURL:  r.HeadshotURL,
		PasswordHash: r.PasswordHash,
	}
}

func (r challengeRow) toChallenge() types.Challenge {
	return types.Challenge{
		ID:             r.ID,
		Title:          r.Title,
		Description:    r.Description,
		SuccessMetric:  r.SuccessMetric,
		HostMode:       deref(r.BrianMode),
		ApprovalStatus: types.ApprovalStatus(r.ApprovalStatus),
		CreatedBy:      deref(r.CreatedBy),
		SuggestedFor:   deref(r.SuggestedFor),
		ApprovedBy:     deref(r.ApprovedBy),
		ApprovedAt:     r.ApprovedAt,
		CreatedAt:      r.CreatedAt,
	}
}

// cardRow is the joined shape read by Cards.
type cardRow struct {
	ID            string
	ChallengeID   string
	CompletedAt   *time.Time
	Outcome       *string
	Title         string
	Description   string
	SuccessMetric string
	BrianMode     *string
}

func (r cardRow) toCard() challenge.Card {
	return challenge.Card{
		AssignmentID:  r.ID,
		ChallengeID:   r.ChallengeID,
		Title:         r.Title,
		Description:   r.Description,
		SuccessMetric: r.SuccessMetric,
		HostMode:      challenge.HostMode(deref(r.BrianMode)),
		Completed:     r.CompletedAt != nil,
		Outcome:       challenge.Outcome(deref(r.Outcome)),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
