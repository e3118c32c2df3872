package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DoyleJ11/challenge-zone-backend/internal/assignment"
	"github.com/DoyleJ11/challenge-zone-backend/internal/challenge"
	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

// Postgres is the gorm-backed Backend.
type Postgres struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to dsn with a zap-backed gorm logger.
func Open(dsn string, log *zap.Logger, slow time.Duration) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 NewGormLogger(log, slow, false),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db, log), nil
}

func New(db *gorm.DB, log *zap.Logger) *Postgres {
	if log == nil {
		log = zap.NewNop()
	}
	return &Postgres{db: db, log: log.Named("store")}
}

// Migrate creates or updates the tables.
func (p *Postgres) Migrate(ctx context.Context) error {
	if err := p.db.WithContext(ctx).Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto`).Error; err != nil {
		return fmt.Errorf("enable pgcrypto: %w", err)
	}
	if err := p.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	p.log.Info("schema migrated", zap.Int("tables", len(Models())))
	return nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

func (p *Postgres) UserByID(ctx context.Context, id string) (types.User, error) {
	if !validID(id) {
		return types.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	var row userRow
	if err := p.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return types.User{}, notFound(fmt.Sprintf("user %s", id), err, ErrNotFound)
	}
	return row.toUser(), nil
}

func (p *Postgres) UserByUsername(ctx context.Context, username string) (types.User, error) {
	var row userRow
	err := p.db.WithContext(ctx).
		Where("username = ? OR email = ?", username, username).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE WHEN username = ? THEN 0 ELSE 1 END",
			Vars:               []any{username},
			WithoutParentheses: true,
		}}).
		Take(&row).Error
	if err != nil {
		return types.User{}, notFound(fmt.Sprintf("user %q", username), err, ErrNotFound)
	}
	return row.toUser(), nil
}

func (p *Postgres) UserForIdentity(ctx context.Context, id types.Identity) (types.User, error) {
	fresh := newIdentityUser(id)
	row := userRow{
		ID:          fresh.ID,
		Username:    fresh.Username,
		DisplayName: fresh.DisplayName,
		Phone:       ptr(fresh.Phone),
		Email:       ptr(fresh.Email),
	}
	uid := id.UID
	err := p.db.WithContext(ctx).
		Where(userRow{FirebaseUID: &uid}).
		Attrs(row).
		FirstOrCreate(&row).Error
	if err != nil {
		return types.User{}, fmt.Errorf("user for identity %s: %w", id.UID, err)
	}
	return row.toUser(), nil
}

func (p *Postgres) ListUsers(ctx context.Context) ([]types.User, error) {
	var rows []userRow
	if err := p.db.WithContext(ctx).Order("username ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]types.User, len(rows))
	for i, r := range rows {
		out[i] = r.toUser()
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Challenges
// -----------------------------------------------------------------------------

func (p *Postgres) Challenge(ctx context.Context, id string) (types.Challenge, error) {
	if !validID(id) {
		return types.Challenge{}, fmt.Errorf("challenge %s: %w", id, assignment.ErrNotFound)
	}
	var row challengeRow
	if err := p.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return types.Challenge{}, notFound(fmt.Sprintf("challenge %s", id), err, assignment.ErrNotFound)
	}
	return row.toChallenge(), nil
}

func (p *Postgres) ListChallenges(ctx context.Context) ([]types.Challenge, error) {
	var rows []challengeRow
	if err := p.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	out := make([]types.Challenge, len(rows))
	for i, r := range rows {
		out[i] = r.toChallenge()
	}
	return out, nil
}

func (p *Postgres) ApproveChallenge(ctx context.Context, id, approvedBy, suggestedFor string) error {
	return p.setStatus(ctx, id, map[string]any{
		"approval_status": string(types.ApprovalApproved),
		"approved_by":     ptr(approvedBy),
		"approved_at":     now(),
		"suggested_for":   ptr(suggestedFor),
	})
}

func (p *Postgres) DenyChallenge(ctx context.Context, id, deniedBy string) error {
	return p.setStatus(ctx, id, map[string]any{
		"approval_status": string(types.ApprovalDenied),
		"approved_by":     ptr(deniedBy),
		"approved_at":     now(),
	})
}

func (p *Postgres) setStatus(ctx context.Context, id string, fields map[string]any) error {
	if !validID(id) {
		return fmt.Errorf("challenge %s: %w", id, assignment.ErrNotFound)
	}
	res := p.db.WithContext(ctx).Model(&challengeRow{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update challenge %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("challenge %s: %w", id, assignment.ErrNotFound)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Assignment membership
// -----------------------------------------------------------------------------

func (p *Postgres) ActiveMembers(ctx context.Context, challengeID string) ([]assignment.Member, error) {
	if !validID(challengeID) {
		return nil, fmt.Errorf("challenge %s: %w", challengeID, assignment.ErrNotFound)
	}
	db := p.db.WithContext(ctx)
	if err := db.Select("id").Where("id = ?", challengeID).Take(&challengeRow{}).Error; err != nil {
		return nil, notFound(fmt.Sprintf("challenge %s", challengeID), err, assignment.ErrNotFound)
	}
	var rows []assignmentRow
	if err := db.Where("challenge_id = ? AND active = ?", challengeID, true).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read assignments: %w", err)
	}
	return membersOf(rows), nil
}

// ReplaceMembers runs in one transaction with the challenge row locked, so
// concurrent replacements of the same challenge serialize and the expected
// version is checked against the rows actually being changed.
func (p *Postgres) ReplaceMembers(ctx context.Context, challengeID string, userIDs []string, updatedBy, expectedVersion string) ([]assignment.Operation, error) {
	if !validID(challengeID) {
		return nil, fmt.Errorf("challenge %s: %w", challengeID, assignment.ErrNotFound)
	}
	var ops []assignment.Operation
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").Where("id = ?", challengeID).Take(&challengeRow{}).Error
		if err != nil {
			return notFound(fmt.Sprintf("challenge %s", challengeID), err, assignment.ErrNotFound)
		}

		var rows []assignmentRow
		if err := tx.Where("challenge_id = ?", challengeID).Find(&rows).Error; err != nil {
			return fmt.Errorf("read assignments: %w", err)
		}
		if expectedVersion != "" {
			var active []assignmentRow
			for _, r := range rows {
				if r.Active {
					active = append(active, r)
				}
			}
			if actual := assignment.Version(membersOf(active)); actual != expectedVersion {
				return &assignment.ConflictError{ChallengeID: challengeID, Expected: expectedVersion, Actual: actual}
			}
		}

		var known int64
		if err := tx.Model(&userRow{}).Where("id IN ?", userIDs).Count(&known).Error; err != nil {
			return fmt.Errorf("check users: %w", err)
		}
		if int(known) != len(userIDs) {
			return &assignment.ValidationError{Field: "memberIds", Reason: "unknown user in membership"}
		}

		ops = planReplacement(rows, userIDs)
		return applyReplacement(tx, challengeID, ops, updatedBy, now())
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// planReplacement diffs the stored rows against the wanted membership.
func planReplacement(rows []assignmentRow, userIDs []string) []assignment.Operation {
	byUser := make(map[string]assignmentRow, len(rows))
	for _, r := range rows {
		byUser[r.UserID] = r
	}
	want := make(map[string]bool, len(userIDs))
	var ops []assignment.Operation
	for _, id := range userIDs {
		want[id] = true
		r, ok := byUser[id]
		switch {
		case !ok:
			ops = append(ops, assignment.Operation{UserID: id, Kind: assignment.OpCreated})
		case !r.Active:
			ops = append(ops, assignment.Operation{UserID: id, Kind: assignment.OpReactivated})
		}
	}
	for _, r := range rows {
		if r.Active && !want[r.UserID] {
			ops = append(ops, assignment.Operation{UserID: r.UserID, Kind: assignment.OpDeactivated})
		}
	}
	return ops
}

func applyReplacement(tx *gorm.DB, challengeID string, ops []assignment.Operation, updatedBy string, at time.Time) error {
	var created []assignmentRow
	var reactivate, deactivate []string
	for _, op := range ops {
		switch op.Kind {
		case assignment.OpCreated:
			created = append(created, assignmentRow{
				UserID:      op.UserID,
				ChallengeID: challengeID,
				Active:      true,
				AssignedAt:  at,
				UpdatedBy:   ptr(updatedBy),
				UpdatedAt:   at,
			})
		case assignment.OpReactivated:
			reactivate = append(reactivate, op.UserID)
		case assignment.OpDeactivated:
			deactivate = append(deactivate, op.UserID)
		}
	}

	if len(created) > 0 {
		if err := tx.Create(&created).Error; err != nil {
			return fmt.Errorf("create assignments: %w", err)
		}
	}
	for _, set := range []struct {
		ids    []string
		active bool
	}{{reactivate, true}, {deactivate, false}} {
		if len(set.ids) == 0 {
			continue
		}
		err := tx.Model(&assignmentRow{}).
			Where("challenge_id = ? AND user_id IN ?", challengeID, set.ids).
			Updates(map[string]any{"active": set.active, "updated_by": ptr(updatedBy), "updated_at": at}).Error
		if err != nil {
			return fmt.Errorf("update assignments: %w", err)
		}
	}
	return nil
}

func membersOf(rows []assignmentRow) []assignment.Member {
	out := make([]assignment.Member, len(rows))
	for i, r := range rows {
		out[i] = assignment.Member{UserID: r.UserID, UpdatedAt: r.UpdatedAt}
	}
	return out
}

// -----------------------------------------------------------------------------
// Dashboard and scoreboard
// -----------------------------------------------------------------------------

func (p *Postgres) Cards(ctx context.Context, userID string) ([]challenge.Card, error) {
	var rows []cardRow
	err := p.db.WithContext(ctx).
		Table("assignments AS a").
		Select("a.id, a.challenge_id, a.completed_at, a.outcome, c.title, c.description, c.success_metric, c.brian_mode").
		Joins("JOIN challenges c ON c.id = a.challenge_id").
		Where("a.user_id = ? AND a.active = ?", userID, true).
		Order("a.assigned_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}
	cards := make([]challenge.Card, len(rows))
	for i, r := range rows {
		cards[i] = r.toCard()
	}
	return cards, nil
}

func (p *Postgres) CompleteAssignment(ctx context.Context, userID, assignmentID string, outcome challenge.Outcome, at time.Time) error {
	if !validID(assignmentID) {
		return fmt.Errorf("open assignment %s: %w", assignmentID, ErrNotFound)
	}
	res := p.db.WithContext(ctx).Model(&assignmentRow{}).
		Where("id = ? AND user_id = ? AND completed_at IS NULL", assignmentID, userID).
		Updates(map[string]any{"completed_at": at.UTC(), "outcome": string(outcome), "updated_at": now()})
	if res.Error != nil {
		return fmt.Errorf("complete assignment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("open assignment %s: %w", assignmentID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) MirrorHostCompletion(ctx context.Context, hostUsername, challengeID string, outcome challenge.Outcome, at time.Time) error {
	db := p.db.WithContext(ctx)
	var host userRow
	if err := db.Select("id").Where("username = ?", hostUsername).Take(&host).Error; err != nil {
		return notFound(fmt.Sprintf("host %q", hostUsername), err, ErrNotFound)
	}
	completed := at.UTC()
	ts := now()
	row := assignmentRow{
		UserID:      host.ID,
		ChallengeID: challengeID,
		Active:      true,
		AssignedAt:  ts,
		CompletedAt: &completed,
		Outcome:     ptr(string(outcome)),
		UpdatedAt:   ts,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "challenge_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"completed_at", "outcome", "active", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("mirror host completion: %w", err)
	}
	return nil
}

const scoreboardSQL = `
SELECT u.id AS user_id, u.username, u.display_name,
       COUNT(a.id) FILTER (WHERE a.completed_at IS NOT NULL AND a.outcome = 'success') AS points
FROM users u
LEFT JOIN assignments a ON a.user_id = u.id AND a.active
GROUP BY u.id, u.username, u.display_name
ORDER BY points DESC, u.username ASC`

func (p *Postgres) Scoreboard(ctx context.Context) ([]challenge.ScoreRow, error) {
	var rows []challenge.ScoreRow
	if err := p.db.WithContext(ctx).Raw(scoreboardSQL).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("scoreboard: %w", err)
	}
	return rows, nil
}

type completionRow struct {
	UserID      string
	CompletedAt *time.Time
	Outcome     *string
}

func (p *Postgres) UserCompletions(ctx context.Context, userID string) ([]challenge.Completion, error) {
	return completions(p.db.WithContext(ctx).Where("user_id = ? AND active = ?", userID, true))
}

func (p *Postgres) ActiveCompletions(ctx context.Context) ([]challenge.Completion, error) {
	return completions(p.db.WithContext(ctx).Where("active = ?", true))
}

func completions(q *gorm.DB) ([]challenge.Completion, error) {
	var rows []completionRow
	if err := q.Model(&assignmentRow{}).Select("user_id, completed_at, outcome").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("load completions: %w", err)
	}
	out := make([]challenge.Completion, len(rows))
	for i, r := range rows {
		out[i] = challenge.Completion{UserID: r.UserID, Completed: r.CompletedAt != nil, Outcome: challenge.Outcome(deref(r.Outcome))}
	}
	return out, nil
}

func notFound(what string, err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, sentinel)
	}
	return fmt.Errorf("%s: %w", what, err)
}

var _ Backend = (*Postgres)(nil)
