package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreateTeam        Action = "CREATE_TEAM"
	ActionInviteTeamMember  Action = "INVITE_TEAM_MEMBER"
	ActionAcceptInvitation  Action = "ACCEPT_INVITATION"
	ActionDeclineInvitation Action = "DECLINE_INVITATION"
	ActionRemoveTeamMember  Action = "REMOVE_TEAM_MEMBER"
)

type ActivityLog struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	UserID    string `json:"user_id,omitempty"`
	Action    Action `json:"action"`
	IPAddress string `json:"ip_address,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type ipKey struct{}

// WithIPAddress attaches the caller's address to ctx so entries appended
// under it record where the action came from.
func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

func ipFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey{}).(string)
	return ip
}

// Logger writes the append-only activity trail. Entries are written inside
// the caller's transaction so an action and its record commit together.
type Logger struct {
	db *sql.DB
}

func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

func (l *Logger) Append(ctx context.Context, tx *sql.Tx, teamID, userID string, action Action) (*ActivityLog, error) {
	entry := &ActivityLog{
		ID:        "act_" + uuid.NewString(),
		TeamID:    teamID,
		UserID:    userID,
		Action:    action,
		IPAddress: ipFromContext(ctx),
		Timestamp: time.Now().Unix(),
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO activity_logs (id, team_id, user_id, action, ip_address, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.TeamID, nullable(entry.UserID), string(entry.Action), nullable(entry.IPAddress), entry.Timestamp)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Recent returns the user's latest entries, newest first.
func (l *Logger) Recent(ctx context.Context, userID string, limit int) ([]*ActivityLog, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, team_id, user_id, action, ip_address, timestamp
		FROM activity_logs
		WHERE user_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*ActivityLog
	for rows.Next() {
		var (
			entry    ActivityLog
			user, ip sql.NullString
			action   string
		)
		if err := rows.Scan(&entry.ID, &entry.TeamID, &user, &action, &ip, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.UserID = user.String
		entry.Action = Action(action)
		entry.IPAddress = ip.String
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
