package repo

import (
	"context"
	"database/sql"

	"tapeoutops/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO notifications(id,user_id,type,title,message,entity_type,entity_id,read,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, nullable(n.EntityType), nullable(n.EntityID), boolToInt(n.Read), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, userID string, unreadOnly bool, page Page) ([]domain.Notification, error) {
	clauses := []string{"user_id=?"}
	args := []any{userID}
	if unreadOnly {
		clauses = append(clauses, "read=0")
	}
	clauses, args = page.apply(clauses, args, "")
	limit, args := page.limitClause(args)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,type,title,message,COALESCE(entity_type,''),COALESCE(entity_id,''),read,created_at
FROM notifications`+where(clauses)+` ORDER BY created_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var (
			n    domain.Notification
			read int
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.EntityType, &n.EntityID, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Read = read == 1
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead marks one of the user's notifications read.
func (r Repo) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE user_id=? AND read=0`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetPreference returns the stored preference, or an all-enabled default.
func (r Repo) GetPreference(ctx context.Context, tx *sql.Tx, userID, typ string) (domain.NotificationPreference, error) {
	p := domain.NotificationPreference{UserID: userID, Type: typ, InApp: true, Email: true}
	var inApp, email int
	err := r.q(tx).QueryRowContext(ctx, `SELECT in_app,email FROM notification_preferences WHERE user_id=? AND type=?`, userID, typ).Scan(&inApp, &email)
	if err == sql.ErrNoRows {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	p.InApp = inApp == 1
	p.Email = email == 1
	return p, nil
}

func (r Repo) ListPreferences(ctx context.Context, userID string) ([]domain.NotificationPreference, error) {
	var res []domain.NotificationPreference
	for _, typ := range domain.NotificationTypes {
		p, err := r.GetPreference(ctx, nil, userID, typ)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) UpsertPreference(ctx context.Context, p domain.NotificationPreference) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notification_preferences(user_id,type,in_app,email) VALUES (?,?,?,?)
ON CONFLICT(user_id,type) DO UPDATE SET in_app=excluded.in_app, email=excluded.email`,
		p.UserID, p.Type, boolToInt(p.InApp), boolToInt(p.Email))
	return err
}
