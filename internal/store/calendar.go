package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateEvent はカレンダーイベントと参加者を1つのトランザクションで作成する。
// attendeeIDsの重複は無視する。
func (s *Store) CreateEvent(ctx context.Context, e *CalendarEvent, attendeeIDs []string) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.StartTime, e.EndTime = e.StartTime.UTC(), e.EndTime.UTC()
	e.CreatedAt = s.now()

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO calendar_events (id, title, description, type, start_time, end_time, project_id, creator_id, created_at)
			VALUES (:id, :title, :description, :type, :start_time, :end_time, :project_id, :creator_id, :created_at)`, e); err != nil {
			return translate(err, "カレンダーイベント")
		}
		for _, userID := range attendeeIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO event_attendees (event_id, user_id) VALUES (?, ?)
				ON CONFLICT (event_id, user_id) DO NOTHING`, e.ID, userID); err != nil {
				return translate(err, "イベント参加者")
			}
		}
		return nil
	})
}

// GetEvent はIDでカレンダーイベントを取得する。
func (s *Store) GetEvent(ctx context.Context, id string) (*CalendarEvent, error) {
	var e CalendarEvent
	if err := s.db.GetContext(ctx, &e, "SELECT * FROM calendar_events WHERE id = ?", id); err != nil {
		return nil, translate(err, "カレンダーイベント")
	}
	return &e, nil
}

// ListEventAttendeeIDs はイベント参加者のユーザーIDを返す。
func (s *Store) ListEventAttendeeIDs(ctx context.Context, eventID string) ([]string, error) {
	ids := []string{}
	err := s.db.SelectContext(ctx, &ids,
		"SELECT user_id FROM event_attendees WHERE event_id = ? ORDER BY user_id", eventID)
	return ids, translate(err, "イベント参加者")
}

// EventRange はイベント検索の期間条件。nilの境界は無制限を表す。
type EventRange struct {
	// Start 以降に開始するイベントに絞る。
	Start *time.Time
	// End 以前に終了するイベントに絞る。
	End *time.Time
}

// ListEventsForUser はユーザーが参加者であるか、イベントのプロジェクトが属するチームの
// メンバーであるイベントを開始時刻順に返す。
func (s *Store) ListEventsForUser(ctx context.Context, userID string, r EventRange) ([]CalendarEvent, error) {
	var (
		where = []string{`(
			e.id IN (SELECT event_id FROM event_attendees WHERE user_id = ?)
			OR e.project_id IN (
				SELECT p.id FROM projects p
				JOIN team_members m ON m.team_id = p.team_id
				WHERE m.user_id = ?
			)
		)`}
		args = []any{userID, userID}
	)
	if r.Start != nil {
		where = append(where, "e.start_time >= ?")
		args = append(args, r.Start.UTC())
	}
	if r.End != nil {
		where = append(where, "e.end_time <= ?")
		args = append(args, r.End.UTC())
	}

	events := []CalendarEvent{}
	err := s.db.SelectContext(ctx, &events,
		"SELECT e.* FROM calendar_events e WHERE "+strings.Join(where, " AND ")+" ORDER BY e.start_time, e.rowid",
		args...)
	return events, translate(err, "カレンダーイベント")
}

// DeleteEvent はカレンダーイベントを削除する。参加者も同時に削除される。
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM calendar_events WHERE id = ?", id)
	if err != nil {
		return translate(err, "カレンダーイベント")
	}
	return requireAffected(res, "カレンダーイベント")
}
