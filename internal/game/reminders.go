package game

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const maxReminderText = 1500

func cleanReminderText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", invalidf("reminder text is required")
	}
	if utf8.RuneCountInString(text) > maxReminderText {
		return "", invalidf("reminder text must be at most %d characters", maxReminderText)
	}
	return text, nil
}

// SetReminder persists a one-shot reminder due after the given delay and
// arms its timer once committed.
func (s *Service) SetReminder(ctx context.Context, origin Origin, after time.Duration, text string) (Notification, error) {
	var out Notification
	text, err := cleanReminderText(text)
	if err != nil {
		return out, err
	}
	if after <= 0 {
		return out, invalidf("reminder delay must be positive")
	}
	err = s.read(ctx, origin.PlayerID, func(ctx context.Context, tx Tx) error {
		now, err := s.nowTx(ctx, tx, origin.PlayerID)
		if err != nil {
			return err
		}
		out, err = s.notifyTx(ctx, tx, Notification{
			PlayerID:  origin.PlayerID,
			Kind:      NotifyReminder,
			Payload:   text,
			GuildID:   origin.GuildID,
			ChannelID: origin.ChannelID,
			FireAt:    now.Add(after),
			CreatedAt: now,
		})
		return err
	})
	return out, err
}

// NotificationList is a player's pending notifications as of Now on the
// store clock.
type NotificationList struct {
	Now           time.Time
	Notifications []Notification
}

// PendingNotifications lists the player's notifications that have not fired.
func (s *Service) PendingNotifications(ctx context.Context, playerID string) (NotificationList, error) {
	var out NotificationList
	err := s.read(ctx, playerID, func(ctx context.Context, tx Tx) error {
		now, err := tx.Now(ctx)
		if err != nil {
			return fmt.Errorf("read store clock: %w", err)
		}
		out.Now = now
		out.Notifications, err = tx.PendingNotifications(ctx, playerID)
		return err
	})
	return out, err
}

// CancelReminder cancels one of the player's pending one-shot reminders.
func (s *Service) CancelReminder(ctx context.Context, playerID string, id int64) error {
	return s.read(ctx, playerID, func(ctx context.Context, tx Tx) error {
		ok, err := tx.CancelNotification(ctx, playerID, id)
		if err != nil {
			return fmt.Errorf("cancel notification: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: no pending reminder %d", ErrNotFound, id)
		}
		tx.OnCommit(func() { s.sched.Cancel(NotificationHandle(id)) })
		return nil
	})
}

// CreatePeriodicReminder stores a reminder repeating on a cron schedule.
func (s *Service) CreatePeriodicReminder(ctx context.Context, origin Origin, text, schedule string) (PeriodicReminder, error) {
	var out PeriodicReminder
	text, err := cleanReminderText(text)
	if err != nil {
		return out, err
	}
	schedule = strings.TrimSpace(schedule)
	if err := s.sched.ValidateSchedule(schedule); err != nil {
		return out, fmt.Errorf("%w: bad schedule %q: %v", ErrInvalidInput, schedule, err)
	}
	err = s.read(ctx, origin.PlayerID, func(ctx context.Context, tx Tx) error {
		now, err := tx.Now(ctx)
		if err != nil {
			return fmt.Errorf("read store clock: %w", err)
		}
		r := PeriodicReminder{
			PlayerID:  origin.PlayerID,
			GuildID:   origin.GuildID,
			ChannelID: origin.ChannelID,
			Payload:   text,
			Schedule:  schedule,
			CreatedAt: now,
		}
		r.ID, err = tx.InsertPeriodicReminder(ctx, r)
		if err != nil {
			return fmt.Errorf("insert periodic reminder: %w", err)
		}
		tx.OnCommit(func() {
			if _, err := s.sched.SchedulePeriodic(r); err != nil {
				s.log.Error("schedule periodic reminder", "reminder_id", r.ID, "err", err)
			}
		})
		out = r
		return nil
	})
	return out, err
}

func (s *Service) PeriodicReminders(ctx context.Context, playerID string) ([]PeriodicReminder, error) {
	var out []PeriodicReminder
	err := s.read(ctx, playerID, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.PeriodicReminders(ctx, playerID)
		return err
	})
	return out, err
}

// DeletePeriodicReminder removes one of the player's periodic reminders and
// stops its timer.
func (s *Service) DeletePeriodicReminder(ctx context.Context, playerID string, id int64) error {
	return s.read(ctx, playerID, func(ctx context.Context, tx Tx) error {
		if err := tx.DeletePeriodicReminder(ctx, playerID, id); err != nil {
			return err
		}
		tx.OnCommit(func() { s.sched.Cancel(PeriodicHandle(id)) })
		return nil
	})
}
