package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Composite key layout inherited from the portal's storage medium:
// appointments_<role>_<id>, notifications_<role>_<id>,
// doctor_schedule_<doctorID>_<date>, and one global event log key.
const eventLogKey = "ihealth_global_events"

func appointmentsKey(owner ActorRef) string {
	return fmt.Sprintf("appointments_%s_%s", owner.Role, owner.ID)
}

func notificationsKey(owner ActorRef) string {
	return fmt.Sprintf("notifications_%s_%s", owner.Role, owner.ID)
}

func scheduleDayKey(key ScheduleKey) string {
	return fmt.Sprintf("doctor_schedule_%s_%s", key.DoctorID, key.Date)
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) getJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: get %s: %v", ErrPersistence, key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) ListAppointments(ctx context.Context, owner ActorRef) ([]Appointment, error) {
	var appts []Appointment
	if _, err := s.getJSON(ctx, appointmentsKey(owner), &appts); err != nil {
		return nil, err
	}
	return appts, nil
}

func (s *RedisStore) ListNotifications(ctx context.Context, owner ActorRef) ([]Notification, error) {
	var notifs []Notification
	if _, err := s.getJSON(ctx, notificationsKey(owner), &notifs); err != nil {
		return nil, err
	}
	return notifs, nil
}

func (s *RedisStore) GetScheduleDay(ctx context.Context, key ScheduleKey) (*ScheduleDay, error) {
	var day ScheduleDay
	found, err := s.getJSON(ctx, scheduleDayKey(key), &day)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &day, nil
}

func (s *RedisStore) ListEvents(ctx context.Context) ([]GlobalEvent, error) {
	var events []GlobalEvent
	if _, err := s.getJSON(ctx, eventLogKey, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Apply writes the whole batch through a single MULTI/EXEC pipeline, so a
// transition's dual collection writes, notification append and event append
// land together or not at all.
func (s *RedisStore) Apply(ctx context.Context, cs ChangeSet) error {
	if cs.Empty() {
		return nil
	}

	type entry struct {
		key   string
		value any
	}

	var entries []entry
	for owner, appts := range cs.Appointments {
		entries = append(entries, entry{appointmentsKey(owner), appts})
	}
	for owner, notifs := range cs.Notifications {
		entries = append(entries, entry{notificationsKey(owner), notifs})
	}
	for key, day := range cs.Schedules {
		entries = append(entries, entry{scheduleDayKey(key), day})
	}
	if cs.HasEvents {
		entries = append(entries, entry{eventLogKey, cs.Events})
	}

	pipe := s.client.TxPipeline()
	for _, e := range entries {
		raw, err := json.Marshal(e.value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.key, err)
		}
		pipe.Set(ctx, e.key, raw, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: apply changeset: %v", ErrPersistence, err)
	}

	return nil
}
