package portal

import (
	"context"
	"sync"
)

// MemoryStore is a Store kept entirely in process memory. It backs the test
// suite and local development without a Redis instance. Apply holds the lock
// for the whole batch, giving the same all-or-nothing behavior as the Redis
// pipeline.
type MemoryStore struct {
	mu            sync.Mutex
	appointments  map[ActorRef][]Appointment
	notifications map[ActorRef][]Notification
	schedules     map[ScheduleKey]ScheduleDay
	events        []GlobalEvent

	// FailNext makes the next Apply return ErrPersistence, for exercising
	// the persistence-failure path.
	FailNext bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appointments:  make(map[ActorRef][]Appointment),
		notifications: make(map[ActorRef][]Notification),
		schedules:     make(map[ScheduleKey]ScheduleDay),
	}
}

func (s *MemoryStore) ListAppointments(ctx context.Context, owner ActorRef) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Appointment(nil), s.appointments[owner]...), nil
}

func (s *MemoryStore) ListNotifications(ctx context.Context, owner ActorRef) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notifications[owner]...), nil
}

func (s *MemoryStore) GetScheduleDay(ctx context.Context, key ScheduleKey) (*ScheduleDay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day, ok := s.schedules[key]
	if !ok {
		return nil, nil
	}
	copied := ScheduleDay{AvailableSlots: append([]ScheduleSlot(nil), day.AvailableSlots...)}
	return &copied, nil
}

func (s *MemoryStore) ListEvents(ctx context.Context) ([]GlobalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GlobalEvent(nil), s.events...), nil
}

func (s *MemoryStore) Apply(ctx context.Context, cs ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNext {
		s.FailNext = false
		return ErrPersistence
	}

	for owner, appts := range cs.Appointments {
		s.appointments[owner] = append([]Appointment(nil), appts...)
	}
	for owner, notifs := range cs.Notifications {
		s.notifications[owner] = append([]Notification(nil), notifs...)
	}
	for key, day := range cs.Schedules {
		s.schedules[key] = ScheduleDay{AvailableSlots: append([]ScheduleSlot(nil), day.AvailableSlots...)}
	}
	if cs.HasEvents {
		s.events = append([]GlobalEvent(nil), cs.Events...)
	}

	return nil
}

// SeedAppointments overwrites an owner's collection, for test setup.
func (s *MemoryStore) SeedAppointments(owner ActorRef, appts []Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[owner] = append([]Appointment(nil), appts...)
}

// SeedSchedule overwrites one schedule day, for test setup.
func (s *MemoryStore) SeedSchedule(key ScheduleKey, day ScheduleDay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[key] = day
}
