package portal

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPersistence         = errors.New("persistence failure")
)

// ScheduleKey addresses one doctor's schedule for one calendar date.
type ScheduleKey struct {
	DoctorID uuid.UUID
	Date     string
}

// ChangeSet is one atomic batch of collection overwrites. Nil maps/slices mean
// "leave that collection alone"; a present entry replaces the stored value
// wholesale, which is how the portal has always persisted its collections.
type ChangeSet struct {
	Appointments  map[ActorRef][]Appointment
	Notifications map[ActorRef][]Notification
	Schedules     map[ScheduleKey]ScheduleDay
	Events        []GlobalEvent
	HasEvents     bool
}

func (cs *ChangeSet) PutAppointments(owner ActorRef, appts []Appointment) {
	if cs.Appointments == nil {
		cs.Appointments = make(map[ActorRef][]Appointment)
	}
	cs.Appointments[owner] = appts
}

func (cs *ChangeSet) PutNotifications(owner ActorRef, notifs []Notification) {
	if cs.Notifications == nil {
		cs.Notifications = make(map[ActorRef][]Notification)
	}
	cs.Notifications[owner] = notifs
}

func (cs *ChangeSet) PutSchedule(key ScheduleKey, day ScheduleDay) {
	if cs.Schedules == nil {
		cs.Schedules = make(map[ScheduleKey]ScheduleDay)
	}
	cs.Schedules[key] = day
}

func (cs *ChangeSet) PutEvents(events []GlobalEvent) {
	cs.Events = events
	cs.HasEvents = true
}

func (cs *ChangeSet) Empty() bool {
	return len(cs.Appointments) == 0 &&
		len(cs.Notifications) == 0 &&
		len(cs.Schedules) == 0 &&
		!cs.HasEvents
}

// Store is the keyed persistence medium behind the per-actor collections and
// the global event log. Reads return empty collections for absent keys.
// Apply persists a whole ChangeSet atomically: either every write in the batch
// lands or none does.
type Store interface {
	ListAppointments(ctx context.Context, owner ActorRef) ([]Appointment, error)
	ListNotifications(ctx context.Context, owner ActorRef) ([]Notification, error)
	GetScheduleDay(ctx context.Context, key ScheduleKey) (*ScheduleDay, error)
	ListEvents(ctx context.Context) ([]GlobalEvent, error)

	Apply(ctx context.Context, cs ChangeSet) error
}
