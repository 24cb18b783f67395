package portal

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

type ActorRole string

const (
	RoleDoctor  ActorRole = "doctor"
	RolePatient ActorRole = "patient"
)

// ActorRef addresses one actor's private collections.
type ActorRef struct {
	Role ActorRole
	ID   uuid.UUID
}

func DoctorRef(id uuid.UUID) ActorRef  { return ActorRef{Role: RoleDoctor, ID: id} }
func PatientRef(id uuid.UUID) ActorRef { return ActorRef{Role: RolePatient, ID: id} }

type Appointment struct {
	ID                 uuid.UUID         `json:"id"`
	PatientID          uuid.UUID         `json:"patient_id"`
	DoctorID           uuid.UUID         `json:"doctor_id"`
	PatientName        string            `json:"patient_name"`
	Date               string            `json:"date"` // 2006-01-02
	Time               string            `json:"time"` // 15:04
	Reason             string            `json:"reason"`
	Notes              string            `json:"notes,omitempty"`
	Status             AppointmentStatus `json:"status"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	CancelledBy        string            `json:"cancelled_by,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	ConfirmedAt        *time.Time        `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
}

type NotificationKind string

const (
	NotifAppointmentConfirmed NotificationKind = "appointment_confirmed"
	NotifAppointmentCancelled NotificationKind = "appointment_cancelled"
	NotifWelcome              NotificationKind = "welcome"
)

// Notification carries a denormalized snapshot of the appointment at the time
// of the transition, so the recipient never needs to join against anything.
type Notification struct {
	ID          uuid.UUID        `json:"id"`
	UserID      uuid.UUID        `json:"user_id"`
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Read        bool             `json:"read"`
	Appointment *Appointment     `json:"appointment,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type EventAction string

const (
	ActionAppointmentConfirmed EventAction = "appointment_confirmed"
	ActionAppointmentCancelled EventAction = "appointment_cancelled"
)

// GlobalEvent is one entry of the bounded cross-actor event log. It is the only
// channel by which a doctor-side mutation becomes visible to the patient's
// collection. The snapshot makes applying an event a full overwrite, so
// applying the same event twice is harmless.
type GlobalEvent struct {
	ID            uuid.UUID         `json:"id"`
	Action        EventAction       `json:"action"`
	AppointmentID uuid.UUID         `json:"appointment_id"`
	PatientID     uuid.UUID         `json:"patient_id"`
	DoctorID      uuid.UUID         `json:"doctor_id"`
	Status        AppointmentStatus `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	Appointment   Appointment       `json:"appointment"`
	Processed     bool              `json:"processed"`
	Timestamp     time.Time         `json:"timestamp"`
}

type ScheduleSlot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// ScheduleDay is a doctor's bookable grid for one calendar date.
type ScheduleDay struct {
	AvailableSlots []ScheduleSlot `json:"available_slots"`
}

// DefaultScheduleDay builds the standard weekday grid: half-hour slots
// 08:00-11:30 and 14:00-17:30. Weekends have no slots.
func DefaultScheduleDay(date string) ScheduleDay {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return ScheduleDay{}
	}
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return ScheduleDay{}
	}

	times := []string{
		"08:00", "08:30", "09:00", "09:30", "10:00", "10:30", "11:00", "11:30",
		"14:00", "14:30", "15:00", "15:30", "16:00", "16:30", "17:00", "17:30",
	}

	slots := make([]ScheduleSlot, 0, len(times))
	for _, tm := range times {
		slots = append(slots, ScheduleSlot{Time: tm, Available: true})
	}
	return ScheduleDay{AvailableSlots: slots}
}
