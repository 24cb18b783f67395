package portal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ihealth/portal-sync/internal/config"
	"github.com/ihealth/portal-sync/internal/directory"
	redisclient "github.com/ihealth/portal-sync/internal/redis"
)

var (
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrValidation              = errors.New("invalid request")
	ErrSlotUnavailable         = errors.New("slot is not available")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrAppointmentBusy         = errors.New("appointment is currently being updated, please retry")
)

type Service struct {
	store  Store
	dir    directory.Repository
	locker redisclient.Locker
	cfg    config.Config
	log    zerolog.Logger
}

func NewService(store Store, dir directory.Repository, locker redisclient.Locker, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		dir:    dir,
		locker: locker,
		cfg:    cfg,
		log:    log,
	}
}

// Every stored collection is written as a whole value, so each writer must
// hold the lock of every key it overwrites. Keys are always acquired in the
// same rank order: the slot or appointment key first, then the actor keys in
// sorted order, then the event log.
const eventLogLockKey = "events"

func appointmentLockKey(id uuid.UUID) string {
	return "appointment:" + id.String()
}

func actorLockKey(owner ActorRef) string {
	return fmt.Sprintf("collections:%s:%s", owner.Role, owner.ID)
}

func slotLockKey(doctorID uuid.UUID, date, clock string) string {
	return fmt.Sprintf("slot:%s:%s:%s", doctorID, date, clock)
}

func actorLockKeys(owners ...ActorRef) []string {
	keys := make([]string, 0, len(owners))
	for _, o := range owners {
		keys = append(keys, actorLockKey(o))
	}
	sort.Strings(keys)
	return keys
}

func (s *Service) withLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, keys[0], func(lockCtx context.Context) error {
		return s.withLocks(lockCtx, keys[1:], fn)
	})
}

// ConfirmAppointment applies the pending -> confirmed transition to one of the
// doctor's appointments and propagates it to the patient side.
func (s *Service) ConfirmAppointment(ctx context.Context, doctorID, appointmentID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, doctorID, appointmentID, StatusConfirmed, "")
}

// CancelAppointment applies the pending -> cancelled transition, records the
// doctor's reason, and frees the linked schedule slot if one exists.
func (s *Service) CancelAppointment(ctx context.Context, doctorID, appointmentID uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, doctorID, appointmentID, StatusCancelled, reason)
}

// transition is the single write path for doctor-initiated state changes.
// Everything it touches (doctor collection, patient mirror, schedule slot,
// patient notification, global event log) is persisted in one atomic batch.
func (s *Service) transition(ctx context.Context, doctorID, appointmentID uuid.UUID, target AppointmentStatus, reason string) (*Appointment, error) {
	if target != StatusConfirmed && target != StatusCancelled {
		return nil, fmt.Errorf("%w: target status must be confirmed or cancelled", ErrValidation)
	}

	doctor, err := s.dir.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	var updated *Appointment

	err = s.locker.WithLock(ctx, appointmentLockKey(appointmentID), func(apptCtx context.Context) error {
		doctorRef := DoctorRef(doctorID)

		// First read only locates the appointment. Its owner references never
		// change, so they are safe to use for ranking the collection locks.
		peek, err := s.store.ListAppointments(apptCtx, doctorRef)
		if err != nil {
			return fmt.Errorf("load doctor appointments: %w", err)
		}
		pidx := findAppointment(peek, appointmentID)
		if pidx < 0 {
			return ErrAppointmentNotFound
		}
		patientRef := PatientRef(peek[pidx].PatientID)

		keys := append(actorLockKeys(doctorRef, patientRef), eventLogLockKey)
		return s.withLocks(apptCtx, keys, func(lockCtx context.Context) error {
			doctorAppts, err := s.store.ListAppointments(lockCtx, doctorRef)
			if err != nil {
				return fmt.Errorf("load doctor appointments: %w", err)
			}

			idx := findAppointment(doctorAppts, appointmentID)
			if idx < 0 {
				return ErrAppointmentNotFound
			}
			if doctorAppts[idx].Status != StatusPending {
				return ErrInvalidStatusTransition
			}

			now := time.Now().UTC()
			appt := doctorAppts[idx]
			appt.Status = target
			switch target {
			case StatusConfirmed:
				appt.ConfirmedAt = &now
			case StatusCancelled:
				appt.CancelledAt = &now
				appt.CancellationReason = reason
				appt.CancelledBy = "doctor"
			}
			doctorAppts[idx] = appt

			var cs ChangeSet
			cs.PutAppointments(doctorRef, doctorAppts)

			// Mirror the same change into the patient's collection. An absent id
			// there is a silent no-op; the event log will still carry the change.
			patientAppts, err := s.store.ListAppointments(lockCtx, patientRef)
			if err != nil {
				return fmt.Errorf("load patient appointments: %w", err)
			}
			if mirrorIdx := findAppointment(patientAppts, appointmentID); mirrorIdx >= 0 {
				patientAppts[mirrorIdx] = appt
				cs.PutAppointments(patientRef, patientAppts)
			}

			// A cancellation frees the reserved slot in the doctor's day grid.
			if target == StatusCancelled {
				schedKey := ScheduleKey{DoctorID: doctorID, Date: appt.Date}
				day, err := s.store.GetScheduleDay(lockCtx, schedKey)
				if err != nil {
					return fmt.Errorf("load schedule: %w", err)
				}
				if day != nil {
					for i, slot := range day.AvailableSlots {
						if slot.Time == appt.Time {
							day.AvailableSlots[i].Available = true
							day.AvailableSlots[i].Reason = ""
						}
					}
					cs.PutSchedule(schedKey, *day)
				}
			}

			notif := buildTransitionNotification(doctor.Name, appt, reason, now)
			patientNotifs, err := s.store.ListNotifications(lockCtx, patientRef)
			if err != nil {
				return fmt.Errorf("load patient notifications: %w", err)
			}
			cs.PutNotifications(patientRef, append([]Notification{notif}, patientNotifs...))

			events, err := s.store.ListEvents(lockCtx)
			if err != nil {
				return fmt.Errorf("load event log: %w", err)
			}
			ev := GlobalEvent{
				ID:            uuid.New(),
				Action:        actionFor(target),
				AppointmentID: appt.ID,
				PatientID:     appt.PatientID,
				DoctorID:      doctorID,
				Status:        target,
				Reason:        reason,
				Appointment:   appt,
				Timestamp:     now,
			}
			cs.PutEvents(prependEvent(events, ev, s.cfg.EventLogCapacity))

			if err := s.store.Apply(lockCtx, cs); err != nil {
				return err
			}

			updated = &appt
			return nil
		})
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrAppointmentBusy
		}
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", appointmentID.String()).
		Str("doctor_id", doctorID.String()).
		Str("patient_id", updated.PatientID.String()).
		Str("status", string(target)).
		Msg("appointment transition applied")

	return updated, nil
}

// Reconcile absorbs unprocessed global events addressed to the patient into
// the patient's local collection, oldest first, and marks them processed.
// Returns how many snapshots were applied; events whose appointment is absent
// from the collection are marked processed but not counted.
func (s *Service) Reconcile(ctx context.Context, patientID uuid.UUID) (int, error) {
	applied := 0
	patientRef := PatientRef(patientID)

	err := s.withLocks(ctx, []string{actorLockKey(patientRef), eventLogLockKey}, func(lockCtx context.Context) error {
		events, err := s.store.ListEvents(lockCtx)
		if err != nil {
			return fmt.Errorf("load event log: %w", err)
		}

		var pending []int
		for i, ev := range events {
			if !ev.Processed && ev.PatientID == patientID {
				pending = append(pending, i)
			}
		}
		if len(pending) == 0 {
			return nil
		}

		// Oldest first so that the newest snapshot wins when the same
		// appointment received several events between polls.
		sort.SliceStable(pending, func(a, b int) bool {
			return events[pending[a]].Timestamp.Before(events[pending[b]].Timestamp)
		})

		appts, err := s.store.ListAppointments(lockCtx, patientRef)
		if err != nil {
			return fmt.Errorf("load patient appointments: %w", err)
		}

		for _, i := range pending {
			ev := events[i]
			if idx := findAppointment(appts, ev.AppointmentID); idx >= 0 {
				// Full snapshot overwrite: idempotent by construction.
				appts[idx] = ev.Appointment
				applied++
			}
			events[i].Processed = true
		}

		var cs ChangeSet
		cs.PutAppointments(patientRef, appts)
		cs.PutEvents(events)
		return s.store.Apply(lockCtx, cs)
	})

	if err != nil {
		return 0, err
	}

	if applied > 0 {
		s.log.Info().
			Str("patient_id", patientID.String()).
			Int("applied", applied).
			Msg("reconciled global events")
	}

	return applied, nil
}

// MarkNotificationRead flips the read flag on one notification and returns the
// owner's remaining unread count. An unknown id is a no-op, not an error.
func (s *Service) MarkNotificationRead(ctx context.Context, owner ActorRef, notificationID uuid.UUID) (int, error) {
	unread := 0

	err := s.locker.WithLock(ctx, actorLockKey(owner), func(lockCtx context.Context) error {
		notifs, err := s.store.ListNotifications(lockCtx, owner)
		if err != nil {
			return fmt.Errorf("load notifications: %w", err)
		}

		changed := false
		for i := range notifs {
			if notifs[i].ID == notificationID && !notifs[i].Read {
				notifs[i].Read = true
				changed = true
			}
		}

		if changed {
			var cs ChangeSet
			cs.PutNotifications(owner, notifs)
			if err := s.store.Apply(lockCtx, cs); err != nil {
				return err
			}
		}

		unread = countUnread(notifs)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return unread, nil
}

// MarkAllNotificationsRead marks the owner's whole queue read.
func (s *Service) MarkAllNotificationsRead(ctx context.Context, owner ActorRef) error {
	return s.locker.WithLock(ctx, actorLockKey(owner), func(lockCtx context.Context) error {
		notifs, err := s.store.ListNotifications(lockCtx, owner)
		if err != nil {
			return fmt.Errorf("load notifications: %w", err)
		}

		changed := false
		for i := range notifs {
			if !notifs[i].Read {
				notifs[i].Read = true
				changed = true
			}
		}
		if !changed {
			return nil
		}

		var cs ChangeSet
		cs.PutNotifications(owner, notifs)
		return s.store.Apply(lockCtx, cs)
	})
}

func (s *Service) ListAppointments(ctx context.Context, owner ActorRef) ([]Appointment, error) {
	return s.store.ListAppointments(ctx, owner)
}

func (s *Service) ListNotifications(ctx context.Context, owner ActorRef, unreadOnly bool) ([]Notification, error) {
	notifs, err := s.store.ListNotifications(ctx, owner)
	if err != nil {
		return nil, err
	}
	if !unreadOnly {
		return notifs, nil
	}
	var unread []Notification
	for _, n := range notifs {
		if !n.Read {
			unread = append(unread, n)
		}
	}
	return unread, nil
}

func (s *Service) UnreadCount(ctx context.Context, owner ActorRef) (int, error) {
	notifs, err := s.store.ListNotifications(ctx, owner)
	if err != nil {
		return 0, err
	}
	return countUnread(notifs), nil
}

// BookingRequest is a patient-side request for a pending appointment.
type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      string // 2006-01-02
	Time      string // 15:04
	Reason    string
	Notes     string
}

func (r BookingRequest) validate() error {
	if r.Date == "" || r.Time == "" || r.Reason == "" {
		return fmt.Errorf("%w: date, time and reason are required", ErrValidation)
	}
	if _, err := time.Parse("2006-01-02", r.Date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	if _, err := time.Parse("15:04", r.Time); err != nil {
		return fmt.Errorf("%w: time must be HH:MM", ErrValidation)
	}
	return nil
}

// BookAppointment reserves a slot in the doctor's day grid and writes a
// pending appointment into both actors' collections.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	patient, err := s.dir.GetPatientByID(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.dir.GetDoctorByID(ctx, req.DoctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	patientRef := PatientRef(req.PatientID)
	doctorRef := DoctorRef(req.DoctorID)
	keys := append([]string{slotLockKey(req.DoctorID, req.Date, req.Time)}, actorLockKeys(doctorRef, patientRef)...)

	var created *Appointment

	err = s.withLocks(ctx, keys, func(lockCtx context.Context) error {
		schedKey := ScheduleKey{DoctorID: req.DoctorID, Date: req.Date}
		day, err := s.store.GetScheduleDay(lockCtx, schedKey)
		if err != nil {
			return fmt.Errorf("load schedule: %w", err)
		}
		if day == nil {
			d := DefaultScheduleDay(req.Date)
			day = &d
		}

		slotIdx := -1
		for i, slot := range day.AvailableSlots {
			if slot.Time == req.Time {
				slotIdx = i
				break
			}
		}
		if slotIdx < 0 || !day.AvailableSlots[slotIdx].Available {
			return ErrSlotUnavailable
		}

		now := time.Now().UTC()
		appt := Appointment{
			ID:          uuid.New(),
			PatientID:   req.PatientID,
			DoctorID:    req.DoctorID,
			PatientName: patient.Name,
			Date:        req.Date,
			Time:        req.Time,
			Reason:      req.Reason,
			Notes:       req.Notes,
			Status:      StatusPending,
			CreatedAt:   now,
		}

		day.AvailableSlots[slotIdx].Available = false
		day.AvailableSlots[slotIdx].Reason = "Déjà réservé"

		patientAppts, err := s.store.ListAppointments(lockCtx, patientRef)
		if err != nil {
			return fmt.Errorf("load patient appointments: %w", err)
		}
		doctorAppts, err := s.store.ListAppointments(lockCtx, doctorRef)
		if err != nil {
			return fmt.Errorf("load doctor appointments: %w", err)
		}

		var cs ChangeSet
		cs.PutAppointments(patientRef, append(patientAppts, appt))
		cs.PutAppointments(doctorRef, append(doctorAppts, appt))
		cs.PutSchedule(schedKey, *day)

		if err := s.store.Apply(lockCtx, cs); err != nil {
			return err
		}

		created = &appt
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", req.DoctorID.String()).
		Str("patient_id", req.PatientID.String()).
		Str("date", req.Date).
		Str("time", req.Time).
		Msg("appointment booked")

	return created, nil
}

// ScheduleFor returns the doctor's grid for one date, generating the default
// weekday grid when none is stored and masking slots already taken by the
// doctor's booked appointments.
func (s *Service) ScheduleFor(ctx context.Context, doctorID uuid.UUID, date string) (*ScheduleDay, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}

	day, err := s.store.GetScheduleDay(ctx, ScheduleKey{DoctorID: doctorID, Date: date})
	if err != nil {
		return nil, err
	}
	if day != nil {
		return day, nil
	}

	generated := DefaultScheduleDay(date)

	appts, err := s.store.ListAppointments(ctx, DoctorRef(doctorID))
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool)
	for _, appt := range appts {
		if appt.Date == date && appt.Status != StatusCancelled {
			taken[appt.Time] = true
		}
	}
	for i, slot := range generated.AvailableSlots {
		if taken[slot.Time] {
			generated.AvailableSlots[i].Available = false
			generated.AvailableSlots[i].Reason = "Déjà réservé"
		}
	}

	return &generated, nil
}

// SendWelcomeNotification seeds a new patient's queue with the portal's
// greeting message.
func (s *Service) SendWelcomeNotification(ctx context.Context, patientID uuid.UUID) error {
	patient, err := s.dir.GetPatientByID(ctx, patientID)
	if err != nil {
		return fmt.Errorf("load patient: %w", err)
	}

	owner := PatientRef(patientID)
	return s.locker.WithLock(ctx, actorLockKey(owner), func(lockCtx context.Context) error {
		notifs, err := s.store.ListNotifications(lockCtx, owner)
		if err != nil {
			return fmt.Errorf("load notifications: %w", err)
		}

		notif := Notification{
			ID:        uuid.New(),
			UserID:    patientID,
			Kind:      NotifWelcome,
			Title:     "Bienvenue sur iHealth",
			Message:   fmt.Sprintf("Bonjour %s, bienvenue sur votre espace patient.", patient.Name),
			CreatedAt: time.Now().UTC(),
		}

		var cs ChangeSet
		cs.PutNotifications(owner, append([]Notification{notif}, notifs...))
		return s.store.Apply(lockCtx, cs)
	})
}

// Helpers

func findAppointment(appts []Appointment, id uuid.UUID) int {
	for i := range appts {
		if appts[i].ID == id {
			return i
		}
	}
	return -1
}

func countUnread(notifs []Notification) int {
	n := 0
	for _, notif := range notifs {
		if !notif.Read {
			n++
		}
	}
	return n
}

func actionFor(status AppointmentStatus) EventAction {
	if status == StatusCancelled {
		return ActionAppointmentCancelled
	}
	return ActionAppointmentConfirmed
}

// prependEvent puts the newest event at the head of the log and evicts the
// oldest entries once the log grows past capacity.
func prependEvent(events []GlobalEvent, ev GlobalEvent, capacity int) []GlobalEvent {
	out := append([]GlobalEvent{ev}, events...)
	if len(out) > capacity {
		out = out[:capacity]
	}
	return out
}

func buildTransitionNotification(doctorName string, appt Appointment, reason string, now time.Time) Notification {
	snapshot := appt

	var kind NotificationKind
	var title, message string

	date := formatDateFR(appt.Date)

	switch appt.Status {
	case StatusCancelled:
		kind = NotifAppointmentCancelled
		title = "Rendez-vous annulé"
		suffix := "Veuillez reprendre rendez-vous."
		if reason != "" {
			suffix = "Raison: " + reason
		}
		message = fmt.Sprintf("Votre rendez-vous avec Dr. %s le %s à %s a été annulé. %s",
			doctorName, date, appt.Time, suffix)
	default:
		kind = NotifAppointmentConfirmed
		title = "Rendez-vous confirmé"
		message = fmt.Sprintf("Votre rendez-vous avec Dr. %s le %s à %s a été confirmé.",
			doctorName, date, appt.Time)
	}

	return Notification{
		ID:          uuid.New(),
		UserID:      appt.PatientID,
		Kind:        kind,
		Title:       title,
		Message:     message,
		Appointment: &snapshot,
		CreatedAt:   now,
	}
}

// formatDateFR renders a stored 2006-01-02 date the way the portal displays
// it to patients, dd/mm/yyyy.
func formatDateFR(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("02/01/2006")
}
