package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ihealth/portal-sync/internal/directory"
	"github.com/ihealth/portal-sync/internal/portal"
	redisclient "github.com/ihealth/portal-sync/internal/redis"
)

func bookAppointmentHandler(svc *portal.Service) http.HandlerFunc {
	return requireRole(portal.RolePatient, func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		appt, err := svc.BookAppointment(r.Context(), portal.BookingRequest{
			PatientID: actor.ID,
			DoctorID:  doctorID,
			Date:      req.Date,
			Time:      req.Time,
			Reason:    req.Reason,
			Notes:     req.Notes,
		})
		if err != nil {
			handlePortalError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	})
}

func confirmAppointmentHandler(svc *portal.Service) http.HandlerFunc {
	return requireRole(portal.RoleDoctor, func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.ConfirmAppointment(r.Context(), actor.ID, id)
		if err != nil {
			handlePortalError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	})
}

func cancelAppointmentHandler(svc *portal.Service) http.HandlerFunc {
	return requireRole(portal.RoleDoctor, func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelAppointmentRequest
		if r.Body != nil {
			// An empty body is fine, the reason is optional.
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		appt, err := svc.CancelAppointment(r.Context(), actor.ID, id, req.Reason)
		if err != nil {
			handlePortalError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	})
}

func listMyAppointmentsHandler(svc *portal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated actor")
			return
		}

		appts, err := svc.ListAppointments(r.Context(), actor)
		if err != nil {
			handlePortalError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for _, a := range appts {
			out = append(out, toAppointmentResponse(a))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listMyNotificationsHandler(svc *portal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated actor")
			return
		}

		unreadOnly := r.URL.Query().Get("unread") == "1"
		notifs, err := svc.ListNotifications(r.Context(), actor, unreadOnly)
		if err != nil {
			handlePortalError(w, err)
			return
		}
		if notifs == nil {
			notifs = []portal.Notification{}
		}
		writeJSON(w, http.StatusOK, notifs)
	}
}

func unreadCountHandler(svc *portal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated actor")
			return
		}

		count, err := svc.UnreadCount(r.Context(), actor)
		if err != nil {
			handlePortalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, UnreadCountResponse{Unread: count})
	}
}

func markNotificationReadHandler(svc *portal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated actor")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_notification_id", "id must be a valid UUID")
			return
		}

		count, err := svc.MarkNotificationRead(r.Context(), actor, id)
		if err != nil {
			handlePortalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, UnreadCountResponse{Unread: count})
	}
}

func markAllNotificationsReadHandler(svc *portal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated actor")
			return
		}

		if err := svc.MarkAllNotificationsRead(r.Context(), actor); err != nil {
			handlePortalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, UnreadCountResponse{Unread: 0})
	}
}

func syncHandler(svc *portal.Service) http.HandlerFunc {
	return requireRole(portal.RolePatient, func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		applied, err := svc.Reconcile(r.Context(), actor.ID)
		if err != nil {
			handlePortalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SyncResponse{Applied: applied})
	})
}

func listDoctorsHandler(dir directory.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := dir.ListDoctors(r.Context(), 100, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		out := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			out = append(out, DoctorResponse{
				ID:           d.ID,
				Name:         d.Name,
				Specialty:    d.Specialty,
				WorkLocation: d.WorkLocation,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func doctorScheduleHandler(svc *portal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		date := r.URL.Query().Get("date")
		if date == "" {
			writeError(w, http.StatusBadRequest, "missing_date", "date query parameter is required")
			return
		}

		day, err := svc.ScheduleFor(r.Context(), doctorID, date)
		if err != nil {
			handlePortalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, day)
	}
}

func handlePortalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, portal.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, directory.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, directory.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, portal.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, portal.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, portal.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, portal.ErrAppointmentBusy):
		writeError(w, http.StatusConflict, "appointment_busy", "appointment is currently being updated, please retry shortly")
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "busy", "resource is currently being updated, please retry shortly")
	case errors.Is(err, portal.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failure", err.Error())
	case errors.Is(err, portal.ErrPersistence):
		writeError(w, http.StatusInternalServerError, "persistence_failure", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
