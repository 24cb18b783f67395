package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/ihealth/portal-sync/internal/portal"
)

type BookAppointmentRequest struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Reason   string `json:"reason"`
	Notes    string `json:"notes,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	DoctorID           uuid.UUID  `json:"doctor_id"`
	PatientName        string     `json:"patient_name"`
	Date               string     `json:"date"`
	Time               string     `json:"time"`
	Reason             string     `json:"reason"`
	Notes              string     `json:"notes,omitempty"`
	Status             string     `json:"status"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

func toAppointmentResponse(a portal.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		PatientName:        a.PatientName,
		Date:               a.Date,
		Time:               a.Time,
		Reason:             a.Reason,
		Notes:              a.Notes,
		Status:             string(a.Status),
		CancellationReason: a.CancellationReason,
		CancelledBy:        a.CancelledBy,
		CreatedAt:          a.CreatedAt,
		ConfirmedAt:        a.ConfirmedAt,
		CancelledAt:        a.CancelledAt,
	}
}

type SyncResponse struct {
	Applied int `json:"applied"`
}

type UnreadCountResponse struct {
	Unread int `json:"unread"`
}

type DoctorResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Specialty    *string   `json:"specialty,omitempty"`
	WorkLocation *string   `json:"work_location,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
