package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihealth/portal-sync/internal/config"
	"github.com/ihealth/portal-sync/internal/directory"
	"github.com/ihealth/portal-sync/internal/portal"
)

const testSecret = "test-secret"

type stubDirectory struct {
	doctors  map[uuid.UUID]*directory.Doctor
	patients map[uuid.UUID]*directory.Patient
}

func (d *stubDirectory) GetDoctorByID(ctx context.Context, id uuid.UUID) (*directory.Doctor, error) {
	if doc, ok := d.doctors[id]; ok {
		return doc, nil
	}
	return nil, directory.ErrDoctorNotFound
}

func (d *stubDirectory) GetPatientByID(ctx context.Context, id uuid.UUID) (*directory.Patient, error) {
	if p, ok := d.patients[id]; ok {
		return p, nil
	}
	return nil, directory.ErrPatientNotFound
}

func (d *stubDirectory) ListDoctors(ctx context.Context, limit, offset int) ([]directory.Doctor, error) {
	var out []directory.Doctor
	for _, doc := range d.doctors {
		out = append(out, *doc)
	}
	return out, nil
}

func (d *stubDirectory) ListPatientIDs(ctx context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type testEnv struct {
	router    http.Handler
	store     *portal.MemoryStore
	doctorID  uuid.UUID
	patientID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	doctorID := uuid.New()
	patientID := uuid.New()

	dir := &stubDirectory{
		doctors: map[uuid.UUID]*directory.Doctor{
			doctorID: {ID: doctorID, Name: "Martin Dupont"},
		},
		patients: map[uuid.UUID]*directory.Patient{
			patientID: {ID: patientID, Name: "Claire Moreau"},
		},
	}

	store := portal.NewMemoryStore()
	cfg := config.Config{EventLogCapacity: 100, JWTSecret: testSecret}
	svc := portal.NewService(store, dir, passLocker{}, cfg, zerolog.Nop())

	router := NewRouter(RouterConfig{
		Service:   svc,
		Directory: dir,
		JWTSecret: testSecret,
		Env:       "test",
		Version:   "test",
		Logger:    zerolog.Nop(),
	})

	return &testEnv{router: router, store: store, doctorID: doctorID, patientID: patientID}
}

func signToken(t *testing.T, role string, actorID uuid.UUID) string {
	t.Helper()

	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	e := newTestEnv(t)

	t.Run("missing token", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/me/appointments", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/me/appointments", "not-a-jwt", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong role for confirm", func(t *testing.T) {
		token := signToken(t, "patient", e.patientID)
		rec := e.do(t, http.MethodPost, "/appointments/"+uuid.NewString()+"/confirm", token, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown role", func(t *testing.T) {
		token := signToken(t, "assistant", e.patientID)
		rec := e.do(t, http.MethodGet, "/me/appointments", token, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestBookConfirmSyncFlow(t *testing.T) {
	e := newTestEnv(t)

	patientToken := signToken(t, "patient", e.patientID)
	doctorToken := signToken(t, "doctor", e.doctorID)

	// Patient books.
	rec := e.do(t, http.MethodPost, "/appointments", patientToken, BookAppointmentRequest{
		DoctorID: e.doctorID.String(),
		Date:     "2025-01-15",
		Time:     "09:00",
		Reason:   "Consultation de routine",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "pending", created.Status)

	// Doctor confirms.
	rec = e.do(t, http.MethodPost, "/appointments/"+created.ID.String()+"/confirm", doctorToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var confirmed AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &confirmed))
	assert.Equal(t, "confirmed", confirmed.Status)
	assert.NotNil(t, confirmed.ConfirmedAt)

	// Patient has an unread notification.
	rec = e.do(t, http.MethodGet, "/me/notifications/unread-count", patientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var unread UnreadCountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &unread))
	assert.Equal(t, 1, unread.Unread)

	// Patient syncs; the mirror write already landed, so the event applies
	// cleanly and the collection stays confirmed.
	rec = e.do(t, http.MethodPost, "/me/sync", patientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sync SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sync))
	assert.Equal(t, 1, sync.Applied)

	rec = e.do(t, http.MethodGet, "/me/appointments", patientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var appts []AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appts))
	require.Len(t, appts, 1)
	assert.Equal(t, "confirmed", appts[0].Status)

	// Double confirm is a conflict.
	rec = e.do(t, http.MethodPost, "/appointments/"+created.ID.String()+"/confirm", doctorToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	e := newTestEnv(t)

	patientToken := signToken(t, "patient", e.patientID)
	doctorToken := signToken(t, "doctor", e.doctorID)

	rec := e.do(t, http.MethodPost, "/appointments", patientToken, BookAppointmentRequest{
		DoctorID: e.doctorID.String(),
		Date:     "2025-01-15",
		Time:     "10:00",
		Reason:   "Suivi de traitement",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = e.do(t, http.MethodPost, "/appointments/"+created.ID.String()+"/cancel", doctorToken,
		CancelAppointmentRequest{Reason: "Agenda complet"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var cancelled AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, "Agenda complet", cancelled.CancellationReason)
	assert.Equal(t, "doctor", cancelled.CancelledBy)

	t.Run("unknown appointment", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/appointments/"+uuid.NewString()+"/cancel", doctorToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDoctorScheduleEndpoint(t *testing.T) {
	e := newTestEnv(t)
	token := signToken(t, "patient", e.patientID)

	rec := e.do(t, http.MethodGet, "/doctors/"+e.doctorID.String()+"/schedule?date=2025-01-15", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var day portal.ScheduleDay
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &day))
	assert.Len(t, day.AvailableSlots, 16)

	t.Run("missing date", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/doctors/"+e.doctorID.String()+"/schedule", token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMarkNotificationReadEndpoints(t *testing.T) {
	e := newTestEnv(t)

	patientToken := signToken(t, "patient", e.patientID)
	doctorToken := signToken(t, "doctor", e.doctorID)

	rec := e.do(t, http.MethodPost, "/appointments", patientToken, BookAppointmentRequest{
		DoctorID: e.doctorID.String(),
		Date:     "2025-01-15",
		Time:     "14:00",
		Reason:   "Bilan annuel",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = e.do(t, http.MethodPost, "/appointments/"+created.ID.String()+"/confirm", doctorToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/me/notifications?unread=1", patientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notifs []portal.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notifs))
	require.Len(t, notifs, 1)

	rec = e.do(t, http.MethodPost, "/me/notifications/"+notifs[0].ID.String()+"/read", patientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var unread UnreadCountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &unread))
	assert.Zero(t, unread.Unread)

	rec = e.do(t, http.MethodPost, "/me/notifications/read-all", patientToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
