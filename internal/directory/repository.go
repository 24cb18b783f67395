package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrPatientNotFound = errors.New("patient not found")
)

// Repository is the actor directory backing the portal: who the doctors and
// patients are, independent of their appointment collections.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	ListDoctors(ctx context.Context, limit, offset int) ([]Doctor, error)

	// For the reconcile worker sweep
	ListPatientIDs(ctx context.Context) ([]uuid.UUID, error)
}
