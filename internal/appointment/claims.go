package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// attachClaim files the insurance claim of an appointment and links it back.
// Either step failing leaves the appointment untouched and returns a
// *PartialFailure.
func (s *Service) attachClaim(ctx context.Context, appt *Appointment) (*Appointment, *InsuranceClaim, error) {
	claim, err := s.repo.CreateInsuranceClaim(ctx, InsuranceClaim{
		AppointmentID:      appt.ID,
		PatientInsuranceID: *appt.PatientInsuranceID,
		ClaimAmount:        appt.Price,
		Status:             ClaimSubmitted,
		Reference:          newClaimReference(),
	})
	if err != nil {
		return nil, nil, s.claimFailed(ctx, appt, "create insurance claim", err)
	}

	linked, err := s.repo.LinkInsuranceClaim(ctx, appt.ID, claim.ID)
	if err != nil {
		// another writer may have linked the same claim in between
		if errors.Is(err, ErrAppointmentNotFound) {
			current, getErr := s.repo.GetAppointmentByID(ctx, appt.ID)
			if getErr == nil && current.InsuranceClaimID != nil && *current.InsuranceClaimID == claim.ID {
				return current, claim, nil
			}
		}
		return nil, nil, s.claimFailed(ctx, appt, "link insurance claim", err)
	}

	s.logEvent(ctx, appt.ID, EventClaimLinked, map[string]any{
		"claim_id":  claim.ID.String(),
		"reference": claim.Reference,
		"amount":    claim.ClaimAmount.String(),
	})
	return linked, claim, nil
}

func (s *Service) claimFailed(ctx context.Context, appt *Appointment, step string, err error) error {
	s.log.Error("insurance claim step failed",
		zap.String("step", step),
		zap.Stringer("appointment_id", appt.ID),
		zap.Error(err),
	)
	s.logEvent(ctx, appt.ID, EventClaimFailed, map[string]any{
		"step":  step,
		"error": err.Error(),
	})
	return &PartialFailure{Step: step, Err: err}
}

// RetryInsuranceClaim re-attaches the claim of an insured appointment whose
// claim step failed at booking time.
func (s *Service) RetryInsuranceClaim(ctx context.Context, who Identity, id uuid.UUID) (*Appointment, *InsuranceClaim, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load appointment: %w", err)
	}
	if !canView(who, appt) {
		return nil, nil, ErrForbidden
	}
	if appt.PatientInsuranceID == nil {
		return nil, nil, ErrNoInsurance
	}
	if appt.InsuranceClaimID != nil {
		return nil, nil, ErrClaimAlreadyLinked
	}
	if appt.Status == StatusCancelled {
		return nil, nil, invalid("status", "cancelled appointments are not claimed")
	}

	linked, claim, err := s.attachClaim(ctx, appt)
	if err != nil {
		return nil, nil, fmt.Errorf("retry insurance claim: %w", err)
	}
	return linked, claim, nil
}

// GetClaim returns the claim filed for an appointment.
func (s *Service) GetClaim(ctx context.Context, who Identity, appointmentID uuid.UUID) (*InsuranceClaim, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !canView(who, appt) {
		return nil, ErrForbidden
	}

	claim, err := s.repo.GetClaimByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return claim, nil
}

// RetryPendingClaims is called periodically by the claim worker. It returns
// how many appointments got their claim linked in this run.
func (s *Service) RetryPendingClaims(ctx context.Context) (int, error) {
	candidates, err := s.repo.FindUnlinkedInsured(ctx, s.claimBatch)
	if err != nil {
		return 0, fmt.Errorf("find unlinked insured appointments: %w", err)
	}

	linked := 0
	for i := range candidates {
		if ctx.Err() != nil {
			return linked, ctx.Err()
		}
		if _, _, err := s.attachClaim(ctx, &candidates[i]); err != nil {
			continue
		}
		linked++
	}

	if len(candidates) > 0 {
		s.log.Info("claim retry run finished",
			zap.Int("candidates", len(candidates)),
			zap.Int("linked", linked),
		)
	}
	return linked, nil
}

func newClaimReference() string {
	return "CLM-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
