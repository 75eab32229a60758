package appointment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insuredRequest(t *testing.T, f *fixture, at string) BookingRequest {
	req := f.request(t, monday, at)
	req.PatientInsuranceID = &f.insurance
	return req
}

func TestBookAppointment_WithInsurance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addWindow(t, time.Monday, "09:00", "12:00")

	res, err := f.svc.BookAppointment(ctx, f.asPatient(), insuredRequest(t, f, "09:00"))
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.NotNil(t, res.Claim)
	require.NotNil(t, res.Appointment.InsuranceClaimID)
	assert.Equal(t, res.Claim.ID, *res.Appointment.InsuranceClaimID)
	assert.Equal(t, ClaimSubmitted, res.Claim.Status)
	assert.True(t, res.Claim.ClaimAmount.Equal(res.Appointment.Price))
	assert.True(t, strings.HasPrefix(res.Claim.Reference, "CLM-"))

	claim, err := f.svc.GetClaim(ctx, f.asPatient(), res.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Claim.ID, claim.ID)

	assert.Equal(t, []string{EventAppointmentCreated, EventClaimLinked}, f.eventTypes())
}

func TestBookAppointment_ClaimCreationFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addWindow(t, time.Monday, "09:00", "12:00")
	f.repo.createErr = errors.New("claims table unavailable")

	res, err := f.svc.BookAppointment(ctx, f.asPatient(), insuredRequest(t, f, "10:00"))
	require.NoError(t, err, "a failed claim never fails the booking")
	require.Len(t, res.Warnings, 1)
	assert.ErrorIs(t, res.Warnings[0], ErrPartialFailure)

	var pf *PartialFailure
	require.True(t, errors.As(res.Warnings[0], &pf))
	assert.Equal(t, "create insurance claim", pf.Step)
	assert.Nil(t, res.Claim)

	stored, err := f.svc.GetAppointment(ctx, f.asPatient(), res.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, stored.Status)
	assert.Nil(t, stored.InsuranceClaimID)
	assert.NotNil(t, stored.PatientInsuranceID)

	assert.Equal(t, []string{EventAppointmentCreated, EventClaimFailed}, f.eventTypes())

	_, err = f.svc.GetClaim(ctx, f.asPatient(), res.Appointment.ID)
	assert.ErrorIs(t, err, ErrClaimNotFound)
}

func TestBookAppointment_ClaimLinkFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addWindow(t, time.Monday, "09:00", "12:00")
	f.repo.linkErr = errors.New("connection reset")

	res, err := f.svc.BookAppointment(ctx, f.asPatient(), insuredRequest(t, f, "11:00"))
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)

	var pf *PartialFailure
	require.True(t, errors.As(res.Warnings[0], &pf))
	assert.Equal(t, "link insurance claim", pf.Step)
	assert.Nil(t, res.Appointment.InsuranceClaimID)

	// the dangling claim is reused once linking works again
	orphan, err := f.repo.GetClaimByAppointment(ctx, res.Appointment.ID)
	require.NoError(t, err)

	f.repo.linkErr = nil
	linked, claim, err := f.svc.RetryInsuranceClaim(ctx, f.asPatient(), res.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, orphan.ID, claim.ID)
	require.NotNil(t, linked.InsuranceClaimID)
	assert.Equal(t, orphan.ID, *linked.InsuranceClaimID)
}

func TestRetryInsuranceClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addWindow(t, time.Monday, "09:00", "12:00")

	f.repo.createErr = errors.New("down")
	res, err := f.svc.BookAppointment(ctx, f.asPatient(), insuredRequest(t, f, "09:00"))
	require.NoError(t, err)
	id := res.Appointment.ID

	_, _, err = f.svc.RetryInsuranceClaim(ctx, f.asPatient(), id)
	assert.ErrorIs(t, err, f.repo.createErr)

	f.repo.createErr = nil

	_, _, err = f.svc.RetryInsuranceClaim(ctx, Identity{UserID: f.otherPatient, Role: RolePatient}, id)
	assert.ErrorIs(t, err, ErrForbidden)

	linked, claim, err := f.svc.RetryInsuranceClaim(ctx, f.asPatient(), id)
	require.NoError(t, err)
	require.NotNil(t, linked.InsuranceClaimID)
	assert.Equal(t, claim.ID, *linked.InsuranceClaimID)

	_, _, err = f.svc.RetryInsuranceClaim(ctx, f.asPatient(), id)
	assert.ErrorIs(t, err, ErrClaimAlreadyLinked)

	plain, err := f.svc.BookAppointment(ctx, f.asPatient(), f.request(t, monday, "10:00"))
	require.NoError(t, err)
	_, _, err = f.svc.RetryInsuranceClaim(ctx, f.asPatient(), plain.Appointment.ID)
	assert.ErrorIs(t, err, ErrNoInsurance)
}

func TestRetryPendingClaims(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addWindow(t, time.Monday, "09:00", "12:00")

	f.repo.createErr = errors.New("down")
	for _, at := range []string{"09:00", "10:00"} {
		_, err := f.svc.BookAppointment(ctx, f.asPatient(), insuredRequest(t, f, at))
		require.NoError(t, err)
	}
	cancelled, err := f.svc.BookAppointment(ctx, f.asPatient(), insuredRequest(t, f, "11:00"))
	require.NoError(t, err)
	_, err = f.svc.CancelAppointment(ctx, f.asPatient(), cancelled.Appointment.ID)
	require.NoError(t, err)

	linked, err := f.svc.RetryPendingClaims(ctx)
	require.NoError(t, err)
	assert.Zero(t, linked)

	f.repo.createErr = nil
	linked, err = f.svc.RetryPendingClaims(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, linked)

	linked, err = f.svc.RetryPendingClaims(ctx)
	require.NoError(t, err)
	assert.Zero(t, linked)

	_, err = f.svc.GetClaim(ctx, f.asPatient(), cancelled.Appointment.ID)
	assert.ErrorIs(t, err, ErrClaimNotFound)
}
