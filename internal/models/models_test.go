package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
)

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in      string
		want    Platform
		wantErr bool
	}{
		{in: "web", want: PlatformWeb},
		{in: " Mobile ", want: PlatformMobile},
		{in: "desktop", want: PlatformDesktop},
		{in: "tv", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlatform(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrInvalidPlatform)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLicense_IsValidDependsOnlyOnClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trialEnd := now.Add(24 * time.Hour)
	lic := &License{Status: LicenseTrial, TrialEndDate: &trialEnd, MaxMembers: 3}

	assert.True(t, lic.IsValid(now))
	assert.True(t, lic.IsValid(trialEnd))
	assert.False(t, lic.IsValid(trialEnd.Add(time.Second)))
	assert.Equal(t, LicenseTrial, lic.Status)
	assert.Equal(t, LicenseExpired, lic.EffectiveStatus(trialEnd.Add(time.Second)))
}

func TestLicense_IsValidByStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		lic  *License
		want bool
	}{
		{name: "nil license", lic: nil, want: false},
		{name: "active in window", lic: &License{Status: LicenseActive, EndDate: &future}, want: true},
		{name: "active past end", lic: &License{Status: LicenseActive, EndDate: &past}, want: false},
		{name: "active without end", lic: &License{Status: LicenseActive}, want: false},
		{name: "trial uses trial end only", lic: &License{Status: LicenseTrial, EndDate: &future, TrialEndDate: &past}, want: false},
		{name: "expired never valid", lic: &License{Status: LicenseExpired, EndDate: &future}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.lic.IsValid(now))
		})
	}
}

func TestLicense_AdjustSeatsBounded(t *testing.T) {
	now := time.Now()
	end := now.Add(time.Hour)
	lic := &License{Status: LicenseActive, EndDate: &end, MaxMembers: 2}

	require.NoError(t, lic.AdjustSeats(1, now))
	require.NoError(t, lic.AdjustSeats(1, now))
	assert.ErrorIs(t, lic.AdjustSeats(1, now), apperr.ErrSeatLimitReached)
	assert.Equal(t, 2, lic.CurrentMembers)

	require.NoError(t, lic.AdjustSeats(-2, now))
	assert.ErrorIs(t, lic.AdjustSeats(-1, now), apperr.ErrNoSeatsInUse)
	assert.Equal(t, 0, lic.CurrentMembers)

	expired := &License{Status: LicenseActive, EndDate: &now, MaxMembers: 5}
	assert.ErrorIs(t, expired.AdjustSeats(1, now.Add(time.Minute)), apperr.ErrLicenseExpired)
}

func TestNormalizePermissions(t *testing.T) {
	got, err := NormalizePermissions([]string{"warehouse.view", "warehouse.create", "warehouse.view"})
	require.NoError(t, err)
	assert.Equal(t, []string{"warehouse.create", "warehouse.view"}, got)

	got, err = NormalizePermissions([]string{})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = NormalizePermissions(nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = NormalizePermissions([]string{"warehouse.create", "bogus.key"})
	var upe *apperr.UnknownPermissionError
	require.ErrorAs(t, err, &upe)
	assert.Equal(t, "bogus.key", upe.Key)
}

func TestApplyApproval(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 0, 5)
	existing := &License{ID: "lic", SubscriberID: "u1", MaxMembers: 3, CurrentMembers: 2, Status: LicenseActive, EndDate: &end}

	t.Run("new without license", func(t *testing.T) {
		req := &LicenseRequest{UserID: "u1", RequestedMembers: 5, Duration: DurationMonth, Type: RequestNew}
		got, err := ApplyApproval(nil, req, "new-id", now)
		require.NoError(t, err)
		assert.Equal(t, "new-id", got.ID)
		assert.Equal(t, 5, got.MaxMembers)
		assert.Equal(t, 0, got.CurrentMembers)
		assert.Equal(t, now.AddDate(0, 1, 0), *got.EndDate)
		assert.True(t, got.IsValid(now))
	})

	t.Run("renew extends from current end", func(t *testing.T) {
		req := &LicenseRequest{UserID: "u1", RequestedMembers: 4, Duration: DurationQuarter, Type: RequestRenew}
		got, err := ApplyApproval(existing, req, "ignored", now)
		require.NoError(t, err)
		assert.Equal(t, end.AddDate(0, 3, 0), *got.EndDate)
		assert.Equal(t, 4, got.MaxMembers)
		assert.Equal(t, 3, existing.MaxMembers)
	})

	t.Run("renew below occupied seats", func(t *testing.T) {
		req := &LicenseRequest{UserID: "u1", RequestedMembers: 1, Duration: DurationMonth, Type: RequestRenew}
		_, err := ApplyApproval(existing, req, "ignored", now)
		assert.ErrorIs(t, err, apperr.ErrSeatLimitReached)
	})

	t.Run("add raises maximum", func(t *testing.T) {
		req := &LicenseRequest{UserID: "u1", RequestedMembers: 2, Duration: DurationMonth, Type: RequestAdd}
		got, err := ApplyApproval(existing, req, "ignored", now)
		require.NoError(t, err)
		assert.Equal(t, 5, got.MaxMembers)
		assert.Equal(t, end, *got.EndDate)
	})

	t.Run("add without license", func(t *testing.T) {
		req := &LicenseRequest{UserID: "u1", RequestedMembers: 2, Type: RequestAdd}
		_, err := ApplyApproval(nil, req, "ignored", now)
		assert.ErrorIs(t, err, apperr.ErrLicenseNotFound)
	})
}
