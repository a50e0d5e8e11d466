package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/medrex/medchain/pkg/logger"
	"github.com/medrex/medchain/pkg/monitoring"
	"github.com/medrex/medchain/pkg/rbac"
	"github.com/medrex/medchain/pkg/repository"
	"github.com/medrex/medchain/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminID   = "0xadmin"
	patientID = "0xpatient"
	doctorID  = "0xdoctor"
	doctor2ID = "0xdoctor2"
	day       = 24 * time.Hour
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.Event
}

func (p *recordingPublisher) Publish(e types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Types() []types.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc       *Service
	clock     *fakeClock
	publisher *recordingPublisher
	ctx       context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:     newFakeClock(),
		publisher: &recordingPublisher{},
		ctx:       context.Background(),
	}
	f.svc = NewService(repository.NewMemoryStore(), logger.Discard(),
		WithClock(f.clock),
		WithPublisher(f.publisher),
		WithMetrics(monitoring.NewMetricsCollector("ledger-test")),
	)
	require.NoError(t, f.svc.Bootstrap(f.ctx, adminID))
	return f
}

// withParticipants registers one patient and two doctors
func (f *fixture) withParticipants(t *testing.T) *fixture {
	t.Helper()
	require.NoError(t, f.svc.RegisterUser(f.ctx, patientID, "Pat", types.RolePatient))
	require.NoError(t, f.svc.RegisterUser(f.ctx, doctorID, "Dr. One", types.RoleDoctor))
	require.NoError(t, f.svc.RegisterUser(f.ctx, doctor2ID, "Dr. Two", types.RoleDoctor))
	return f
}

func (f *fixture) createRecord(t *testing.T, owner, payload string) uint64 {
	t.Helper()
	id, err := f.svc.CreateRecord(f.ctx, owner, types.CreateRecordRequest{PayloadReference: payload, RecordType: "lab", Description: "panel"})
	require.NoError(t, err)
	return id
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t)

	admin, err := f.svc.GetUserInfo(f.ctx, adminID)
	require.NoError(t, err)
	assert.True(t, admin.Registered)
	assert.Equal(t, types.RoleAdmin, admin.Role)
	assert.Equal(t, "System Administrator", admin.Name)

	assert.NoError(t, f.svc.Bootstrap(f.ctx, adminID), "repeating bootstrap is a no-op")
	assert.ErrorIs(t, f.svc.Bootstrap(f.ctx, "0xother"), types.ErrAdminAlreadySet)
	assert.ErrorIs(t, f.svc.RegisterUser(f.ctx, adminID, "Admin", types.RoleDoctor), types.ErrAlreadyRegistered)
}

func TestRegisterUser_RoleImmutable(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.RegisterUser(f.ctx, patientID, "Pat", types.RolePatient))
	err := f.svc.RegisterUser(f.ctx, patientID, "Pat Again", types.RoleDoctor)
	assert.ErrorIs(t, err, types.ErrAlreadyRegistered)

	user, err := f.svc.GetUserInfo(f.ctx, patientID)
	require.NoError(t, err)
	assert.Equal(t, types.RolePatient, user.Role)
	assert.Equal(t, "Pat", user.Name)
	assert.Equal(t, f.clock.Now(), user.RegisteredAt)
}

func TestRegisterUser_Validation(t *testing.T) {
	tests := []struct {
		name    string
		caller  string
		user    string
		role    types.Role
		wantErr error
	}{
		{"none role", "0xa", "A", types.RoleNone, types.ErrInvalidRole},
		{"admin role", "0xb", "B", types.RoleAdmin, types.ErrInvalidRole},
		{"empty name", "0xc", "", types.RoleDoctor, types.ErrEmptyName},
		{"invalid role checked before empty name", "0xd", "", types.RoleNone, types.ErrInvalidRole},
		{"registered checked first", adminID, "", types.RoleNone, types.ErrAlreadyRegistered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.svc.RegisterUser(f.ctx, tt.caller, tt.user, tt.role)
			assert.ErrorIs(t, err, tt.wantErr)

			if tt.caller != adminID {
				u, err := f.svc.GetUserInfo(f.ctx, tt.caller)
				require.NoError(t, err)
				assert.False(t, u.Registered)
			}
			assert.Empty(t, f.publisher.Types())
		})
	}
}

func TestGetUserInfo_Unregistered(t *testing.T) {
	f := newFixture(t)

	u, err := f.svc.GetUserInfo(f.ctx, "0xnobody")
	require.NoError(t, err)
	assert.Equal(t, types.UnregisteredUser("0xnobody"), u)
}

func TestCreateRecord_SequentialIDs(t *testing.T) {
	f := newFixture(t).withParticipants(t)
	require.NoError(t, f.svc.RegisterUser(f.ctx, "0xpatient2", "Other", types.RolePatient))

	var mine []uint64
	for i := 0; i < 5; i++ {
		owner := patientID
		if i%2 == 1 {
			owner = "0xpatient2"
		}
		id := f.createRecord(t, owner, "Qm")
		assert.Equal(t, uint64(i+1), id)
		if owner == patientID {
			mine = append(mine, id)
		}
	}

	ids, err := f.svc.GetPatientRecordIDs(f.ctx, patientID)
	require.NoError(t, err)
	assert.Equal(t, mine, ids)

	none, err := f.svc.GetPatientRecordIDs(f.ctx, doctorID)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)

	stats, err := f.svc.GetStats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stats.TotalRecords)
	assert.False(t, stats.EmergencyActive)
}

func TestCreateRecord_Errors(t *testing.T) {
	f := newFixture(t).withParticipants(t)

	tests := []struct {
		name    string
		caller  string
		payload string
		wantErr error
	}{
		{"unregistered caller", "0xstranger", "Qm1", types.ErrNotRegistered},
		{"doctor caller", doctorID, "Qm1", types.ErrWrongRole},
		{"admin caller", adminID, "Qm1", types.ErrWrongRole},
		{"empty payload", patientID, "", types.ErrEmptyPayloadReference},
		{"role checked before payload", doctorID, "", types.ErrWrongRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateRecord(f.ctx, tt.caller, types.CreateRecordRequest{PayloadReference: tt.payload})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	stats, err := f.svc.GetStats(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRecords)

	trail, err := f.svc.GetAuditTrail(f.ctx, patientID)
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestCheckAccess_NeverExpires(t *testing.T) {
	f := newFixture(t).withParticipants(t)
	grantedAt := f.clock.Now()

	require.NoError(t, f.svc.GrantAccess(f.ctx, patientID, doctorID, 0, "ongoing care"))

	f.clock.Advance(100 * 365 * day)
	status, err := f.svc.CheckAccess(f.ctx, patientID, doctorID)
	require.NoError(t, err)
	assert.True(t, status.Valid)
	assert.True(t, status.ExpiresAt.IsZero())
	assert.Equal(t, grantedAt, status.GrantedAt)
	assert.Equal(t, "ongoing care", status.Purpose)
}

func TestCheckAccess_ExpiresAtBoundary(t *testing.T) {
	f := newFixture(t).withParticipants(t)
	grantedAt := f.clock.Now()

	require.NoError(t, f.svc.GrantAccess(f.ctx, patientID, doctorID, day, "consult"))

	status, err := f.svc.CheckAccess(f.ctx, patientID, doctorID)
	require.NoError(t, err)
	assert.True(t, status.Valid)
	assert.Equal(t, grantedAt.Add(day), status.ExpiresAt)

	f.clock.Advance(day - time.Second)
	status, err = f.svc.CheckAccess(f.ctx, patientID, doctorID)
	require.NoError(t, err)
	assert.True(t, status.Valid)

	f.clock.Advance(time.Second)
	status, err = f.svc.CheckAccess(f.ctx, patientID, doctorID)
	require.NoError(t, err)
	assert.False(t, status.Valid, "invalid once now >= grantedAt+duration")
}

func TestCheckAccess_NoGrant(t *testing.T) {
	f := newFixture(t).withParticipants(t)

	status, err := f.svc.CheckAccess(f.ctx, patientID, doctorID)
	require.NoError(t, err)
	assert.Equal(t, types.AccessStatus{}, status)
}

func TestGrantAccessStatus_ReturnsStoredGrant(t *testing.T) {
	f := newFixture(t).withParticipants(t)
	grantedAt := f.clock.Now()

	status, err := f.svc.GrantAccessStatus(f.ctx, patientID, doctorID, time.Hour, "consult")
	require.NoError(t, err)
	assert.Equal(t, types.AccessStatus{
		Valid:     true,
		GrantedAt: grantedAt,
		ExpiresAt: grantedAt.Add(time.Hour),
		Purpose:   "consult",
	}, status)

	stored, err := f.svc.CheckAccess(f.ctx, patientID, doctorID)
	require.NoError(t, err)
	assert.Equal(t, stored, status)

	_, err = f.svc.GrantAccessStatus(f.ctx, patientID, "0xnobody", time.Hour, "")
	assert.ErrorIs(t, err, types.ErrGranteeNotRegistered)
}

func TestGrantAccess_Overwrites(t *testing.T) {
	f := newFixture(t).withParticipants(t)

	require.NoError(t, f.svc.GrantAccess(f.ctx, patientID, doctorID, time.Hour, "first"))
	f.clock.Advance(time.Minute)
	secondAt := f.clock.Now()
	require.NoError(t, f.svc.GrantAccess(f.ctx, patientID, doctorID, 0, "second"))

	f.clock.Advance(2 * time.Hour)
	status, err := f.svc.CheckAccess(f.ctx, patientID, doctorID)
	require.NoError(t, err)
	assert.True(t, status.Valid)
	assert.Equal(t, secondAt, status.GrantedAt)
	assert.True(t, status.ExpiresAt.IsZero())
	assert.Equal(t, "second", status.Purpose)
}

func TestGrantAccess_ReactivatesRevokedGrant(t *testing.T) {
	f := newFixture(t).withParticipants(t)

	require.NoError(t, f.svc.GrantAccess(f.ctx, patientID, doctorID, 0, "a"))
	require.NoError(t, f.svc.RevokeAccess(f.ctx, patientID, doctorID))
	require.NoError(t, f.svc.GrantAccess(f.ctx, patientID, doctorID, 0, "b"))

	status, err := f.svc.CheckAccess(f.ctx, patientID, doctorID)
	require.NoError(t, err)
	assert.True(t, status.Valid)
}

func TestGrantAccess_Errors(t *testing.T) {
	f := newFixture(t).withParticipants(t)

	tests := []struct {
		name    string
		caller  string
		grantee string
		wantErr error
	}{
		{"doctor caller", doctorID, doctor2ID, types.ErrWrongRole},
		{"unregistered caller", "0xstranger", doctorID, types.ErrWrongRole},
		{"admin caller", adminID, doctorID, types.ErrWrongRole},
		{"unregistered grantee", patientID, "0xghost", types.ErrGranteeNotRegistered},
		{"patient grantee", patientID, patientID, types.ErrGranteeNotDoctor},
		{"admin grantee", patientID, adminID, types.ErrGranteeNotDoctor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.GrantAccess(f.ctx, tt.caller, tt.grantee, time.Hour, "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	trail, err := f.svc.GetAuditTrail(f.ctx, patientID)
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestRevokeAccess(t *testing.T) {
	f := newFixture(t).withParticipants(t)

	assert.ErrorIs(t, f.svc.RevokeAccess(f.ctx, patientID, doctorID), types.ErrNoActivePermission)

	require.NoError(t, f.svc.GrantAccess(f.ctx, patientID, doctorID, 0, "care"))
	require.NoError(t, f.svc.RevokeAccess(f.ctx, patientID, doctorID))

	status, err := f.svc.CheckAccess(f.ctx, patientID, doctorID)
	require.NoError(t, err)
	assert.False(t, status.Valid)
	assert.Equal(t, "care", status.Purpose, "revocation keeps the grant terms")

	assert.ErrorIs(t, f.svc.RevokeAccess(f.ctx, patientID, doctorID), types.ErrNoActivePermission)
}

func TestRevokeAccess_ExpiredButActiveSucceeds(t *testing.T) {
	f := newFixture(t).withParticipants(t)

	require.NoError(t, f.svc.GrantAccess(f.ctx, patientID, doctorID, time.Hour, "short"))
	f.clock.Advance(2 * time.Hour)

	status, err := f.svc.CheckAccess(f.ctx, patientID, doctorID)
	require.NoError(t, err)
	require.False(t, status.Valid)

	assert.NoError(t, f.svc.RevokeAccess(f.ctx, patientID, doctorID))
}

func TestGetRecord_Authorization(t *testing.T) {
	f := newFixture(t).withParticipants(t)
	recordID := f.createRecord(t, patientID, "Qm123")
	require.NoError(t, f.svc.GrantAccess(f.ctx, patientID, doctorID, 0, "care"))

	tests := []struct {
		name       string
		caller     string
		wantErr    error
		wantReason rbac.Reason
	}{
		{"owner", patientID, nil, rbac.ReasonOwner},
		{"granted doctor", doctorID, nil, rbac.ReasonGrant},
		{"admin", adminID, nil, rbac.ReasonAdmin},
		{"doctor without grant", doctor2ID, types.ErrUnauthorized, rbac.ReasonDenied},
		{"stranger", "0xstranger", types.ErrUnauthorized, rbac.ReasonDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := f.svc.GetRecord(f.ctx, tt.caller, recordID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, rec)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "Qm123", rec.PayloadReference)
				assert.Equal(t, patientID, rec.OwnerID)
			}

			decision, err := f.svc.Authorize(f.ctx, tt.caller, recordID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantReason, decision.Reason)
			assert.Equal(t, tt.wantErr == nil, decision.Allowed)
		})
	}

	_, err := f.svc.GetRecord(f.ctx, patientID, 99)
	assert.ErrorIs(t, err, types.ErrRecordNotFound)
	_, err = f.svc.GetRecord(f.ctx, patientID, 0)
	assert.ErrorIs(t, err, types.ErrRecordNotFound)
	_, err = f.svc.IsAuthorized(f.ctx, patientID, 99)
	assert.ErrorIs(t, err, types.ErrRecordNotFound)
}

func TestGetRecord_EmergencyOnlyForDoctors(t *testing.T) {
	f := newFixture(t).withParticipants(t)
	require.NoError(t, f.svc.RegisterUser(f.ctx, "0xpatient2", "Other", types.RolePatient))
	recordID := f.createRecord(t, patientID, "Qm123")

	active, err := f.svc.ToggleEmergencyMode(f.ctx, adminID)
	require.NoError(t, err)
	require.True(t, active)

	decision, err := f.svc.Authorize(f.ctx, doctor2ID, recordID)
	require.NoError(t, err)
	assert.Equal(t, rbac.AccessDecision{Allowed: true, Reason: rbac.ReasonEmergency}, decision)

	_, err = f.svc.GetRecord(f.ctx, "0xpatient2", recordID)
	assert.ErrorIs(t, err, types.ErrUnauthorized, "emergency mode does not open records to patients")
	_, err = f.svc.GetRecord(f.ctx, "0xstranger", recordID)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestGetDoctorAccessibleRecords(t *testing.T) {
	f := newFixture(t).withParticipants(t)
	require.NoError(t, f.svc.RegisterUser(f.ctx, "0xpatient2", "Other", types.RolePatient))
	require.NoError(t, f.svc.RegisterUser(f.ctx, "0xpatient3", "Third", types.RolePatient))

	r1 := f.createRecord(t, patientID, "Qm1")
	f.createRecord(t, "0xpatient2", "Qm2")
	r3 := f.createRecord(t, patientID, "Qm3")
	f.createRecord(t, "0xpatient3", "Qm4")

	require.NoError(t, f.svc.GrantAccess(f.ctx, patientID, doctorID, 0, ""))
	require.NoError(t, f.svc.GrantAccess(f.ctx, "0xpatient2", doctorID, time.Hour, ""))
	require.NoError(t, f.svc.GrantAccess(f.ctx, "0xpatient3", doctorID, 0, ""))
	require.NoError(t, f.svc.RevokeAccess(f.ctx, "0xpatient3", doctorID))
	f.clock.Advance(2 * time.Hour)

	_, err := f.svc.ToggleEmergencyMode(f.ctx, adminID)
	require.NoError(t, err)

	ids, err := f.svc.GetDoctorAccessibleRecords(f.ctx, doctorID, doctorID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{r1, r3}, ids)

	// emergency mode opens getRecord but not the listing
	ids, err = f.svc.GetDoctorAccessibleRecords(f.ctx, doctor2ID, doctor2ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
	_, err = f.svc.GetRecord(f.ctx, doctor2ID, r1)
	assert.NoError(t, err)

	_, err = f.svc.GetDoctorAccessibleRecords(f.ctx, doctor2ID, doctorID)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = f.svc.GetDoctorAccessibleRecords(f.ctx, patientID, patientID)
	assert.ErrorIs(t, err, types.ErrWrongRole)
	_, err = f.svc.GetDoctorAccessibleRecords(f.ctx, adminID, doctorID)
	assert.ErrorIs(t, err, types.ErrWrongRole)
	_, err = f.svc.GetDoctorAccessibleRecords(f.ctx, "0xstranger", "0xstranger")
	assert.ErrorIs(t, err, types.ErrWrongRole)
}

func TestAuditTrail_AppendOnly(t *testing.T) {
	f := newFixture(t).withParticipants(t)

	recordID := f.createRecord(t, patientID, "Qm1")
	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.GrantAccess(f.ctx, patientID, doctorID, 0, ""))

	first, err := f.svc.GetAuditTrail(f.ctx, patientID)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// reads, failures and denials do not touch the trail
	_, err = f.svc.GetRecord(f.ctx, patientID, recordID)
	require.NoError(t, err)
	_, err = f.svc.GetRecord(f.ctx, doctor2ID, recordID)
	require.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = f.svc.CheckAccess(f.ctx, patientID, doctorID)
	require.NoError(t, err)
	require.Error(t, f.svc.RevokeAccess(f.ctx, patientID, doctor2ID))

	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.RevokeAccess(f.ctx, patientID, doctorID))

	trail, err := f.svc.GetAuditTrail(f.ctx, patientID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, first, trail[:2], "earlier entries are never mutated")

	assert.Equal(t, types.AuditEntry{ActorID: patientID, RecordID: recordID, Action: types.ActionCreate, Timestamp: trail[0].Timestamp}, trail[0])
	assert.Equal(t, types.ActionGrantAccess, trail[1].Action)
	assert.Zero(t, trail[1].RecordID)
	assert.Equal(t, types.ActionRevokeAccess, trail[2].Action)
	assert.Zero(t, trail[2].RecordID)
	assert.True(t, trail[0].Timestamp.Before(trail[1].Timestamp))
	assert.True(t, trail[1].Timestamp.Before(trail[2].Timestamp))

	for _, actor := range []string{doctorID, doctor2ID, adminID} {
		other, err := f.svc.GetAuditTrail(f.ctx, actor)
		require.NoError(t, err)
		assert.Empty(t, other, "registration, reads and emergency toggles are not audited")
	}
}

func TestGetAuditTrailPage(t *testing.T) {
	f := newFixture(t).withParticipants(t)
	for i := 0; i < 5; i++ {
		f.createRecord(t, patientID, "Qm")
	}

	page, err := f.svc.GetAuditTrailPage(f.ctx, patientID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 1, page.Offset)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, uint64(2), page.Entries[0].RecordID)
	assert.Equal(t, uint64(3), page.Entries[1].RecordID)

	page, err = f.svc.GetAuditTrailPage(f.ctx, patientID, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Empty(t, page.Entries)
	assert.NotNil(t, page.Entries)

	page, err = f.svc.GetAuditTrailPage(f.ctx, patientID, -3, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Offset)
	assert.Len(t, page.Entries, 5)
}

func TestToggleEmergencyMode(t *testing.T) {
	f := newFixture(t).withParticipants(t)

	for _, caller := range []string{patientID, doctorID, "0xstranger"} {
		_, err := f.svc.ToggleEmergencyMode(f.ctx, caller)
		assert.ErrorIs(t, err, types.ErrAdminOnly)
	}

	active, err := f.svc.ToggleEmergencyMode(f.ctx, adminID)
	require.NoError(t, err)
	assert.True(t, active)

	stats, err := f.svc.GetStats(f.ctx)
	require.NoError(t, err)
	assert.True(t, stats.EmergencyActive)

	active, err = f.svc.ToggleEmergencyMode(f.ctx, adminID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestScenario_GrantExpiresAfterDuration(t *testing.T) {
	f := newFixture(t).withParticipants(t)

	r1 := f.createRecord(t, patientID, "Qm123")
	require.NoError(t, f.svc.GrantAccess(f.ctx, patientID, doctorID, 86400*time.Second, "consult"))

	_, err := f.svc.GetRecord(f.ctx, doctorID, r1)
	require.NoError(t, err)

	f.clock.Advance(86400 * time.Second)
	_, err = f.svc.GetRecord(f.ctx, doctorID, r1)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	f.clock.Advance(365 * day)
	rec, err := f.svc.GetRecord(f.ctx, patientID, r1)
	require.NoError(t, err)
	assert.Equal(t, "Qm123", rec.PayloadReference)
}

func TestScenario_EmergencyToggle(t *testing.T) {
	f := newFixture(t).withParticipants(t)
	r1 := f.createRecord(t, patientID, "Qm123")

	_, err := f.svc.GetRecord(f.ctx, doctor2ID, r1)
	require.ErrorIs(t, err, types.ErrUnauthorized)

	_, err = f.svc.ToggleEmergencyMode(f.ctx, adminID)
	require.NoError(t, err)
	_, err = f.svc.GetRecord(f.ctx, doctor2ID, r1)
	require.NoError(t, err)

	_, err = f.svc.ToggleEmergencyMode(f.ctx, adminID)
	require.NoError(t, err)
	_, err = f.svc.GetRecord(f.ctx, doctor2ID, r1)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestEvents_PublishedAfterCommitOnly(t *testing.T) {
	f := newFixture(t).withParticipants(t)

	f.createRecord(t, patientID, "Qm1")
	_, err := f.svc.CreateRecord(f.ctx, doctorID, types.CreateRecordRequest{PayloadReference: "x"})
	require.Error(t, err)
	require.NoError(t, f.svc.GrantAccess(f.ctx, patientID, doctorID, time.Hour, ""))
	require.NoError(t, f.svc.RevokeAccess(f.ctx, patientID, doctorID))
	require.Error(t, f.svc.RevokeAccess(f.ctx, patientID, doctorID))
	_, err = f.svc.ToggleEmergencyMode(f.ctx, adminID)
	require.NoError(t, err)
	_, err = f.svc.GetRecord(f.ctx, patientID, 1)
	require.NoError(t, err)

	assert.Equal(t, []types.EventType{
		types.EventUserRegistered,
		types.EventUserRegistered,
		types.EventUserRegistered,
		types.EventRecordCreated,
		types.EventAccessGranted,
		types.EventAccessRevoked,
		types.EventEmergencyModeToggled,
	}, f.publisher.Types())

	granted := f.publisher.events[4]
	assert.Equal(t, patientID, granted.Data["patient_id"])
	assert.Equal(t, doctorID, granted.Data["doctor_id"])
	assert.Equal(t, f.clock.Now().Add(time.Hour).Unix(), granted.Data["expires_at"])
}

func TestConcurrentCreateRecord_DenseIDs(t *testing.T) {
	f := newFixture(t).withParticipants(t)
	require.NoError(t, f.svc.RegisterUser(f.ctx, "0xpatient2", "Other", types.RolePatient))

	const perPatient = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ids []uint64
	for _, owner := range []string{patientID, "0xpatient2"} {
		for i := 0; i < perPatient; i++ {
			wg.Add(1)
			go func(owner string) {
				defer wg.Done()
				id, err := f.svc.CreateRecord(f.ctx, owner, types.CreateRecordRequest{PayloadReference: "Qm"})
				assert.NoError(t, err)
				_, _ = f.svc.GetStats(f.ctx)
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}(owner)
		}
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	require.Len(t, ids, 2*perPatient)
	for i, id := range ids {
		assert.Equal(t, uint64(i+1), id)
	}
}

type failingStore struct {
	repository.LedgerStore
	err error
}

func (s failingStore) Update(ctx context.Context, fn func(repository.LedgerTx) error) error {
	return s.err
}

func TestStoreFailure_WrappedAsInternal(t *testing.T) {
	cause := errors.New("disk on fire")
	svc := NewService(failingStore{LedgerStore: repository.NewMemoryStore(), err: cause}, logger.Discard())

	err := svc.RegisterUser(context.Background(), patientID, "Pat", types.RolePatient)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	var medErr *types.MedrexError
	require.True(t, errors.As(err, &medErr))
	assert.Equal(t, types.ErrorTypeInternal, medErr.Type)
	assert.Equal(t, types.ErrCodeInternalError, medErr.Code)
}
