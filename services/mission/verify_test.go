package mission

import (
	"context"
	"testing"
	"time"

	"placequest-core/pkg/errutil"

	"github.com/stretchr/testify/require"
)

func validGPSEvidence(m missionOpts, deviceID string) GPSEvidence {
	lat, lng := m.lat, m.lng
	if lat == 0 && lng == 0 {
		lat, lng = -6.2, 106.8
	}
	return GPSEvidence{
		Lat:       lat,
		Lng:       lng,
		Accuracy:  15,
		Provider:  "fused",
		DeviceID:  deviceID,
		Timestamp: time.Now(),
	}
}

func TestVerifyGPSAdvancesToQR(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMission(t, missionOpts{requireQR: true})
	ctx := context.Background()

	run, err := env.svc.StartMissionRun(ctx, "user-1", m.ID)
	require.NoError(t, err)

	got, err := env.svc.VerifyGPS(ctx, run.ID, "user-1", validGPSEvidence(missionOpts{}, "device-1"))
	require.NoError(t, err)
	require.Equal(t, RunStatusPendingQR, got.Status)
	require.NotNil(t, got.GpsVerifiedAt)
}

func TestVerifyGPSSkipsDisabledSteps(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMission(t, missionOpts{})
	ctx := context.Background()

	run, err := env.svc.StartMissionRun(ctx, "user-1", m.ID)
	require.NoError(t, err)

	got, err := env.svc.VerifyGPS(ctx, run.ID, "user-1", validGPSEvidence(missionOpts{}, "device-1"))
	require.NoError(t, err)
	require.Equal(t, RunStatusPendingReview, got.Status)
}

func TestVerifyGPSRejectionLeavesRunUnchanged(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMission(t, missionOpts{requireQR: true})
	ctx := context.Background()

	run, err := env.svc.StartMissionRun(ctx, "user-1", m.ID)
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(ev *GPSEvidence)
	}{
		{"stale timestamp", func(ev *GPSEvidence) { ev.Timestamp = time.Now().Add(-10 * time.Minute) }},
		{"future timestamp", func(ev *GPSEvidence) { ev.Timestamp = time.Now().Add(5 * time.Minute) }},
		{"accuracy too coarse", func(ev *GPSEvidence) { ev.Accuracy = 500 }},
		{"missing accuracy", func(ev *GPSEvidence) { ev.Accuracy = 0 }},
		{"mock provider", func(ev *GPSEvidence) { ev.Provider = "mock" }},
		{"client mocked flag", func(ev *GPSEvidence) { ev.Mocked = true }},
		{"outside geofence", func(ev *GPSEvidence) { ev.Lat += 0.01 }}, // ~1.1km north
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := validGPSEvidence(missionOpts{}, "device-1")
			tc.mutate(&ev)

			_, err := env.svc.VerifyGPS(ctx, run.ID, "user-1", ev)
			requireStatusCode(t, err, errutil.StatusValidationFailed)

			got, err := env.svc.GetMissionRun(ctx, run.ID, "user-1")
			require.NoError(t, err)
			require.Equal(t, RunStatusPendingGPS, got.Status)
			require.Nil(t, got.GpsVerifiedAt)
		})
	}

	// The run is still usable after any number of rejections.
	got, err := env.svc.VerifyGPS(ctx, run.ID, "user-1", validGPSEvidence(missionOpts{}, "device-1"))
	require.NoError(t, err)
	require.Equal(t, RunStatusPendingQR, got.Status)
}

func TestVerifyGPSTeleportRejected(t *testing.T) {
	env := newTestEnv(t)
	jakarta := env.seedMission(t, missionOpts{})
	bandung := env.seedMission(t, missionOpts{lat: -6.914744, lng: 107.60981})
	ctx := context.Background()

	run1, err := env.svc.StartMissionRun(ctx, "user-1", jakarta.ID)
	require.NoError(t, err)

	ev := validGPSEvidence(missionOpts{}, "device-1")
	ev.Timestamp = time.Now().Add(-30 * time.Second)
	_, err = env.svc.VerifyGPS(ctx, run1.ID, "user-1", ev)
	require.NoError(t, err)

	// Same device claims to be ~120km away half a minute later.
	run2, err := env.svc.StartMissionRun(ctx, "user-1", bandung.ID)
	require.NoError(t, err)

	_, err = env.svc.VerifyGPS(ctx, run2.ID, "user-1",
		validGPSEvidence(missionOpts{lat: -6.914744, lng: 107.60981}, "device-1"))
	requireStatusCode(t, err, errutil.StatusValidationFailed)
	require.ErrorContains(t, err, "speed")

	// A different device at the same spot is fine.
	got, err := env.svc.VerifyGPS(ctx, run2.ID, "user-1",
		validGPSEvidence(missionOpts{lat: -6.914744, lng: 107.60981}, "device-2"))
	require.NoError(t, err)
	require.Equal(t, RunStatusPendingReview, got.Status)
}

func TestVerifyGPSWrongStateConflict(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMission(t, missionOpts{})
	ctx := context.Background()

	run := env.seedRunInReview(t, m, "user-1")

	_, err := env.svc.VerifyGPS(ctx, run.ID, "user-1", validGPSEvidence(missionOpts{}, "device-1"))
	requireStatusCode(t, err, errutil.StatusConflict)
}

func TestVerifyGPSExpiredRun(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMission(t, missionOpts{})
	ctx := context.Background()

	run, err := env.svc.StartMissionRun(ctx, "user-1", m.ID)
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&MissionRun{}).
		Where("id = ?", run.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	_, err = env.svc.VerifyGPS(ctx, run.ID, "user-1", validGPSEvidence(missionOpts{}, "device-1"))
	requireStatusCode(t, err, errutil.StatusUnprocessableEntity)
}

func TestVerifyQRConsumesTokenOnce(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMission(t, missionOpts{requireQR: true})
	ctx := context.Background()

	run, err := env.svc.StartMissionRun(ctx, "user-1", m.ID)
	require.NoError(t, err)
	_, err = env.svc.VerifyGPS(ctx, run.ID, "user-1", validGPSEvidence(missionOpts{}, "device-1"))
	require.NoError(t, err)

	token, err := env.svc.IssueQRToken(ctx, m.ID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := env.svc.VerifyQR(ctx, run.ID, "user-1", QREvidence{Token: token})
	require.NoError(t, err)
	require.Equal(t, RunStatusPendingReview, got.Status)
	require.NotNil(t, got.QrVerifiedAt)

	// The token is single-use; a second run cannot replay it.
	run2, err := env.svc.StartMissionRun(ctx, "user-2", m.ID)
	require.NoError(t, err)
	_, err = env.svc.VerifyGPS(ctx, run2.ID, "user-2", validGPSEvidence(missionOpts{}, "device-2"))
	require.NoError(t, err)

	_, err = env.svc.VerifyQR(ctx, run2.ID, "user-2", QREvidence{Token: token})
	requireStatusCode(t, err, errutil.StatusValidationFailed)
}

func TestVerifyQRTokenMissionMismatch(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMission(t, missionOpts{requireQR: true})
	other := env.seedMission(t, missionOpts{requireQR: true})
	ctx := context.Background()

	run, err := env.svc.StartMissionRun(ctx, "user-1", m.ID)
	require.NoError(t, err)
	_, err = env.svc.VerifyGPS(ctx, run.ID, "user-1", validGPSEvidence(missionOpts{}, "device-1"))
	require.NoError(t, err)

	token, err := env.svc.IssueQRToken(ctx, other.ID)
	require.NoError(t, err)

	_, err = env.svc.VerifyQR(ctx, run.ID, "user-1", QREvidence{Token: token})
	requireStatusCode(t, err, errutil.StatusValidationFailed)

	// The mismatched token was still destroyed on first use.
	_, err = env.svc.VerifyQR(ctx, run.ID, "user-1", QREvidence{Token: token})
	requireStatusCode(t, err, errutil.StatusValidationFailed)
}

func TestVerifyQRUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMission(t, missionOpts{requireQR: true})
	ctx := context.Background()

	run, err := env.svc.StartMissionRun(ctx, "user-1", m.ID)
	require.NoError(t, err)
	_, err = env.svc.VerifyGPS(ctx, run.ID, "user-1", validGPSEvidence(missionOpts{}, "device-1"))
	require.NoError(t, err)

	_, err = env.svc.VerifyQR(ctx, run.ID, "user-1", QREvidence{Token: "bogus"})
	requireStatusCode(t, err, errutil.StatusValidationFailed)
}

func TestVerifyReels(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMission(t, missionOpts{requireReels: true})
	ctx := context.Background()

	run, err := env.svc.StartMissionRun(ctx, "user-1", m.ID)
	require.NoError(t, err)
	_, err = env.svc.VerifyGPS(ctx, run.ID, "user-1", validGPSEvidence(missionOpts{}, "device-1"))
	require.NoError(t, err)

	_, err = env.svc.VerifyReels(ctx, run.ID, "user-1", ReelsEvidence{})
	requireStatusCode(t, err, errutil.StatusValidationFailed)

	got, err := env.svc.VerifyReels(ctx, run.ID, "user-1", ReelsEvidence{MediaID: "media-1"})
	require.NoError(t, err)
	require.Equal(t, RunStatusPendingReview, got.Status)
	require.NotNil(t, got.ReelsUploadedAt)
}

func TestFullVerificationFlow(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMission(t, missionOpts{requireQR: true, requireReels: true})
	ctx := context.Background()

	run, err := env.svc.StartMissionRun(ctx, "user-1", m.ID)
	require.NoError(t, err)
	require.Equal(t, RunStatusPendingGPS, run.Status)

	got, err := env.svc.VerifyGPS(ctx, run.ID, "user-1", validGPSEvidence(missionOpts{}, "device-1"))
	require.NoError(t, err)
	require.Equal(t, RunStatusPendingQR, got.Status)

	token, err := env.svc.IssueQRToken(ctx, m.ID)
	require.NoError(t, err)

	got, err = env.svc.VerifyQR(ctx, run.ID, "user-1", QREvidence{Token: token})
	require.NoError(t, err)
	require.Equal(t, RunStatusPendingReels, got.Status)

	got, err = env.svc.VerifyReels(ctx, run.ID, "user-1", ReelsEvidence{MediaID: "media-1"})
	require.NoError(t, err)
	require.Equal(t, RunStatusPendingReview, got.Status)

	approved, wtx, err := env.svc.ApproveAndReward(ctx, run.ID, "")
	require.NoError(t, err)
	require.Equal(t, RunStatusApproved, approved.Status)
	require.Equal(t, int64(1000), wtx.Amount)

	w, err := env.wallets.GetWallet(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), w.Balance)
}
