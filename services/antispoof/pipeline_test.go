package antispoof

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"placequest-core/pkg/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig() config.AntispoofConfig {
	return config.AntispoofConfig{
		MinAccuracyM:  3,
		MaxAccuracyM:  100,
		MaxSpeedMps:   50,
		FixHistoryTTL: time.Hour,
	}
}

func genuineClaim() Claim {
	return Claim{
		Lat:       -6.2001,
		Lng:       106.8001,
		Accuracy:  12,
		Provider:  "gps",
		Mocked:    false,
		DeviceID:  "device-1",
		Timestamp: time.Now(),
	}
}

func TestCheckAcceptsGenuineClaim(t *testing.T) {
	p := NewPipeline(testConfig(), NewMemoryFixStore(time.Hour))

	verdict, err := p.Check(context.Background(), genuineClaim())
	require.NoError(t, err)
	require.True(t, verdict.OK)
	require.Equal(t, 1.0, verdict.Score)
}

func TestCheckRejectsMockProvider(t *testing.T) {
	p := NewPipeline(testConfig(), nil)

	claim := genuineClaim()
	claim.Provider = "mock"

	verdict, err := p.Check(context.Background(), claim)
	require.NoError(t, err)
	require.False(t, verdict.OK)
	require.Contains(t, verdict.Reason, "mock provider")
}

func TestCheckRejectsMockedFlag(t *testing.T) {
	p := NewPipeline(testConfig(), nil)

	claim := genuineClaim()
	claim.Mocked = true

	verdict, err := p.Check(context.Background(), claim)
	require.NoError(t, err)
	require.False(t, verdict.OK)
	require.Contains(t, verdict.Reason, "mocked location")
}

func TestCheckRejectsImplausibleAccuracy(t *testing.T) {
	p := NewPipeline(testConfig(), nil)

	claim := genuineClaim()
	claim.Accuracy = 350

	verdict, err := p.Check(context.Background(), claim)
	require.NoError(t, err)
	require.False(t, verdict.OK)
	require.Contains(t, verdict.Reason, "exceeds plausible maximum")
}

func TestCheckRejectsMissingAccuracy(t *testing.T) {
	p := NewPipeline(testConfig(), nil)

	claim := genuineClaim()
	claim.Accuracy = 0

	verdict, err := p.Check(context.Background(), claim)
	require.NoError(t, err)
	require.False(t, verdict.OK)
}

func TestCheckLowersScoreForSuspiciouslyPreciseFix(t *testing.T) {
	p := NewPipeline(testConfig(), nil)

	claim := genuineClaim()
	claim.Accuracy = 0.5

	verdict, err := p.Check(context.Background(), claim)
	require.NoError(t, err)
	require.True(t, verdict.OK)
	require.Equal(t, 0.5, verdict.Score)
}

func TestCheckRejectsTeleportation(t *testing.T) {
	history := NewMemoryFixStore(time.Hour)
	p := NewPipeline(testConfig(), history)

	first := genuineClaim()
	first.Timestamp = time.Now().Add(-10 * time.Second)

	verdict, err := p.Check(context.Background(), first)
	require.NoError(t, err)
	require.True(t, verdict.OK)

	// Same device claims to be ~117km away ten seconds later.
	second := genuineClaim()
	second.Lat = -6.9025
	second.Lng = 107.6186

	verdict, err = p.Check(context.Background(), second)
	require.NoError(t, err)
	require.False(t, verdict.OK)
	require.Contains(t, verdict.Reason, "implied speed")
}

func TestCheckAllowsPlausibleMovement(t *testing.T) {
	history := NewMemoryFixStore(time.Hour)
	p := NewPipeline(testConfig(), history)

	first := genuineClaim()
	first.Timestamp = time.Now().Add(-60 * time.Second)

	_, err := p.Check(context.Background(), first)
	require.NoError(t, err)

	// ~111m in one minute, walking pace.
	second := genuineClaim()
	second.Lat = first.Lat + 0.001

	verdict, err := p.Check(context.Background(), second)
	require.NoError(t, err)
	require.True(t, verdict.OK)
}

func TestCheckDoesNotRecordRejectedFix(t *testing.T) {
	history := NewMemoryFixStore(time.Hour)
	p := NewPipeline(testConfig(), history)

	claim := genuineClaim()
	claim.Mocked = true

	_, err := p.Check(context.Background(), claim)
	require.NoError(t, err)

	last, err := history.Last(context.Background(), claim.DeviceID)
	require.NoError(t, err)
	require.Nil(t, last)
}

func TestMemoryFixStoreTTL(t *testing.T) {
	history := NewMemoryFixStore(time.Minute)

	err := history.Record(context.Background(), "device-1", Fix{
		Lat:       1,
		Lng:       1,
		Timestamp: time.Now().Add(-2 * time.Minute),
	})
	require.NoError(t, err)

	last, err := history.Last(context.Background(), "device-1")
	require.NoError(t, err)
	require.Nil(t, last)
}
