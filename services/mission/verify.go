package mission

import (
	"context"
	"time"

	"placequest-core/pkg/errutil"
	"placequest-core/pkg/geo"
	"placequest-core/services/antispoof"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// GPSEvidence is the location fix a client submits for the GPS step.
type GPSEvidence struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Provider  string    `json:"provider"`
	Mocked    bool      `json:"mocked"`
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
}

// QREvidence carries the scanned on-site token.
type QREvidence struct {
	Token string `json:"token"`
}

// ReelsEvidence references an already-uploaded media object. This core never
// touches media bytes.
type ReelsEvidence struct {
	MediaID  string `json:"media_id"`
	MediaURL string `json:"media_url"`
}

// VerifyGPS runs the GPS step: freshness, accuracy, authenticity, geofence,
// then a conditional advance out of PENDING_GPS. A rejected claim mutates
// nothing; the run stays where it was for a retry.
func (s *Service) VerifyGPS(ctx context.Context, runID, userID string, ev GPSEvidence) (*MissionRun, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("run_id", runID),
		zap.String("user_id", userID),
	}

	run, m, p, err := s.loadStep(ctx, runID, userID, RunStatusPendingGPS, "mission run is not awaiting gps verification")
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if ev.Timestamp.Before(now.Add(-s.cfg.EvidenceMaxAge)) {
		return nil, errutil.ValidationFailed("gps evidence is stale", nil)
	}
	if ev.Timestamp.After(now.Add(s.cfg.ClockSkewTolerance)) {
		return nil, errutil.ValidationFailed("gps evidence timestamp is in the future", nil)
	}
	if ev.Accuracy <= 0 || ev.Accuracy > s.cfg.MaxAccuracyM {
		return nil, errutil.ValidationFailed("gps accuracy exceeds the allowed tolerance", nil)
	}

	verdict, err := s.checker.Check(ctx, antispoof.Claim{
		Lat:       ev.Lat,
		Lng:       ev.Lng,
		Accuracy:  ev.Accuracy,
		Provider:  ev.Provider,
		Mocked:    ev.Mocked,
		DeviceID:  ev.DeviceID,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	if !verdict.OK {
		zap.L().Info("gps claim rejected by anti-spoof pipeline",
			append(opts, zap.String("reason", verdict.Reason))...)
		return nil, errutil.ValidationFailed(verdict.Reason, nil)
	}

	if geo.Distance(ev.Lat, ev.Lng, p.Lat, p.Lng) > m.GeofenceRadiusM {
		return nil, errutil.ValidationFailed("gps fix is outside the mission geofence", nil)
	}

	return s.advance(ctx, run, m, map[string]any{"gps_verified_at": now})
}

// VerifyQR consumes the scanned token and advances out of PENDING_QR. The
// token is destroyed on first use whether or not it matches.
func (s *Service) VerifyQR(ctx context.Context, runID, userID string, ev QREvidence) (*MissionRun, error) {
	run, m, _, err := s.loadStep(ctx, runID, userID, RunStatusPendingQR, "mission run is not awaiting qr verification")
	if err != nil {
		return nil, err
	}

	if ev.Token == "" {
		return nil, errutil.ValidationFailed("qr token is required", nil)
	}

	claims, err := s.tokens.Consume(ctx, ev.Token)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, errutil.ValidationFailed("qr token is invalid, expired or already used", nil)
	}
	if claims.MissionID != run.MissionID || claims.PlaceID != m.PlaceID {
		return nil, errutil.ValidationFailed("qr token does not match this mission", nil)
	}

	return s.advance(ctx, run, m, map[string]any{"qr_verified_at": time.Now()})
}

// VerifyReels records the media reference and advances out of PENDING_REELS.
func (s *Service) VerifyReels(ctx context.Context, runID, userID string, ev ReelsEvidence) (*MissionRun, error) {
	run, m, _, err := s.loadStep(ctx, runID, userID, RunStatusPendingReels, "mission run is not awaiting reels upload")
	if err != nil {
		return nil, err
	}

	if ev.MediaID == "" {
		return nil, errutil.ValidationFailed("reels media reference is required", nil)
	}

	return s.advance(ctx, run, m, map[string]any{"reels_uploaded_at": time.Now()})
}

// loadStep performs the shared preamble of every verification step: run
// exists, caller owns it, it sits in the expected state and has not expired.
func (s *Service) loadStep(ctx context.Context, runID, userID string, want RunStatus, conflictMsg string) (*MissionRun, *Mission, *Place, error) {
	run, err := s.loadRunForUser(ctx, runID, userID)
	if err != nil {
		return nil, nil, nil, err
	}
	if run.Status != want {
		return nil, nil, nil, errutil.Conflict(conflictMsg, nil)
	}
	if time.Now().After(run.ExpiresAt) {
		return nil, nil, nil, errutil.UnprocessableEntity("mission run has expired", nil)
	}

	m, p, err := s.missions.Get(ctx, run.MissionID)
	if err != nil {
		return nil, nil, nil, err
	}

	return run, m, p, nil
}

// advance moves the run from its current pending state to the mission's next
// one, conditioned on the state the caller verified against. Losing the
// condition means the step already completed (or the run expired) elsewhere.
func (s *Service) advance(ctx context.Context, run *MissionRun, m *Mission, stamps map[string]any) (*MissionRun, error) {
	next := m.NextRunStatus(run.Status)

	updates := map[string]any{
		"status":     next,
		"updated_at": time.Now(),
	}
	for k, v := range stamps {
		updates[k] = v
	}

	res := s.db.WithContext(ctx).Model(&MissionRun{}).
		Where("id = ? AND status = ?", run.ID, run.Status).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict("mission run state changed during verification", nil)
	}

	return s.loadRun(ctx, s.db, run.ID)
}
