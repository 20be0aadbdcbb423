package mission

import (
	"fmt"
	"time"
)

type MissionStatus string

const (
	MissionStatusDraft    MissionStatus = "DRAFT"
	MissionStatusActive   MissionStatus = "ACTIVE"
	MissionStatusArchived MissionStatus = "ARCHIVED"
)

type RunStatus string

const (
	RunStatusPendingGPS    RunStatus = "PENDING_GPS"
	RunStatusPendingQR     RunStatus = "PENDING_QR"
	RunStatusPendingReels  RunStatus = "PENDING_REELS"
	RunStatusPendingReview RunStatus = "PENDING_REVIEW"
	RunStatusApproved      RunStatus = "APPROVED"
	RunStatusRejected      RunStatus = "REJECTED"
	RunStatusExpired       RunStatus = "EXPIRED"
	RunStatusCancelled     RunStatus = "CANCELLED"
)

// PendingStatuses are the non-terminal states a run can sit in. Any of them
// may still reach EXPIRED or CANCELLED.
var PendingStatuses = []RunStatus{
	RunStatusPendingGPS,
	RunStatusPendingQR,
	RunStatusPendingReels,
	RunStatusPendingReview,
}

func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusApproved, RunStatusRejected, RunStatusExpired, RunStatusCancelled:
		return true
	}
	return false
}

func (s RunStatus) Pending() bool {
	return !s.Terminal()
}

// Place is the physical location a mission is bound to.
type Place struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Name      string    `gorm:"column:name;type:varchar(255);not null"`
	Lat       float64   `gorm:"column:lat;not null"`
	Lng       float64   `gorm:"column:lng;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// Mission is the proof-of-visit campaign definition. It is owned by a
// separate management surface and read-only to this core.
type Mission struct {
	ID              string        `gorm:"column:id;primaryKey"`
	PlaceID         string        `gorm:"column:place_id;index;not null"`
	Title           string        `gorm:"column:title;type:varchar(255);not null"`
	Status          MissionStatus `gorm:"column:status;type:varchar(32);not null;default:'DRAFT'"`
	RewardAmount    int64         `gorm:"column:reward_amount;not null"`
	MaxRunsPerUser  int           `gorm:"column:max_runs_per_user"`
	MaxTotalRuns    int           `gorm:"column:max_total_runs"`
	StartAt         *time.Time    `gorm:"column:start_at"`
	EndAt           *time.Time    `gorm:"column:end_at"`
	GeofenceRadiusM float64       `gorm:"column:geofence_radius_m;not null"`
	RequireQR       bool          `gorm:"column:require_qr;not null"`
	RequireReels    bool          `gorm:"column:require_reels;not null"`
	CreatedAt       time.Time     `gorm:"column:created_at"`
	UpdatedAt       time.Time     `gorm:"column:updated_at"`
}

// InWindow reports whether the mission is currently open based on its time
// range. Status is checked separately by callers.
func (m *Mission) InWindow(now time.Time) bool {
	if m.StartAt != nil && now.Before(*m.StartAt) {
		return false
	}
	if m.EndAt != nil && now.After(*m.EndAt) {
		return false
	}
	return true
}

// NextRunStatus returns the pending state that follows cur for this
// mission's verification spec, skipping steps the mission does not require.
func (m *Mission) NextRunStatus(cur RunStatus) RunStatus {
	switch cur {
	case RunStatusPendingGPS:
		if m.RequireQR {
			return RunStatusPendingQR
		}
		fallthrough
	case RunStatusPendingQR:
		if m.RequireReels {
			return RunStatusPendingReels
		}
		fallthrough
	case RunStatusPendingReels:
		return RunStatusPendingReview
	}
	return cur
}

// MissionRun is one user's attempt at a mission. Mutated only through
// conditional updates; ActiveLockKey is non-null exactly while the run is
// non-terminal, and its uniqueness enforces at most one active run per
// (user, mission).
type MissionRun struct {
	ID              string     `gorm:"column:id;primaryKey"`
	UserID          string     `gorm:"column:user_id;index;not null"`
	MissionID       string     `gorm:"column:mission_id;index;not null"`
	Status          RunStatus  `gorm:"column:status;type:varchar(32);not null"`
	ActiveLockKey   *string    `gorm:"column:active_lock_key;uniqueIndex"`
	GpsVerifiedAt   *time.Time `gorm:"column:gps_verified_at"`
	QrVerifiedAt    *time.Time `gorm:"column:qr_verified_at"`
	ReelsUploadedAt *time.Time `gorm:"column:reels_uploaded_at"`
	ReviewedAt      *time.Time `gorm:"column:reviewed_at"`
	RejectedAt      *time.Time `gorm:"column:rejected_at"`
	RejectReason    string     `gorm:"column:reject_reason;type:text"`
	ExpiresAt       time.Time  `gorm:"column:expires_at;index;not null"`
	RewardAmount    int64      `gorm:"column:reward_amount"`
	RewardedAt      *time.Time `gorm:"column:rewarded_at"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

// ActiveRunLockKey builds the uniqueness token held while a run is
// non-terminal.
func ActiveRunLockKey(missionID, userID string) string {
	return fmt.Sprintf("mission-run:%s:%s", missionID, userID)
}

// ApprovalIdempotencyKey is the deterministic default key for approvals so
// unkeyed retries still dedupe.
func ApprovalIdempotencyKey(runID string) string {
	return fmt.Sprintf("mission-run:%s:approve", runID)
}
