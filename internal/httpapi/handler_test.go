package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"placequest-core/pkg/config"
	"placequest-core/pkg/middleware"
	"placequest-core/services/antispoof"
	"placequest-core/services/mission"
	"placequest-core/services/testutil"
	"placequest-core/services/wallet"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestRouter(t *testing.T) (*gin.Engine, *mission.Mission) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&mission.Place{}, &mission.Mission{}, &mission.MissionRun{},
		&wallet.Wallet{}, &wallet.WalletTransaction{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{
		Mission: config.MissionConfig{
			RunTTL:             30 * time.Minute,
			QRTokenTTL:         10 * time.Minute,
			EvidenceMaxAge:     2 * time.Minute,
			ClockSkewTolerance: time.Minute,
			MaxAccuracyM:       100,
			MissionCacheTTL:    time.Second,
		},
		Antispoof: config.AntispoofConfig{MaxAccuracyM: 150, MaxSpeedMps: 70},
	}

	now := time.Now()
	place := &mission.Place{ID: "place-1", Name: "Kopi Tuku", Lat: -6.2, Lng: 106.8, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.Create(place).Error)

	m := &mission.Mission{
		ID:              "mission-1",
		PlaceID:         place.ID,
		Title:           "Visit Kopi Tuku",
		Status:          mission.MissionStatusActive,
		RewardAmount:    1000,
		GeofenceRadiusM: 100,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, db.Create(m).Error)

	wallets := wallet.NewService(wallet.ServiceParams{DB: db, Node: node})
	missions := mission.NewService(mission.ServiceParams{
		DB:      db,
		Node:    node,
		Wallets: wallets,
		Checker: antispoof.NewPipeline(cfg.Antispoof, antispoof.NewMemoryFixStore(time.Hour)),
		Tokens:  mission.NewMemoryTokenStore(),
		Config:  cfg,
	})

	engine := gin.New()
	h := NewHandler(HandlerParams{Missions: missions, Wallets: wallets})

	v1 := engine.Group("/v1", middleware.Error())
	v1.POST("/missions/:missionID/runs", h.StartMissionRun)
	v1.POST("/missions/:missionID/qr-tokens", h.IssueQRToken)
	v1.GET("/mission-runs/:runID", h.GetMissionRun)
	v1.GET("/wallets/:userID", h.GetWallet)

	return engine, m
}

func doRequest(engine *gin.Engine, method, path, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestStartMissionRunEndpoint(t *testing.T) {
	engine, m := newTestRouter(t)

	rec := doRequest(engine, http.MethodPost, "/v1/missions/"+m.ID+"/runs", "user-1")
	require.Equal(t, http.StatusCreated, rec.Code)

	var run mission.MissionRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Equal(t, mission.RunStatusPendingGPS, run.Status)

	rec = doRequest(engine, http.MethodGet, "/v1/mission-runs/"+run.ID, "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStartMissionRunRequiresIdentity(t *testing.T) {
	engine, m := newTestRouter(t)

	rec := doRequest(engine, http.MethodPost, "/v1/missions/"+m.ID+"/runs", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartMissionRunConflictMapsTo409(t *testing.T) {
	engine, m := newTestRouter(t)

	rec := doRequest(engine, http.MethodPost, "/v1/missions/"+m.ID+"/runs", "user-1")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(engine, http.MethodPost, "/v1/missions/"+m.ID+"/runs", "user-1")
	require.Equal(t, http.StatusConflict, rec.Code)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "CONFLICT", body.Error.Code)
}

func TestUnknownMissionMapsTo404(t *testing.T) {
	engine, _ := newTestRouter(t)

	rec := doRequest(engine, http.MethodPost, "/v1/missions/missing/runs", "user-1")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetWalletUnknownUser(t *testing.T) {
	engine, _ := newTestRouter(t)

	rec := doRequest(engine, http.MethodGet, "/v1/wallets/nobody", "user-1")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIssueQRTokenEndpoint(t *testing.T) {
	engine, m := newTestRouter(t)

	rec := doRequest(engine, http.MethodPost, "/v1/missions/"+m.ID+"/qr-tokens", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
}
