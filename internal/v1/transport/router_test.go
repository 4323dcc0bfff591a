package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcade/arena/internal/v1/config"
	"github.com/parcade/arena/internal/v1/driver"
	"github.com/parcade/arena/internal/v1/health"
	"github.com/parcade/arena/internal/v1/matchmaker"
	"github.com/parcade/arena/internal/v1/presence"
	"github.com/parcade/arena/internal/v1/ratelimit"
)

type lobbyRoom struct {
	matchmaker.RoomCore
}

func newTestRouter(t *testing.T) (*gin.Engine, *matchmaker.MatchMaker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p := presence.NewLocalPresence()
	t.Cleanup(func() { _ = p.Close() })

	mm := matchmaker.New(p, driver.NewLocalDriver(), matchmaker.Config{
		ProcessID:         "test-process",
		PublicAddress:     "127.0.0.1",
		Port:              2567,
		RemoteRoomTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, mm.Listen(context.Background()))
	mm.DefineRoomType("chat", func() matchmaker.Room {
		return &lobbyRoom{RoomCore: matchmaker.RoomCore{MaxClients: 4}}
	}, nil)

	return NewServer(mm).Router(nil, nil, health.NewHandler(nil)), mm
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMatchmake_JoinOrCreate(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/matchmake/joinOrCreate/chat", "{}")
	require.Equal(t, http.StatusOK, w.Code)

	var reservation matchmaker.SeatReservation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reservation))
	assert.NotEmpty(t, reservation.Room.RoomID)
	assert.NotEmpty(t, reservation.SessionID)
	assert.Equal(t, "chat", reservation.Room.Name)
}

func TestMatchmake_EmptyBodyMeansNoOptions(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/matchmake/joinOrCreate/chat", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMatchmake_UnknownMethod(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/matchmake/teleport/chat", "{}")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4213, resp.Code)
}

func TestMatchmake_ErrorCodesPropagate(t *testing.T) {
	r, _ := newTestRouter(t)

	// No handler registered under this name.
	w := doJSON(t, r, http.MethodPost, "/matchmake/joinOrCreate/poker", "{}")
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4210, resp.Code)

	// No room matches the join criteria.
	w = doJSON(t, r, http.MethodPost, "/matchmake/join/chat", "{}")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4211, resp.Code)

	// Unknown room id.
	w = doJSON(t, r, http.MethodPost, "/matchmake/joinById/nope", "{}")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4212, resp.Code)
}

func TestMatchmake_MalformedBody(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/matchmake/joinOrCreate/chat", "{not json")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4213, resp.Code)
}

func TestListRooms(t *testing.T) {
	ctx := context.Background()
	r, mm := newTestRouter(t)

	created, err := mm.Create(ctx, "chat", matchmaker.ClientOptions{})
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodGet, "/matchmake/", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listings []*driver.RoomListing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, created.Room.RoomID, listings[0].RoomID)

	// Filtered by room type.
	w = doJSON(t, r, http.MethodGet, "/matchmake/chat", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listings))
	assert.Len(t, listings, 1)

	w = doJSON(t, r, http.MethodGet, "/matchmake/poker", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listings))
	assert.Empty(t, listings)
}

func TestListRooms_SkipsLockedRooms(t *testing.T) {
	ctx := context.Background()
	r, mm := newTestRouter(t)

	created, err := mm.Create(ctx, "chat", matchmaker.ClientOptions{})
	require.NoError(t, err)
	require.NoError(t, mm.RoomByID(created.Room.RoomID).Core().Lock(ctx))

	w := doJSON(t, r, http.MethodGet, "/matchmake/", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listings []*driver.RoomListing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listings))
	assert.Empty(t, listings)
}

func TestHealthEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMatchmakeRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	p := presence.NewLocalPresence()
	t.Cleanup(func() { _ = p.Close() })
	mm := matchmaker.New(p, driver.NewLocalDriver(), matchmaker.Config{ProcessID: "rl-test"})
	require.NoError(t, mm.Listen(context.Background()))
	mm.DefineRoomType("chat", func() matchmaker.Room { return &lobbyRoom{} }, nil)

	limiter, err := ratelimit.NewRateLimiter(&config.Config{
		RateLimitAPIGlobal:    "1000-M",
		RateLimitAPIPublic:    "100-M",
		RateLimitAPIMatchmake: "2-M",
	}, nil)
	require.NoError(t, err)

	r := NewServer(mm).Router(nil, limiter, nil)

	for i := 0; i < 2; i++ {
		w := doJSON(t, r, http.MethodPost, "/matchmake/joinOrCreate/chat", "{}")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := doJSON(t, r, http.MethodPost, "/matchmake/joinOrCreate/chat", "{}")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
