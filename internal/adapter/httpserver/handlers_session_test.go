package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/mengy007/evv-poc/internal/app"
	"github.com/mengy007/evv-poc/internal/domain"
	"github.com/mengy007/evv-poc/internal/identity"
	apperrors "github.com/mengy007/evv-poc/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- POST /register ---

func TestHandleRegister_BodyDeviceID(t *testing.T) {
	var gotDevice, gotAgent string
	srv := newTestServer(t, Services{Registry: &mockRegistry{
		registerFn: func(_ context.Context, deviceID, agentID string) (*domain.Device, error) {
			gotDevice, gotAgent = deviceID, agentID
			return &domain.Device{ID: deviceID, AgentID: ptr(agentID)}, nil
		},
	}})

	rec := serve(srv, http.MethodPost, "/register", `{"deviceId":"  webauthn:abc ","agentId":"agent-1"}`,
		&http.Cookie{Name: identity.CookieName, Value: "cookie-token"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "webauthn:abc", gotDevice)
	assert.Equal(t, "agent-1", gotAgent)
	assert.JSONEq(t, `{"ok":true,"agentId":"agent-1","deviceId":"webauthn:abc","message":"Device successfully registered or verified"}`, rec.Body.String())
}

func TestHandleRegister_FallsBackToCookie(t *testing.T) {
	var gotDevice string
	srv := newTestServer(t, Services{Registry: &mockRegistry{
		registerFn: func(_ context.Context, deviceID, _ string) (*domain.Device, error) {
			gotDevice = deviceID
			return &domain.Device{ID: deviceID}, nil
		},
	}})

	rec := serve(srv, http.MethodPost, "/register", `{"deviceId":"   "}`,
		&http.Cookie{Name: identity.CookieName, Value: "cookie-token"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cookie-token", gotDevice)
	assert.Contains(t, rec.Body.String(), `"agentId":null`)
}

func TestHandleRegister_NoDeviceID(t *testing.T) {
	srv := newTestServer(t, Services{Registry: &mockRegistry{
		registerFn: func(_ context.Context, deviceID, _ string) (*domain.Device, error) {
			if deviceID == "" {
				return nil, apperrors.ValidationError("device id not provided")
			}
			return &domain.Device{ID: deviceID}, nil
		},
	}})

	// A cookie minted on this very request is not a device id the client sent.
	rec := serve(srv, http.MethodPost, "/register", `not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "device id not provided", resp.Error)
	assert.NotEmpty(t, rec.Result().Cookies(), "the cookie is still issued")
}

// --- GET /session ---

func TestHandleGetSession(t *testing.T) {
	open := &domain.Session{ID: 7, UserID: 1, PatientID: 2, StartedAt: testTime}
	srv := newTestServer(t, Services{Ledger: &mockLedger{
		getOpenFn: func(_ context.Context, userID, patientID int64) (*domain.Session, error) {
			if userID == 1 && patientID == 2 {
				return open, nil
			}
			return nil, nil
		},
	}})

	rec := serve(srv, http.MethodGet, "/session?userId=1&patientId=2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		OK      bool            `json:"ok"`
		Session *domain.Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	require.NotNil(t, resp.Session)
	assert.Equal(t, int64(7), resp.Session.ID)
	assert.Nil(t, resp.Session.EndedAt)

	rec = serve(srv, http.MethodGet, "/session?userId=1&patientId=3", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"session":null}`, rec.Body.String())
}

func TestHandleGetSession_BadParams(t *testing.T) {
	srv := newTestServer(t, Services{})

	tests := []struct {
		query   string
		wantMsg string
	}{
		{"", "Missing userId or patientId"},
		{"?userId=1", "Missing userId or patientId"},
		{"?userId=abc&patientId=2", "userId must be a positive integer"},
		{"?userId=1&patientId=-4", "patientId must be a positive integer"},
		{"?userId=1.5&patientId=2", "userId must be a positive integer"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := serve(srv, http.MethodGet, "/session"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp apperrors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantMsg, resp.Error)
		})
	}
}

// --- POST /session ---

func TestHandleStartSession(t *testing.T) {
	var got app.StartRequest
	srv := newTestServer(t, Services{Ledger: &mockLedger{
		startFn: func(_ context.Context, req app.StartRequest) (*domain.Session, error) {
			got = req
			return &domain.Session{
				ID: 11, UserID: req.UserID, PatientID: req.PatientID,
				Location:  &domain.Location{Lat: 37.77, Lon: -122.42},
				StartedAt: testTime, CreatedAt: testTime,
			}, nil
		},
	}})

	rec := serve(srv, http.MethodPost, "/session", `{"userId":1,"patientId":"2","location":[37.77,-122.42]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), got.UserID)
	assert.Equal(t, int64(2), got.PatientID)
	assert.JSONEq(t, `[37.77,-122.42]`, string(got.Location))
	assert.JSONEq(t, `{"ok":true,"session":{"id":11,"userId":1,"patientId":2,"location":[37.77,-122.42],
		"startedAt":"2026-05-04T14:30:00Z","endedAt":null,"createdAt":"2026-05-04T14:30:00Z"}}`, rec.Body.String())
}

func TestHandleStartSession_NullLocationIsAbsent(t *testing.T) {
	var got app.StartRequest
	srv := newTestServer(t, Services{Ledger: &mockLedger{
		startFn: func(_ context.Context, req app.StartRequest) (*domain.Session, error) {
			got = req
			return &domain.Session{ID: 1}, nil
		},
	}})

	rec := serve(srv, http.MethodPost, "/session", `{"userId":1,"patientId":2,"location":null}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, got.Location)
}

func TestHandleStartSession_InvalidIDs(t *testing.T) {
	srv := newTestServer(t, Services{})

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"missing both", `{}`, "userId"},
		{"missing patient", `{"userId":1}`, "patientId"},
		{"zero user", `{"userId":0,"patientId":2}`, "userId"},
		{"fraction", `{"userId":1,"patientId":2.5}`, "patientId"},
		{"word", `{"userId":"one","patientId":2}`, "userId"},
		{"bool", `{"userId":true,"patientId":2}`, "userId"},
		{"overflow", `{"userId":1e300,"patientId":2}`, "userId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(srv, http.MethodPost, "/session", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp apperrors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantField, resp.Context["field"])
		})
	}
}

func TestHandleStartSession_Conflict(t *testing.T) {
	srv := newTestServer(t, Services{Ledger: &mockLedger{
		startFn: func(context.Context, app.StartRequest) (*domain.Session, error) {
			return nil, apperrors.ConflictError("an open session already exists for this user and patient")
		},
	}})

	rec := serve(srv, http.MethodPost, "/session", `{"userId":1,"patientId":2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleStartSession_StorageDown(t *testing.T) {
	srv := newTestServer(t, Services{Ledger: &mockLedger{
		startFn: func(context.Context, app.StartRequest) (*domain.Session, error) {
			return nil, apperrors.TransientError("failed to start session", errors.New("dial tcp: refused"))
		},
	}})

	rec := serve(srv, http.MethodPost, "/session", `{"userId":1,"patientId":2}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to start session")
}

// --- PUT /session ---

func TestHandleEndSession(t *testing.T) {
	ended := testTime.Add(time.Hour)
	closedEarlier := testTime.Add(-time.Hour)
	srv := newTestServer(t, Services{Ledger: &mockLedger{
		endFn: func(_ context.Context, id int64) (*domain.Session, error) {
			if id == 1 {
				return &domain.Session{ID: 1, StartedAt: testTime, EndedAt: &ended}, nil
			}
			return nil, nil
		},
		getFn: func(_ context.Context, id int64) (*domain.Session, error) {
			if id == 2 {
				return &domain.Session{ID: 2, StartedAt: testTime, EndedAt: &closedEarlier}, nil
			}
			return nil, nil
		},
	}})

	t.Run("closes open session", func(t *testing.T) {
		rec := serve(srv, http.MethodPut, "/session?id=1", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"endedAt":"2026-05-04T15:30:00Z"`)
	})

	t.Run("already closed returns unchanged record", func(t *testing.T) {
		rec := serve(srv, http.MethodPut, "/session?id=2", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"endedAt":"2026-05-04T13:30:00Z"`)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := serve(srv, http.MethodPut, "/session?id=3", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	for _, q := range []string{"", "?id=", "?id=x", "?id=0"} {
		t.Run("invalid "+q, func(t *testing.T) {
			rec := serve(srv, http.MethodPut, "/session"+q, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "Missing or invalid id")
		})
	}
}

// --- GET /sessions ---

func TestHandleListSessions(t *testing.T) {
	var got domain.ListFilter
	srv := newTestServer(t, Services{Ledger: &mockLedger{
		listFn: func(_ context.Context, f domain.ListFilter) ([]domain.Session, error) {
			got = f
			return []domain.Session{{ID: 3}, {ID: 2}}, nil
		},
	}})

	rec := serve(srv, http.MethodGet, "/sessions?userId=1&patientHash=p-1&limit=all", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got.UserID)
	assert.Equal(t, int64(1), *got.UserID)
	assert.Nil(t, got.PatientID)
	assert.Equal(t, "p-1", *got.PatientHash)
	assert.True(t, got.Limit.Unbounded())

	var resp struct {
		OK       bool             `json:"ok"`
		Sessions []domain.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Sessions, 2)
	assert.Equal(t, int64(3), resp.Sessions[0].ID)
}

func TestHandleListSessions_LimitPolicy(t *testing.T) {
	var got domain.ListFilter
	srv := newTestServer(t, Services{Ledger: &mockLedger{
		listFn: func(_ context.Context, f domain.ListFilter) ([]domain.Session, error) {
			got = f
			return nil, nil
		},
	}})

	tests := map[string]int{
		"":            10,
		"?limit=abc":  10,
		"?limit=-3":   10,
		"?limit=25":   25,
		"?limit=5000": 1000,
		"?limit=7.9":  7,
	}
	for query, want := range tests {
		rec := serve(srv, http.MethodGet, "/sessions"+query, "")
		require.Equal(t, http.StatusOK, rec.Code, query)
		assert.Equal(t, want, got.Limit.N, query)
		assert.JSONEq(t, `{"ok":true,"sessions":[]}`, rec.Body.String())
	}
}

func TestHandleListSessions_BadFilter(t *testing.T) {
	srv := newTestServer(t, Services{})

	rec := serve(srv, http.MethodGet, "/sessions?patientId=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
