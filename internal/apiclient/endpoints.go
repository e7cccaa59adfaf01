package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mengy007/evv-poc/internal/domain"
)

type RegisterResult struct {
	OK       bool    `json:"ok"`
	AgentID  *string `json:"agentId"`
	DeviceID string  `json:"deviceId"`
	Message  string  `json:"message"`
}

// Register announces the device id, and optionally the agent id, to the
// server. Registering a known device is a no-op success.
func (c *Client) Register(ctx context.Context, deviceID, agentID string) (*RegisterResult, error) {
	body := map[string]string{"deviceId": deviceID}
	if agentID != "" {
		body["agentId"] = agentID
	}

	var out RegisterResult
	if err := c.do(ctx, http.MethodPost, "/register", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatientByHash returns the patient whose hash matches exactly, or nil.
func (c *Client) PatientByHash(ctx context.Context, hash string) (*domain.Patient, error) {
	var out struct {
		Patient *domain.Patient `json:"patient"`
	}
	if err := c.get(ctx, "/patient", url.Values{"hash": {hash}}, &out); err != nil {
		return nil, err
	}
	return out.Patient, nil
}

// UserByHash returns the user whose hash matches exactly, or nil.
func (c *Client) UserByHash(ctx context.Context, hash string) (*domain.User, error) {
	var out struct {
		User *domain.User `json:"user"`
	}
	if err := c.get(ctx, "/user", url.Values{"hash": {hash}}, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

type sessionResponse struct {
	Session *domain.Session `json:"session"`
}

// OpenSession returns the open session for the pair, or nil.
func (c *Client) OpenSession(ctx context.Context, userID, patientID int64) (*domain.Session, error) {
	q := url.Values{
		"userId":    {strconv.FormatInt(userID, 10)},
		"patientId": {strconv.FormatInt(patientID, 10)},
	}
	var out sessionResponse
	if err := c.get(ctx, "/session", q, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// StartSession opens a session. location is sent as [lat, lon] when set.
func (c *Client) StartSession(ctx context.Context, userID, patientID int64, location *domain.Location) (*domain.Session, error) {
	body := struct {
		UserID    int64            `json:"userId"`
		PatientID int64            `json:"patientId"`
		Location  *domain.Location `json:"location,omitempty"`
	}{userID, patientID, location}

	var out sessionResponse
	if err := c.do(ctx, http.MethodPost, "/session", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// EndSession closes the session. Ending an already closed session returns
// it unchanged.
func (c *Client) EndSession(ctx context.Context, id int64) (*domain.Session, error) {
	var out sessionResponse
	q := url.Values{"id": {strconv.FormatInt(id, 10)}}
	if err := c.do(ctx, http.MethodPut, "/session", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// SessionQuery filters ListSessions. Limit is passed through verbatim, so
// "all" and numeric strings are both accepted.
type SessionQuery struct {
	UserID    *int64
	PatientID *int64
	Limit     string
}

func (q SessionQuery) values() url.Values {
	v := url.Values{}
	if q.UserID != nil {
		v.Set("userId", strconv.FormatInt(*q.UserID, 10))
	}
	if q.PatientID != nil {
		v.Set("patientId", strconv.FormatInt(*q.PatientID, 10))
	}
	if q.Limit != "" {
		v.Set("limit", q.Limit)
	}
	return v
}

func (c *Client) ListSessions(ctx context.Context, q SessionQuery) ([]domain.Session, error) {
	var out struct {
		Sessions []domain.Session `json:"sessions"`
	}
	if err := c.get(ctx, "/sessions", q.values(), &out); err != nil {
		return nil, err
	}
	if out.Sessions == nil {
		out.Sessions = []domain.Session{}
	}
	return out.Sessions, nil
}
