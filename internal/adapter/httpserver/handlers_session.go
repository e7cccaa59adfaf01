package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mengy007/evv-poc/internal/app"
	"github.com/mengy007/evv-poc/internal/domain"
	"github.com/mengy007/evv-poc/internal/identity"
	apperrors "github.com/mengy007/evv-poc/internal/platform/errors"
)

func (s *Server) registerSessionRoutes(writeLimit echo.MiddlewareFunc) {
	s.echo.POST("/register", s.handleRegister, writeLimit)
	s.echo.GET("/session", s.handleGetSession)
	s.echo.POST("/session", s.handleStartSession, writeLimit)
	s.echo.PUT("/session", s.handleEndSession, writeLimit)
	s.echo.GET("/sessions", s.handleListSessions)
}

type registerResponse struct {
	OK       bool    `json:"ok"`
	AgentID  *string `json:"agentId"`
	DeviceID string  `json:"deviceId"`
	Message  string  `json:"message"`
}

// handleRegister takes the device id from the body, falling back to the
// device_id cookie the request carried.
func (s *Server) handleRegister(c echo.Context) error {
	body := readObject(c)

	deviceID := stringField(body, "deviceId")
	if deviceID == "" {
		if ck, err := c.Cookie(identity.CookieName); err == nil {
			deviceID = ck.Value
		}
	}

	device, err := s.registry.Register(c.Request().Context(), deviceID, stringField(body, "agentId"))
	if err != nil {
		return err
	}

	resp := registerResponse{
		OK:       true,
		AgentID:  device.AgentID,
		DeviceID: device.ID,
		Message:  "Device successfully registered or verified",
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type sessionResponse struct {
	OK      bool            `json:"ok"`
	Session *domain.Session `json:"session"`
}

func (s *Server) handleGetSession(c echo.Context) error {
	rawUser, rawPatient := c.QueryParam("userId"), c.QueryParam("patientId")
	if rawUser == "" || rawPatient == "" {
		return apperrors.ValidationError("Missing userId or patientId")
	}
	userID, err := parseIDText("userId", rawUser)
	if err != nil {
		return err
	}
	patientID, err := parseIDText("patientId", rawPatient)
	if err != nil {
		return err
	}

	session, err := s.ledger.GetOpenSession(c.Request().Context(), userID, patientID)
	if err != nil {
		return err
	}
	return sendSession(c, http.StatusOK, session)
}

func (s *Server) handleStartSession(c echo.Context) error {
	body := readObject(c)

	userID, err := parseIDValue("userId", body["userId"])
	if err != nil {
		return err
	}
	patientID, err := parseIDValue("patientId", body["patientId"])
	if err != nil {
		return err
	}

	var location json.RawMessage
	if raw, ok := body["location"]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		location = raw
	}

	session, err := s.ledger.StartSession(c.Request().Context(), app.StartRequest{
		UserID:    userID,
		PatientID: patientID,
		Location:  location,
	})
	if err != nil {
		return err
	}
	return sendSession(c, http.StatusOK, session)
}

// handleEndSession closes the session. A session that was already closed is
// returned unchanged; an unknown id is 404.
func (s *Server) handleEndSession(c echo.Context) error {
	raw := c.QueryParam("id")
	if raw == "" {
		return apperrors.ValidationError("Missing or invalid id").WithField("field", "id")
	}
	id, err := parseIDText("id", raw)
	if err != nil {
		return apperrors.ValidationError("Missing or invalid id").WithField("field", "id")
	}

	ctx := c.Request().Context()
	session, err := s.ledger.EndSession(ctx, id)
	if err != nil {
		return err
	}
	if session == nil {
		session, err = s.ledger.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if session == nil {
			return apperrors.NotFoundError("session not found").WithField("id", id)
		}
	}
	return sendSession(c, http.StatusOK, session)
}

func (s *Server) handleListSessions(c echo.Context) error {
	userID, err := optionalQueryID(c, "userId")
	if err != nil {
		return err
	}
	patientID, err := optionalQueryID(c, "patientId")
	if err != nil {
		return err
	}

	sessions, err := s.ledger.ListSessions(c.Request().Context(), domain.ListFilter{
		UserID:      userID,
		PatientID:   patientID,
		UserHash:    optionalQueryString(c, "userHash"),
		PatientHash: optionalQueryString(c, "patientHash"),
		Limit:       domain.ParseLimit(c.QueryParam("limit")),
	})
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}

	resp := struct {
		OK       bool             `json:"ok"`
		Sessions []domain.Session `json:"sessions"`
	}{true, sessions}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func sendSession(c echo.Context, status int, session *domain.Session) error {
	if err := c.JSON(status, sessionResponse{OK: true, Session: session}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
