package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/mengy007/evv-poc/internal/domain"
	apperrors "github.com/mengy007/evv-poc/internal/platform/errors"
)

func (s *Server) registerDirectoryRoutes(writeLimit echo.MiddlewareFunc) {
	s.echo.GET("/patient", s.handleLookup(s.patients, "patient"))
	s.echo.GET("/user", s.handleLookup(s.users, "user"))
	s.echo.POST("/user", s.handleCreateUser, writeLimit)

	for _, r := range []struct {
		prefix string
		book   partyBook
	}{
		{"/users", s.users},
		{"/patients", s.patients},
	} {
		g := s.echo.Group(r.prefix)
		g.GET("", s.handleListParties(r.book))
		g.POST("", s.handleCreateParty(r.book), writeLimit)
		g.GET("/:id", s.handleGetParty(r.book))
		g.PUT("/:id", s.handleUpdateParty(r.book), writeLimit)
		g.DELETE("/:id", s.handleDeleteParty(r.book), writeLimit)
	}
}

// handleLookup answers {ok, <key>: record|null} for an exact hash match.
func (s *Server) handleLookup(book partyBook, key string) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := book.ByHash(c.Request().Context(), c.QueryParam("hash"))
		if err != nil {
			return err
		}
		if err := c.JSON(http.StatusOK, map[string]any{"ok": true, key: p}); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}
}

// handleCreateUser is the lookup-style create: {ok, user}, with a random
// hash when none is given.
func (s *Server) handleCreateUser(c echo.Context) error {
	body := readObject(c)
	hash, name := stringField(body, "hash"), stringField(body, "name")

	u, err := s.users.Create(c.Request().Context(), &hash, &name)
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusOK, map[string]any{"ok": true, "user": u}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListParties(book partyBook) echo.HandlerFunc {
	return func(c echo.Context) error {
		page := domain.Page{
			Limit:  queryInt(c, "limit", domain.DefaultPageLimit),
			Offset: queryInt(c, "offset", 0),
		}
		parties, err := book.List(c.Request().Context(), page)
		if err != nil {
			return err
		}
		if parties == nil {
			parties = []domain.Party{}
		}
		if err := c.JSON(http.StatusOK, parties); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}
}

func (s *Server) handleCreateParty(book partyBook) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := readObject(c)
		hash, _, err := nullableString(body, "hash")
		if err != nil {
			return err
		}
		name, _, err := nullableString(body, "name")
		if err != nil {
			return err
		}

		p, err := book.Create(c.Request().Context(), hash, name)
		if err != nil {
			return err
		}
		if err := c.JSON(http.StatusCreated, p); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}
}

func (s *Server) handleGetParty(book partyBook) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		p, err := book.Get(c.Request().Context(), id)
		if err != nil {
			return err
		}
		if err := c.JSON(http.StatusOK, p); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}
}

// handleUpdateParty applies only the fields present in the body; an
// explicit null clears the field.
func (s *Server) handleUpdateParty(book partyBook) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}

		body := readObject(c)
		var patch domain.PartyPatch
		for _, f := range []struct {
			key    string
			target *domain.FieldUpdate
		}{
			{"hash", &patch.Hash},
			{"name", &patch.Name},
		} {
			v, present, err := nullableString(body, f.key)
			if err != nil {
				return err
			}
			if present {
				*f.target = domain.SetTo(v)
			}
		}

		p, err := book.Update(c.Request().Context(), id, patch)
		if err != nil {
			return err
		}
		if err := c.JSON(http.StatusOK, p); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}
}

func (s *Server) handleDeleteParty(book partyBook) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		if err := book.Delete(c.Request().Context(), id); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.ValidationError("Invalid id").WithField("field", "id")
	}
	return id, nil
}

// queryInt parses an optional integer parameter, using def when absent or
// malformed.
func queryInt(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
