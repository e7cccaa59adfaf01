package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	apperrors "github.com/mengy007/evv-poc/internal/platform/errors"
)

const maxBodyBytes = 64 << 10

func invalidID(field string) *apperrors.Error {
	return apperrors.ValidationError(field+" must be a positive integer").WithField("field", field)
}

// parseIDText accepts the decimal form of a positive integer. A value like
// "3.0" is accepted because it denotes an integer.
func parseIDText(field, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n <= 0 {
			return 0, invalidID(field)
		}
		return n, nil
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f <= 0 || f >= math.MaxInt64 {
		return 0, invalidID(field)
	}
	return int64(f), nil
}

// parseIDValue accepts a JSON number or a numeric string.
func parseIDValue(field string, raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, invalidID(field)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, invalidID(field)
		}
		return parseIDText(field, s)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, invalidID(field)
	}
	return parseIDText(field, n.String())
}

// optionalQueryID returns nil when the parameter is absent or empty.
func optionalQueryID(c echo.Context, field string) (*int64, error) {
	raw := c.QueryParam(field)
	if raw == "" {
		return nil, nil
	}
	id, err := parseIDText(field, raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func optionalQueryString(c echo.Context, field string) *string {
	v := strings.TrimSpace(c.QueryParam(field))
	if v == "" {
		return nil
	}
	return &v
}

// readObject decodes the body as a JSON object. An empty or malformed body
// yields an empty object, matching how lenient clients post.
func readObject(c echo.Context) map[string]json.RawMessage {
	obj := map[string]json.RawMessage{}
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return obj
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return map[string]json.RawMessage{}
	}
	return obj
}

// stringField returns the trimmed string at key, or "" when the key is
// absent, null, or not a string.
func stringField(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// nullableString reads an optional string field: absent and null give
// (nil, false, nil) and (nil, true, nil); a non-string is a validation error.
func nullableString(obj map[string]json.RawMessage, key string) (*string, bool, error) {
	raw, ok := obj[key]
	if !ok {
		return nil, false, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, true, apperrors.ValidationError("Validation failed").WithField("field", key)
	}
	return &s, true, nil
}
