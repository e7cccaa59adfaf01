package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mathrand "math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const deviceTokenBytes = 32

// NewDeviceToken mints the value of a server-issued device cookie:
// 32 random bytes, hex encoded.
func NewDeviceToken() (string, error) {
	b := make([]byte, deviceTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewRandomID returns a random v4 UUID, or a weaker time-based composite
// when the secure source is unavailable.
func NewRandomID() string {
	return randomID(uuid.NewRandom, time.Now)
}

func randomID(newUUID func() (uuid.UUID, error), now func() time.Time) string {
	if id, err := newUUID(); err == nil {
		return id.String()
	}
	return strconv.FormatUint(mathrand.Uint64(), 36) + strconv.FormatInt(now().UnixMilli(), 36)
}
