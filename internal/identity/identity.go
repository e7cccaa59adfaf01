package identity

import (
	"encoding/base64"
)

// Method records how an identifier was obtained.
type Method string

const (
	MethodWebAuthn Method = "webauthn"
	MethodLocal    Method = "local"
	MethodCookie   Method = "cookie"
)

// CookieName is the cookie carrying the server-minted device token.
const CookieName = "device_id"

const webauthnPrefix = "webauthn:"

type DeviceIdentity struct {
	ID     string `json:"id"`
	Method Method `json:"method"`
}

// Slot names one of the two persistence backends.
type Slot string

const (
	SlotLocal  Slot = "local"
	SlotCookie Slot = "cookie"
)

type Write struct {
	Slot  Slot
	Value string
}

// Decision is the outcome of Decide: the identity plus the writes needed to
// persist it, in the order they must be applied.
type Decision struct {
	Identity DeviceIdentity
	Writes   []Write
}

// Decide picks the device identity from what is already stored. ceremony and
// fresh are only called when every earlier source came up empty.
func Decide(cookie, local string, ceremony func() CeremonyResult, fresh func() string) Decision {
	if cookie != "" {
		return Decision{Identity: DeviceIdentity{ID: cookie, Method: MethodCookie}}
	}

	if local != "" {
		return Decision{
			Identity: DeviceIdentity{ID: local, Method: MethodLocal},
			Writes:   []Write{{Slot: SlotCookie, Value: local}},
		}
	}

	if rawID, ok := ceremony().RawID(); ok {
		id := IDFromCredential(rawID)
		return Decision{
			Identity: DeviceIdentity{ID: id, Method: MethodWebAuthn},
			Writes:   persistBoth(id),
		}
	}

	id := fresh()
	return Decision{
		Identity: DeviceIdentity{ID: id, Method: MethodLocal},
		Writes:   persistBoth(id),
	}
}

func persistBoth(id string) []Write {
	return []Write{{Slot: SlotLocal, Value: id}, {Slot: SlotCookie, Value: id}}
}

// IDFromCredential derives the device id from a credential's raw identifier
// using unpadded base64url.
func IDFromCredential(rawID []byte) string {
	return webauthnPrefix + base64.RawURLEncoding.EncodeToString(rawID)
}
