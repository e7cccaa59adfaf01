// Package domain defines the EVV model types and the storage contracts the
// application layer depends on.
//
// Files are split by concept (device.go, party.go, session.go, location.go).
// There is no implementation code here, only types, pure helpers and
// interfaces that adapters satisfy.
package domain
