// Package identity resolves the device identifier an agent presents to the
// server.
//
// Resolution walks a fixed chain: the cookie slot, then the local slot, then
// a platform credential ceremony, then a random id. The first hit wins and is
// persisted to the slots that were empty, local before cookie. Resolve never
// fails; ceremony and storage problems are logged and fall through.
package identity
