// Package app holds the use cases behind the HTTP surface.
//
// Ledger owns the session lifecycle, Registry records device identities and
// Directory serves user and patient records. Each depends only on domain
// interfaces and returns classified errors from platform/errors so handlers
// can map them to status codes without inspecting storage details.
package app
