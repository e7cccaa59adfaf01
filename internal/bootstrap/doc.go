// Package bootstrap drives the device-side flow: resolve the device id,
// register it, find the patient and user it belongs to, and track the visit
// session between them.
//
// Every activation bumps a generation counter. Responses that arrive for an
// older generation are dropped, so a slow activation can never overwrite the
// state of a newer one.
package bootstrap
