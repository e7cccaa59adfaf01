package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/mengy007/evv-poc/internal/bootstrap"
	"github.com/mengy007/evv-poc/internal/domain"
	"github.com/mengy007/evv-poc/internal/identity"
	"github.com/stretchr/testify/assert"
)

func TestPrintState_Error(t *testing.T) {
	var buf bytes.Buffer

	printState(&buf, bootstrap.State{
		Status:   bootstrap.StatusError,
		Error:    "failed to register device",
		Identity: identity.DeviceIdentity{ID: "abc", Method: identity.MethodCookie},
	})

	out := buf.String()
	assert.Contains(t, out, "Status:   Error")
	assert.Contains(t, out, "Error:    failed to register device")
	assert.Contains(t, out, "Device:   abc (cookie)")
	assert.Contains(t, out, "Patient:  not found")
	assert.Contains(t, out, "Visit:    none open")
}

func TestPrintState_OpenVisit(t *testing.T) {
	name := "Ada"
	started := time.Date(2026, 5, 4, 14, 30, 0, 0, time.UTC)
	ended := started.Add(time.Hour)
	var buf bytes.Buffer

	printState(&buf, bootstrap.State{
		Status:  bootstrap.StatusReady,
		Patient: &domain.Party{ID: 2, Name: &name},
		User:    &domain.Party{ID: 1},
		Session: &domain.Session{ID: 9, StartedAt: started},
		Elapsed: "00:00:42",
		Sessions: []domain.Session{
			{ID: 9, UserID: 1, PatientID: 2, PatientName: &name, StartedAt: started},
			{ID: 4, UserID: 1, PatientID: 2, StartedAt: started, EndedAt: &ended, Location: &domain.Location{Lat: 1.5, Lon: -2.25}},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Patient:  Ada (#2)")
	assert.Contains(t, out, "User:     #1")
	assert.Contains(t, out, "(00:00:42)")
	assert.Contains(t, out, "1.50000,-2.25000")
	assert.Contains(t, out, "open")
}
