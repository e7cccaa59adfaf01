package domain

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrPatientNotFound = errors.New("patient not found")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrSessionOpen     = errors.New("an open session already exists for this user and patient")
	ErrNothingToUpdate = errors.New("no fields to update")
	ErrHashTaken       = errors.New("hash already in use")
)
