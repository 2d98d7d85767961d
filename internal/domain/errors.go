package domain

import "errors"

var (
	// ErrResultNotSaved is the one fatal failure: neither the remote store
	// nor the local queue accepted a finished result.
	ErrResultNotSaved = errors.New("result not saved")
	// ErrProfileNotFound indicates the remote store has no such user.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrBankNotFound indicates no question bank exists for the license.
	ErrBankNotFound = errors.New("question bank not found")
	// ErrRoomNotFound is returned when an exam room has not been opened.
	ErrRoomNotFound = errors.New("exam room not found")
	// ErrParticipantNotFound is returned when a user acts before joining a room.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrAlreadySubmitted is returned for progress pushed after submission.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
)
