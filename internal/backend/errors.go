package backend

import "errors"

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrForbidden      = errors.New("device belongs to another account")
	ErrSerialInUse    = errors.New("tag serial already linked")
	ErrEmailInUse     = errors.New("email already in use")
	ErrUserNotFound   = errors.New("user not found")
	ErrStalePosition  = errors.New("position is older than the last stored fix")
)
