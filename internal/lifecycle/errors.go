package lifecycle

import "errors"

// ConfirmationWord must be typed by the operator before a restore.
const ConfirmationWord = "RESTORE"

var (
	// ErrPrecondition is returned before any mutation when the host is not fit to run.
	ErrPrecondition = errors.New("precondition failed")

	// ErrRemoteCommand is returned when an application service command exits non-zero.
	ErrRemoteCommand = errors.New("remote command failed")

	// ErrNotConfirmed is returned when a destructive operation was not confirmed.
	ErrNotConfirmed = errors.New("operation not confirmed")

	// ErrNotDeployed is returned when an operation needs the container and it is absent.
	ErrNotDeployed = errors.New("appliance is not deployed")
)
