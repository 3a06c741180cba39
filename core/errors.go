package core

import "errors"

var (
	ErrNavDataNotFound     = errors.New("navigation data not found")
	ErrNoFactory           = errors.New("no factory accepted the source")
	ErrNilFactory          = errors.New("nil navigation data factory")
	ErrSourceUnreadable    = errors.New("navigation data source unreadable")
	ErrSourceFormat        = errors.New("navigation data source malformed")
	ErrKeplerNoConvergence = errors.New("kepler equation did not converge")
	ErrOrbitGap            = errors.New("orbit samples do not bracket the requested time")
	ErrUnsupportedPayload  = errors.New("payload does not support this operation")
	ErrNilNavData          = errors.New("nil navigation data")
)
