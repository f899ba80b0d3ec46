package core

import "errors"

var (
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrConfigMissing       = errors.New("config missing")
	ErrAlreadyStarted      = errors.New("application already started")
	ErrNotAContribution    = errors.New("contribution implements no lifecycle hook")
)
