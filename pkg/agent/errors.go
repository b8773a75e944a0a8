package agent

import "errors"

var (
	ErrNotApproved   = errors.New("agent not approved yet")
	ErrNoInterface   = errors.New("no usable network interface for identity")
	errServerRefused = errors.New("server refused request")
)
