package api

import "errors"

var (
	errMissingToken = errors.New("missing authentication token")
)
