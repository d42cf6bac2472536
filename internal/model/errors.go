package model

import "errors"

var (
	ErrJobNotFound = errors.New("job not found")
	ErrDuplicateID = errors.New("duplicate job id")
)
