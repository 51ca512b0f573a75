package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrTokenExpired = errors.New("access token expired")
	ErrUpstream     = errors.New("upstream error")
)
