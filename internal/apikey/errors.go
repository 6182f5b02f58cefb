package apikey

import "errors"

var (
	// ErrInvalidFormat means the presented secret lacks the key marker.
	ErrInvalidFormat = errors.New("apikey: invalid credential format")

	// ErrInvalidCredential covers both "no candidate found" and "hash
	// mismatch" uniformly so the response never leaks which occurred.
	ErrInvalidCredential = errors.New("apikey: invalid credential")

	// ErrExpired means the credential matched but is past its expiry.
	ErrExpired = errors.New("apikey: credential expired")

	// ErrForbidden means the credential is valid but lacks a required
	// permission; the missing permission is appended to the message.
	ErrForbidden = errors.New("apikey: forbidden")

	ErrNotFound     = errors.New("apikey: not found")
	ErrInvalidInput = errors.New("apikey: invalid input")
)
