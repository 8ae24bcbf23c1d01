// Package repository contains the MySQL persistence layer. Sentinel
// errors exported here let handlers distinguish failure modes without
// string-matching driver errors.
package repository

import "errors"

// ErrEmailExists is returned when registering an account with an email
// address that is already taken. Handlers translate this into HTTP 409.
var ErrEmailExists = errors.New("email already exists")
