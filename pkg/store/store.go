// Package store is the persistent key/value layer behind a terminal profile.
// Every value is an opaque string; a missing key reads as ok == false.
package store

import (
	"errors"
)

// Keys written by the terminal.
const (
	KeyVirtualFS = "virtualFS"
	KeyTheme     = "terminalTheme"
	KeyBg        = "terminalBg"
	KeyFontSize  = "terminalFontSize"
)

// ErrClosed is returned after the backing database was closed.
var ErrClosed = errors.New("store closed")

// Store is the profile scoped key/value interface.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

// Backend hands out per-profile stores.
type Backend interface {
	ForProfile(profile string) Store
	Close() error
}
