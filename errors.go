// errors.go
package prefstore

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input parameters")
	ErrInvalidKey         = errors.New("invalid preference key")
	ErrInvalidKind        = errors.New("invalid preference kind")
	ErrInvalidValue       = errors.New("invalid preference value")
	ErrNotFound           = errors.New("preference not found")
	ErrAlreadyDefined     = errors.New("preference already defined")
	ErrStorageUnavailable = errors.New("storage backend unavailable")
	ErrEncode             = errors.New("preference value could not be encoded")
	ErrDecode             = errors.New("stored value could not be decoded")
	ErrClosed             = errors.New("preference store closed")
)
