package prefstore

import (
	"testing"
)

func TestErrorVariables(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"ErrInvalidInput", ErrInvalidInput, "invalid input parameters"},
		{"ErrInvalidKey", ErrInvalidKey, "invalid preference key"},
		{"ErrInvalidKind", ErrInvalidKind, "invalid preference kind"},
		{"ErrInvalidValue", ErrInvalidValue, "invalid preference value"},
		{"ErrNotFound", ErrNotFound, "preference not found"},
		{"ErrAlreadyDefined", ErrAlreadyDefined, "preference already defined"},
		{"ErrStorageUnavailable", ErrStorageUnavailable, "storage backend unavailable"},
		{"ErrEncode", ErrEncode, "preference value could not be encoded"},
		{"ErrDecode", ErrDecode, "stored value could not be decoded"},
		{"ErrClosed", ErrClosed, "preference store closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected error message '%s', got '%s'", tt.expected, tt.err.Error())
			}
		})
	}
}
