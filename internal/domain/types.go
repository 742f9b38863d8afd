package domain

import (
	"fmt"
	"strings"
)

// Consent is the user's tracking consent level.
//
// The zero value ConsentUnset is never a current consent; it stands for the
// missing previous value of the startup transition.
type Consent uint8

const (
	ConsentUnset Consent = iota
	ConsentGranted
	ConsentNotGranted
	ConsentPending
)

func (c Consent) String() string {
	switch c {
	case ConsentGranted:
		return "granted"
	case ConsentNotGranted:
		return "not_granted"
	case ConsentPending:
		return "pending"
	default:
		return "unset"
	}
}

// Valid reports whether c can be a current consent.
func (c Consent) Valid() bool {
	return c == ConsentGranted || c == ConsentNotGranted || c == ConsentPending
}

func ParseConsent(s string) (Consent, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "granted":
		return ConsentGranted, nil
	case "not_granted", "not-granted", "notgranted":
		return ConsentNotGranted, nil
	case "pending":
		return ConsentPending, nil
	}
	return ConsentUnset, fmt.Errorf("unknown consent %q", s)
}

// Batch is one unit handed to an uploader. ID is the storage-log file name and
// Data is a JSON array: the file's comma-joined payloads wrapped in brackets.
type Batch struct {
	ID   string
	Data []byte
}
