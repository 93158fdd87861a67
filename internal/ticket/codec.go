// Package ticket encodes and decodes the payload carried by a ticket's QR code.
package ticket

import (
	"encoding/json"
	"strings"

	"github.com/eventgate/backend/internal/apperr"
)

// Ref is the decoded content of a ticket QR code. DisplayName is advisory;
// the registration record is authoritative for the participant's name.
type Ref struct {
	RegistrationID string `json:"id"`
	EventID        string `json:"eventId"`
	DisplayName    string `json:"name,omitempty"`
}

// Encode serializes a ticket reference into its QR payload. Decode inverts it
// when both ids are non-blank; a blank id yields a payload Decode rejects.
// Invalid UTF-8 in displayName is replaced with U+FFFD.
func Encode(registrationID, eventID, displayName string) string {
	b, _ := json.Marshal(Ref{
		RegistrationID: registrationID,
		EventID:        eventID,
		DisplayName:    displayName,
	})
	return string(b)
}

// Decode parses a QR payload. Unknown fields are ignored. It fails with an
// *apperr.InvalidPayloadError when the payload is not a JSON object of the
// expected shape or when the registration or event id is missing.
func Decode(payload string) (Ref, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return Ref{}, &apperr.InvalidPayloadError{Reason: "empty payload"}
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Ref{}, &apperr.InvalidPayloadError{Reason: "not a ticket code"}
	}
	var ref Ref
	if err := json.Unmarshal([]byte(trimmed), &ref); err != nil {
		return Ref{}, &apperr.InvalidPayloadError{Reason: "malformed ticket code"}
	}
	if strings.TrimSpace(ref.RegistrationID) == "" {
		return Ref{}, &apperr.InvalidPayloadError{Reason: "missing ticket id"}
	}
	if strings.TrimSpace(ref.EventID) == "" {
		return Ref{}, &apperr.InvalidPayloadError{Reason: "missing event id"}
	}
	return ref, nil
}
