package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized matches any failure caused by a 401 that refresh could not resolve
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTransport wraps network failures before any response was received
	ErrTransport = errors.New("transport failure")
)

// Messages shown when the backend gives nothing better
const (
	GenericFailureMessage = "Request failed. Please try again."
	UnauthorizedMessage   = "Your session has expired. Please sign in again."
)

// Error is a backend-reported failure with a user-facing message
type Error struct {
	Status  int
	Message string
	// Raw is the untranslated message from the response body
	Raw string
}

func (e *Error) Error() string {
	return e.Message
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 failures
func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Translator maps raw backend messages to user-facing text
type Translator map[string]string

// DefaultTranslations covers the messages the backend is known to send
var DefaultTranslations = Translator{
	"Unauthorized":                      UnauthorizedMessage,
	"Invalid credentials":               "Incorrect email or password.",
	"Invalid refresh token":             UnauthorizedMessage,
	"Forbidden":                         "You do not have permission to do that.",
	"User not found":                    "That account does not exist.",
	"Email already exists":              "An account with this email already exists.",
	"Subscription not found":            "That subscription no longer exists.",
	"Category not found":                "That category no longer exists.",
	"Category is in use":                "This category is still used by subscriptions.",
	"Payment method not found":          "That payment method no longer exists.",
	"Payment method is in use":          "This payment method is still used by subscriptions.",
	"Currency not found":                "That currency is not supported.",
	"Exchange rate not found":           "No exchange rate is available for that currency.",
	"Invalid request body":              "Some of the submitted data is invalid.",
	"Internal server error":             "Something went wrong on our side. Please try again later.",
	"Too many requests":                 "Too many requests. Please wait a moment.",
	"Registration is disabled":          "New sign-ups are currently disabled.",
	"Cannot delete the last admin":      "At least one administrator must remain.",
	"File too large":                    "The file is too large.",
	"Unsupported file type":             "That file type is not supported.",
	"Validation failed":                 "Some of the submitted data is invalid.",
	"Session expired":                   UnauthorizedMessage,
	"Token expired":                     UnauthorizedMessage,
	"Missing authorization header":      UnauthorizedMessage,
	"Exchange rate service unavailable": "Exchange rates are temporarily unavailable.",
}

// Translate returns the user-facing text for raw. Unknown messages pass
// through; blank ones become GenericFailureMessage.
func (t Translator) Translate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return GenericFailureMessage
	}
	if msg, ok := t[raw]; ok {
		return msg
	}
	return raw
}

// errorMessage extracts the "error" field (or "message") from a failure body
func errorMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	var s string
	if len(payload.Error) > 0 && json.Unmarshal(payload.Error, &s) == nil && strings.TrimSpace(s) != "" {
		return s
	}
	return payload.Message
}
