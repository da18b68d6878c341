package oauth

import "log/slog"

const redactedText = "[REDACTED]"

// RedactedToken wraps a credential so that printing, logging or serialising
// it never reveals the value. Only Value returns the real string.
//
//	tok := oauth.NewRedactedToken(set.RefreshToken)
//	slog.Debug("refreshing", "refresh_token", tok) // refresh_token=[REDACTED]
type RedactedToken struct {
	value string
}

// NewRedactedToken wraps value.
func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the wrapped credential. Never log the result.
func (t RedactedToken) Value() string {
	return t.value
}

// IsEmpty reports whether the wrapped value is empty.
func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

func (t RedactedToken) String() string {
	if t.value == "" {
		return ""
	}
	return redactedText
}

func (t RedactedToken) GoString() string {
	return "oauth.RedactedToken{" + redactedText + "}"
}

// LogValue implements slog.LogValuer.
func (t RedactedToken) LogValue() slog.Value {
	return slog.StringValue(t.String())
}

func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte(redactedText), nil
}

func (t RedactedToken) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedText + `"`), nil
}
