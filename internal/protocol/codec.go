package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Encode serializes an outbound command to its wire form.
func Encode(cmd Command) (string, error) {
	if cmd.Type == "" {
		return "", fmt.Errorf("encode: empty command type")
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses one inbound text frame. The server is trusted but the wire
// format may evolve, so anything that is not a JSON object with a non-empty
// "type" is discarded (ok=false) rather than escalated as an error.
func Decode(raw string) (Envelope, bool) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return Envelope{}, false
	}
	if env.Type == "" {
		return Envelope{}, false
	}
	return env, true
}

// FlexInt64 decodes a value that legitimately arrives either as a JSON
// number or as a numeric string. Anything else decodes to zero.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			*f = 0
			return nil
		}
		s = strings.TrimSpace(str)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = FlexInt64(n)
		return nil
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		*f = FlexInt64(int64(fl))
		return nil
	}
	*f = 0
	return nil
}

func (f FlexInt64) Int64() int64 { return int64(f) }

// NormalizeRoomCode trims, uppercases, and strips internal spaces so user
// input and server-delivered codes always compare equal.
func NormalizeRoomCode(code string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(code)), " ", "")
}

// IsTerminalStatus reports whether a match player status excludes further
// participation in the current match.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusFinished, StatusDeath, StatusLeave:
		return true
	}
	return false
}

// ValidItemID checks the namespace:path shape of a registry identifier.
// The client has no item registry of its own, so shape is all it can
// verify before trusting a server-delivered target item.
func ValidItemID(id string) bool {
	ns, path, found := strings.Cut(id, ":")
	if !found || ns == "" || path == "" {
		return false
	}
	for _, r := range ns {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-' || r == '.') {
			return false
		}
	}
	for _, r := range path {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-' || r == '.' || r == '/') {
			return false
		}
	}
	return true
}
