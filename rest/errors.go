package rest

import (
	"net/http"
	"strings"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/tidwall/gjson"
)

// StatusKinds maps HTTP statuses to error kinds for one operation.
type StatusKinds map[int]console.ErrorKind

// Authenticated returns kinds for a call made with a bearer token: 401 is always
// SessionExpired and 429 is always RateLimited, plus the operation's extras.
func Authenticated(extra StatusKinds) StatusKinds {
	k := StatusKinds{
		http.StatusUnauthorized:    console.KindSessionExpired,
		http.StatusTooManyRequests: console.KindRateLimited,
	}
	for status, kind := range extra {
		k[status] = kind
	}
	return k
}

// Message extracts the best human-readable message from a response body:
// a plain string body first, then the JSON "error" field, then "message".
func Message(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	if !gjson.Valid(trimmed) {
		return trimmed
	}
	parsed := gjson.Parse(trimmed)
	if parsed.Type == gjson.String {
		return parsed.String()
	}
	if v := parsed.Get("error"); v.Exists() && v.Type == gjson.String && v.String() != "" {
		return v.String()
	}
	if v := parsed.Get("message"); v.Exists() && v.Type == gjson.String && v.String() != "" {
		return v.String()
	}
	return ""
}

// Code returns the structured error code of a JSON body, or "".
func Code(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	return gjson.GetBytes(body, "code").String()
}

// Error classifies a non-2xx response. A recognised structured "code" in the body
// wins; otherwise the status is looked up in kinds; anything else is KindUnknown
// carrying the body's message.
func (r *Response) Error(kinds StatusKinds) *console.Error {
	msg := Message(r.Body)
	if kind, ok := console.KindForCode(Code(r.Body)); ok {
		return &console.Error{Kind: kind, Message: msg, Status: r.Status}
	}
	if kind, ok := kinds[r.Status]; ok {
		return &console.Error{Kind: kind, Message: msg, Status: r.Status}
	}
	if msg == "" {
		msg = http.StatusText(r.Status)
		if msg == "" {
			msg = "request failed"
		}
	}
	return &console.Error{Kind: console.KindUnknown, Message: msg, Status: r.Status}
}
