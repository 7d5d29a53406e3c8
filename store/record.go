package store

import console "github.com/chimerakang/hrconsole-go"

// Persisted field names. They match the keys the browser console kept in
// local storage, so a session file can be inspected side by side.
const (
	FieldToken     = "user"
	FieldRole      = "role"
	FieldSessionID = "sessionId"
	FieldUserEmail = "userEmail"
)

type record struct {
	Token     string `json:"user"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	UserEmail string `json:"userEmail,omitempty"`
}

func toRecord(s console.Session) record {
	return record{Token: s.Token, Role: string(s.Role), SessionID: s.SessionID, UserEmail: s.UserEmail}
}

func (r record) session() *console.Session {
	if r.Token == "" {
		return nil
	}
	return &console.Session{
		Token:     r.Token,
		Role:      console.ParseRole(r.Role),
		SessionID: r.SessionID,
		UserEmail: r.UserEmail,
	}
}
