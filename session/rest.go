package session

import (
	"context"
	"net/http"
	"net/url"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/chimerakang/hrconsole-go/rest"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

const adminSessionsPath = "/api/v1/admin/sessions"

// RESTBackend talks to the admin session endpoints.
type RESTBackend struct {
	rest *rest.Client
}

var _ Backend = (*RESTBackend)(nil)

// NewRESTBackend creates a backend over the shared transport.
func NewRESTBackend(r *rest.Client) *RESTBackend {
	return &RESTBackend{rest: r}
}

// List implements Backend. A body that is not a JSON array yields an empty list.
func (b *RESTBackend) List(ctx context.Context, userEmail string) ([]console.SessionDescriptor, error) {
	resp, err := b.rest.Do(ctx, rest.Request{
		Operation:     "sessions_list",
		Method:        http.MethodGet,
		Path:          adminSessionsPath + "/active",
		Query:         map[string]string{"userEmail": userEmail},
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.Error(rest.Authenticated(nil))
	}
	if !gjson.ValidBytes(resp.Body) || !gjson.ParseBytes(resp.Body).IsArray() {
		return []console.SessionDescriptor{}, nil
	}

	var out []console.SessionDescriptor
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, &console.Error{Kind: console.KindUnknown, Message: "malformed session list", Err: err}
	}
	return out, nil
}

// Terminate implements Backend.
func (b *RESTBackend) Terminate(ctx context.Context, sessionID string) error {
	return b.post(ctx, "session_terminate", adminSessionsPath+"/"+url.PathEscape(sessionID)+"/terminate")
}

// TerminateAll implements Backend.
func (b *RESTBackend) TerminateAll(ctx context.Context, userEmail string) error {
	return b.post(ctx, "session_terminate_all", adminSessionsPath+"/user/"+url.PathEscape(userEmail)+"/terminate-all")
}

func (b *RESTBackend) post(ctx context.Context, op, path string) error {
	resp, err := b.rest.Do(ctx, rest.Request{
		Operation:     op,
		Method:        http.MethodPost,
		Path:          path,
		Authenticated: true,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return resp.Error(rest.Authenticated(nil))
	}
	return nil
}
