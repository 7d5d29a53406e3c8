// Package employee resolves employee records needed by security actions.
package employee

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/chimerakang/hrconsole-go/rest"
	"github.com/tidwall/gjson"
)

// Backend defines the contract for pluggable employee backends.
type Backend interface {
	// IDByEmail returns the employee id of the account with the given email.
	IDByEmail(ctx context.Context, email string) (string, error)
}

// Service wraps a Backend with input checks.
type Service struct {
	backend Backend
}

// New creates a new employee Service with the given backend.
func New(backend Backend) *Service {
	return &Service{backend: backend}
}

// IDByEmail returns the employee id for email.
func (s *Service) IDByEmail(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", fmt.Errorf("console/employee: email cannot be empty")
	}

	id, err := s.backend.IDByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("console/employee: %w", err)
	}
	return id, nil
}

// RESTBackend reads employee info from the HR API.
type RESTBackend struct {
	rest *rest.Client
}

var _ Backend = (*RESTBackend)(nil)

// NewRESTBackend creates a backend over the shared transport.
func NewRESTBackend(r *rest.Client) *RESTBackend {
	return &RESTBackend{rest: r}
}

// IDByEmail implements Backend. The id may be a JSON number or string.
func (b *RESTBackend) IDByEmail(ctx context.Context, email string) (string, error) {
	resp, err := b.rest.Do(ctx, rest.Request{
		Operation:     "employee_info",
		Method:        http.MethodGet,
		Path:          "/api/v1/employees/getEmployeeInfo/" + url.PathEscape(email),
		Authenticated: true,
	})
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", resp.Error(rest.Authenticated(nil))
	}

	id := gjson.GetBytes(resp.Body, "employee_id")
	if !id.Exists() || id.String() == "" {
		return "", &console.Error{Kind: console.KindUnknown, Message: "employee record has no id", Status: resp.Status}
	}
	return id.String(), nil
}
