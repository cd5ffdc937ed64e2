// Package amqpadmin drives the RabbitMQ HTTP management API to provision and
// tear down per-AVM broker credentials (spec.md §4.7 "AMQP admin").
package amqpadmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"
)

// Error reports a non-2xx response from the management API, carrying the
// HTTP status and the server's reported reason (spec.md §4.7: "each
// returning success or a typed error with HTTP status and server reason").
type Error struct {
	Status int
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Reason)
}

// IsNotFound reports whether err is a 404 from the management API, used by
// callers that tolerate an already-removed user (spec.md §4.4 "Delete").
func IsNotFound(err error) bool {
	var aerr *Error
	return errorsAs(err, &aerr) && aerr.Status == http.StatusNotFound
}

func errorsAs(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

// Client talks to the RabbitMQ management API over HTTP Basic auth.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// New constructs a Client. baseURL is the management plugin's root, e.g.
// "http://localhost:15672".
func New(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "amqp-admin",
		}),
	}
}

func (c *Client) request(ctx context.Context, method string, path []string, body any) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/api/" + joinPath(path)

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	res, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth(c.username, c.password)
		return c.http.Do(req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*http.Response), nil
}

func joinPath(segments []string) string {
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "/"
		}
		out += url.PathEscape(s)
	}
	return out
}

type apiError struct {
	Reason string `json:"reason"`
}

func checkStatus(res *http.Response, want int) error {
	defer res.Body.Close()
	if res.StatusCode == want {
		return nil
	}
	var e apiError
	_ = json.NewDecoder(res.Body).Decode(&e)
	return &Error{Status: res.StatusCode, Reason: e.Reason}
}

// CreateUser creates a RabbitMQ user with no tags (not an admin/management user).
func (c *Client) CreateUser(ctx context.Context, username, password string) error {
	res, err := c.request(ctx, http.MethodPut, []string{"users", username}, map[string]string{
		"password": password,
		"tags":     "",
	})
	if err != nil {
		return fmt.Errorf("amqpadmin: creating user %s: %w", username, err)
	}
	return checkStatus(res, http.StatusNoContent)
}

// DeleteUser removes a RabbitMQ user.
func (c *Client) DeleteUser(ctx context.Context, username string) error {
	res, err := c.request(ctx, http.MethodDelete, []string{"users", username}, nil)
	if err != nil {
		return fmt.Errorf("amqpadmin: deleting user %s: %w", username, err)
	}
	return checkStatus(res, http.StatusNoContent)
}

// SetUserPermissions scopes a user's read access to its own AVM's event
// routing keys, with no configure/write permissions on the vhost
// (spec.md §4.4: AMQP user+queue setup).
func (c *Client) SetUserPermissions(ctx context.Context, vhost, username, avmID string) error {
	res, err := c.request(ctx, http.MethodPut, []string{"permissions", vhost, username}, map[string]string{
		"configure": "",
		"write":     "",
		"read":      fmt.Sprintf("android-events.%s.*", avmID),
	})
	if err != nil {
		return fmt.Errorf("amqpadmin: setting permissions for %s: %w", username, err)
	}
	return checkStatus(res, http.StatusNoContent)
}
