// Package heat wraps the OpenStack Heat orchestration API behind the
// surface-only contract in spec.md §4.7: stack_create, stack_output,
// stack_delete, with Heat's raw errors translated into the three typed
// errors the dispatcher's classification switch understands.
package heat

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/orchestration/v1/stacks"

	"github.com/sony/gobreaker"
)

// Stack is the subset of Heat's stack resource this core consumes.
type Stack struct {
	ID string
}

// Client talks to Heat through an authenticated gophercloud service client,
// wrapped in a circuit breaker so a flapping OpenStack control plane doesn't
// pin every worker on slow HTTP timeouts (grounded on the breaker pattern
// used for the Kubernetes API client elsewhere in the pack).
type Client struct {
	svc     *gophercloud.ServiceClient
	breaker *gobreaker.CircuitBreaker
}

// Config holds the OpenStack credentials and endpoint selection
// (openstack.os_auth_url/os_username/os_password/os_tenant_name in spec.md §6).
type Config struct {
	AuthURL    string
	Username   string
	Password   string
	TenantName string
	Region     string
	Insecure   bool
}

// NewClient authenticates against Keystone and resolves the Heat endpoint.
func NewClient(cfg Config) (*Client, error) {
	authOpts := gophercloud.AuthOptions{
		IdentityEndpoint: cfg.AuthURL,
		Username:         cfg.Username,
		Password:         cfg.Password,
		TenantName:       cfg.TenantName,
	}

	provider, err := openstack.AuthenticatedClient(authOpts)
	if err != nil {
		return nil, fmt.Errorf("heat: authenticating: %w", err)
	}

	svc, err := openstack.NewOrchestrationV1(provider, gophercloud.EndpointOpts{Region: cfg.Region})
	if err != nil {
		return nil, fmt.Errorf("heat: resolving orchestration endpoint: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "heat",
		MaxRequests: 1,
		Timeout:     0, // defaults: 60s open period
	})

	return &Client{svc: svc, breaker: breaker}, nil
}

// StackCreate submits a new stack and returns its id (spec.md §4.4 step 6).
func (c *Client) StackCreate(ctx context.Context, stackName string, params map[string]any, template string) (Stack, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		opts := stacks.CreateOpts{
			Name:         stackName,
			TemplateOpts: &stacks.Template{TE: stacks.TE{Bin: []byte(template)}},
			Parameters:   params,
			Timeout:      60,
		}
		return stacks.Create(c.svc, opts).Extract()
	})
	if err != nil {
		if errCode, ok := err.(gophercloud.ErrDefault400); ok {
			return Stack{}, classifyCreateError(errCode.Error())
		}
		return Stack{}, fmt.Errorf("heat: creating stack %s: %w", stackName, err)
	}
	created := res.(*stacks.CreatedStack)
	return Stack{ID: created.ID}, nil
}

// StackOutput retrieves a stack's outputs as a flat map, or nil if outputs
// are not yet populated (spec.md §4.4 step 1-2).
func (c *Client) StackOutput(ctx context.Context, stackName, stackID string) (map[string]string, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		return stacks.Get(c.svc, stackName, stackID).Extract()
	})
	if err != nil {
		if _, ok := err.(gophercloud.ErrDefault404); ok {
			return nil, NewAVMNotFoundError(fmt.Sprintf("stack %s not found", stackName))
		}
		return nil, fmt.Errorf("heat: getting stack %s output: %w", stackName, err)
	}

	stack := res.(*stacks.RetrievedStack)
	if len(stack.Outputs) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(stack.Outputs))
	for _, o := range stack.Outputs {
		key, _ := o["output_key"].(string)
		value, _ := o["output_value"].(string)
		out[key] = value
	}
	return out, nil
}

// StackDelete removes a stack, looking its id up by name first (spec.md §4.4 "Delete").
func (c *Client) StackDelete(ctx context.Context, stackName string) error {
	_, err := c.breaker.Execute(func() (any, error) {
		page, err := stacks.List(c.svc, stacks.ListOpts{Name: stackName}).AllPages()
		if err != nil {
			return nil, err
		}
		all, err := stacks.ExtractStacks(page)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return nil, gophercloud.ErrDefault404{}
		}
		return nil, stacks.Delete(c.svc, stackName, all[0].ID).ExtractErr()
	})
	if err != nil {
		if _, ok := err.(gophercloud.ErrDefault404); ok {
			return NewAVMNotFoundError(fmt.Sprintf("stack %s not found", stackName))
		}
		return fmt.Errorf("heat: deleting stack %s: %w", stackName, err)
	}
	return nil
}
