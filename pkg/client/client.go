// Package client is the public entry point of the MeshRPC Go SDK. It
// wires the tool registry, HTTP transport, invoker and dispatch loop, and
// offers the caller-side path for invoking tools on the cluster.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meshrpc/meshrpc-go/pkg/dispatch"
	"github.com/meshrpc/meshrpc-go/pkg/invoker"
	"github.com/meshrpc/meshrpc-go/pkg/tools"
	"github.com/meshrpc/meshrpc-go/pkg/transport"
)

// DefaultEndpoint is the hosted MeshRPC API.
const DefaultEndpoint = "https://api.meshrpc.dev"

// ErrInvalidSecret is returned when the API secret is not of the form
// sk_<clusterID>_<random>.
var ErrInvalidSecret = errors.New("invalid API secret")

// Options configures a Client.
type Options struct {
	// APISecret is the cluster secret, sk_<clusterID>_<random>. Required.
	APISecret string

	// Endpoint overrides the hosted API endpoint.
	Endpoint string

	// MachineID identifies this machine; defaults to a generated UUID.
	MachineID string

	// Logger is used by all components; defaults to a disabled logger so
	// the SDK stays quiet unless the host opts in.
	Logger *zerolog.Logger
}

// Client exposes local tools to a MeshRPC cluster and can invoke tools
// registered elsewhere on the same cluster.
type Client struct {
	transport *transport.Client
	registry  *tools.Registry
	loop      *dispatch.Loop
	machineID string
	clusterID string
	logger    zerolog.Logger
}

// New creates a client. The cluster ID is derived from the API secret.
func New(opts Options) (*Client, error) {
	clusterID, err := ParseAPISecret(opts.APISecret)
	if err != nil {
		return nil, err
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	machineID := opts.MachineID
	if machineID == "" {
		machineID = uuid.New().String()
	}

	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = zerolog.Nop()
	}

	httpTransport := transport.NewClient(transport.Config{
		Endpoint:  endpoint,
		APISecret: opts.APISecret,
		ClusterID: clusterID,
		MachineID: machineID,
		Logger:    logger.With().Str("component", "transport").Logger(),
	})

	registry := tools.NewRegistry()
	inv := invoker.New(registry, logger.With().Str("component", "invoker").Logger())
	loop := dispatch.New(httpTransport, registry, inv, logger.With().Str("component", "dispatch").Logger())

	return &Client{
		transport: httpTransport,
		registry:  registry,
		loop:      loop,
		machineID: machineID,
		clusterID: clusterID,
		logger:    logger,
	}, nil
}

// ParseAPISecret extracts the cluster ID from an sk_<cluster>_<random>
// secret.
func ParseAPISecret(secret string) (string, error) {
	parts := strings.Split(secret, "_")
	if len(parts) != 3 || parts[0] != "sk" || parts[1] == "" {
		return "", ErrInvalidSecret
	}
	return parts[1], nil
}

// Register adds a tool to this machine. Tools must be registered before
// Listen; registering while listening fails.
func (c *Client) Register(tool tools.Tool) error {
	if err := c.registry.Register(tool); err != nil {
		return err
	}
	c.logger.Info().Str("tool", tool.Name).Msg("Tool registered")
	return nil
}

// MustRegister is Register for program-level tool wiring, panicking on
// definition errors.
func (c *Client) MustRegister(tool tools.Tool) {
	if err := c.Register(tool); err != nil {
		panic(err)
	}
}

// Listen registers the machine with the cluster and starts polling for
// jobs in the background. It returns once registration succeeded.
func (c *Client) Listen() error {
	return c.loop.Start()
}

// Unlisten stops the background polling loop. Safe to call repeatedly.
func (c *Client) Unlisten() error {
	return c.loop.Stop()
}

// Running reports whether the agent is currently polling.
func (c *Client) Running() bool {
	return c.loop.Running()
}

// Err surfaces the terminal error when the agent stopped itself after
// repeated poll failures.
func (c *Client) Err() error {
	return c.loop.Err()
}

// MachineID returns this client's machine identity.
func (c *Client) MachineID() string {
	return c.machineID
}

// ClusterID returns the cluster this client is bound to.
func (c *Client) ClusterID() string {
	return c.clusterID
}

// CallTool invokes a tool registered on the cluster and waits for its
// result: one job creation with a bounded inline wait, then fixed-interval
// status polling until the job is terminal.
func (c *Client) CallTool(ctx context.Context, toolName string, input map[string]interface{}) (interface{}, error) {
	return c.CallToolWithOptions(ctx, toolName, input, transport.PollOptions{
		WaitSeconds: 20,
	})
}

// CallToolWithOptions is CallTool with explicit polling options.
func (c *Client) CallToolWithOptions(ctx context.Context, toolName string, input map[string]interface{}, opts transport.PollOptions) (interface{}, error) {
	job, err := c.transport.CreateAndPollJob(ctx, toolName, input, opts)
	if err != nil {
		return nil, fmt.Errorf("call to tool '%s' failed: %w", toolName, err)
	}
	return job.Result, nil
}

// ListTools returns the tools currently registered on the cluster.
func (c *Client) ListTools(ctx context.Context) ([]transport.ClusterTool, error) {
	return c.transport.ListClusterTools(ctx)
}
