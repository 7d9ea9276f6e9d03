// Package camunda connects the portal to the Zeebe broker that runs the review process.
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"admissions-portal/internal/common/errors"
)

// Client wraps the Zeebe gRPC client with retry and error mapping.
type Client struct {
	client zbc.Client
	config *ClientConfig
}

type ClientConfig struct {
	GatewayAddress         string
	UsePlaintextConnection bool
	ConnectionTimeout      time.Duration
	RequestTimeout         time.Duration
	RetryConfig            *RetryConfig
}

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

var DefaultRetryConfig = &RetryConfig{
	MaxRetries: 3,
	BaseDelay:  1 * time.Second,
	MaxDelay:   10 * time.Second,
}

// NewClient connects with plaintext and default timeouts.
func NewClient(address string) (*Client, error) {
	return NewClientWithConfig(&ClientConfig{
		GatewayAddress:         address,
		UsePlaintextConnection: true,
		ConnectionTimeout:      10 * time.Second,
		RequestTimeout:         30 * time.Second,
		RetryConfig:            DefaultRetryConfig,
	})
}

// NewClientWithConfig dials the gateway and checks the topology before returning.
func NewClientWithConfig(config *ClientConfig) (*Client, error) {
	if config.RetryConfig == nil {
		config.RetryConfig = DefaultRetryConfig
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}

	zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         config.GatewayAddress,
		UsePlaintextConnection: config.UsePlaintextConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectionTimeout)
	defer cancel()

	if _, err := zeebeClient.NewTopologyCommand().Send(ctx); err != nil {
		zeebeClient.Close()
		return nil, fmt.Errorf("failed to connect to Zeebe broker at %s: %w", config.GatewayAddress, err)
	}

	return &Client{client: zeebeClient, config: config}, nil
}

// GetClient returns the raw Zeebe client for job workers.
func (c *Client) GetClient() zbc.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

// StartProcess creates an instance of the latest deployed version of processID and
// returns its key.
func (c *Client) StartProcess(ctx context.Context, processID string, variables interface{}) (int64, error) {
	result, err := c.ExecuteWithRetry(ctx, func(ctx context.Context) (interface{}, error) {
		cmd, err := c.client.NewCreateInstanceCommand().
			BPMNProcessId(processID).
			LatestVersion().
			VariablesFromObject(variables)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
		resp, err := cmd.Send(ctx)
		if err != nil {
			return nil, err
		}
		return resp.GetProcessInstanceKey(), nil
	}, "create-instance:"+processID)
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// ExecuteWithRetry runs commandFunc with exponential backoff. Only transient errors
// (timeouts, connection trouble) are retried.
func (c *Client) ExecuteWithRetry(
	ctx context.Context,
	commandFunc func(context.Context) (interface{}, error),
	operationName string,
) (interface{}, error) {
	return executeWithRetry(ctx, c.config.RetryConfig, commandFunc, operationName)
}

func executeWithRetry(
	ctx context.Context,
	retry *RetryConfig,
	commandFunc func(context.Context) (interface{}, error),
	operationName string,
) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		result, err := commandFunc(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryableZeebeError(err) || attempt == retry.MaxRetries {
			return nil, mapZeebeError(err, operationName, attempt)
		}

		delay := retry.BaseDelay * time.Duration(1<<attempt)
		if delay > retry.MaxDelay {
			delay = retry.MaxDelay
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("operation %s cancelled after %d attempts: %w", operationName, attempt, ctx.Err())
		}
	}

	return nil, fmt.Errorf("operation %s failed after %d retries: %w", operationName, retry.MaxRetries, lastErr)
}

// errorClass buckets a gateway error. gRPC status codes are authoritative; plain errors
// (from dialing, or wrapped by the client) fall back to message matching.
type errorClass int

const (
	classUnknown errorClass = iota
	classUnavailable
	classTimeout
	classNotFound
	classConflict
	classDenied
)

var phraseClasses = []struct {
	phrase string
	class  errorClass
}{
	{"connection refused", classUnavailable},
	{"connection reset", classUnavailable},
	{"broken pipe", classUnavailable},
	{"unavailable", classUnavailable},
	{"unreachable", classUnavailable},
	{"deadline exceeded", classTimeout},
	{"timeout", classTimeout},
	{"not found", classNotFound},
	{"already exists", classConflict},
	{"permission denied", classDenied},
	{"unauthorized", classDenied},
	{"unauthenticated", classDenied},
}

func classify(err error) errorClass {
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
			return classUnavailable
		case codes.DeadlineExceeded:
			return classTimeout
		case codes.NotFound:
			return classNotFound
		case codes.AlreadyExists, codes.FailedPrecondition:
			return classConflict
		case codes.PermissionDenied, codes.Unauthenticated:
			return classDenied
		}
	}
	msg := strings.ToLower(err.Error())
	for _, pc := range phraseClasses {
		if strings.Contains(msg, pc.phrase) {
			return pc.class
		}
	}
	return classUnknown
}

func isRetryableZeebeError(err error) bool {
	c := classify(err)
	return c == classUnavailable || c == classTimeout
}

// mapZeebeError converts gateway errors into StandardErrors.
func mapZeebeError(err error, operation string, attempt int) error {
	summary := fmt.Sprintf("zeebe %s failed", operation)
	if attempt > 0 {
		summary += fmt.Sprintf(" after %d retries", attempt)
	}
	wrapped := fmt.Errorf("%s: %w", summary, err)

	switch classify(err) {
	case classTimeout:
		return errors.NewTimeoutError("zeebe", wrapped)
	case classNotFound:
		return errors.NewResourceNotFoundError("zeebe", wrapped.Error())
	case classConflict:
		return errors.NewBusinessRuleError(wrapped.Error(), "process instance conflicts with broker state")
	case classDenied:
		return errors.NewAuthenticationError(wrapped.Error())
	default:
		return errors.NewExternalServiceError("zeebe", wrapped)
	}
}

// HealthCheck asks the broker for its topology.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectionTimeout)
	defer cancel()

	if _, err := c.client.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe health check failed: %w", err)
	}
	return nil
}
