package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"firestige.xyz/bcrelay/internal/core"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends one request and waits for its response. A daemon that is not
// listening yields an error wrapping core.ErrDaemonNotRunning.
func (c *UDSClient) Call(ctx context.Context, method string, params any) (*Response, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%s: %w", c.socketPath, core.ErrDaemonNotRunning)
		}
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano())
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxRequestBytes)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if got := fmt.Sprintf("%v", rpcResp.ID); got != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, got)
	}

	return &Response{
		ID:     reqID,
		Result: rpcResp.Result,
		Error:  rpcResp.Error,
	}, nil
}

// DestinationAdd adds a relay destination.
func (c *UDSClient) DestinationAdd(ctx context.Context, ip string) (*Response, error) {
	return c.Call(ctx, MethodDestinationAdd, DestinationParams{IP: ip})
}

// DestinationRemove removes a relay destination.
func (c *UDSClient) DestinationRemove(ctx context.Context, ip string) (*Response, error) {
	return c.Call(ctx, MethodDestinationRemove, DestinationParams{IP: ip})
}

// DestinationList lists relay destinations.
func (c *UDSClient) DestinationList(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodDestinationList, nil)
}

// AdapterEnable starts relaying from an interface.
func (c *UDSClient) AdapterEnable(ctx context.Context, name string) (*Response, error) {
	return c.Call(ctx, MethodAdapterEnable, AdapterParams{Name: name})
}

// AdapterDisable stops relaying from an interface.
func (c *UDSClient) AdapterDisable(ctx context.Context, name string) (*Response, error) {
	return c.Call(ctx, MethodAdapterDisable, AdapterParams{Name: name})
}

// AdapterList lists enabled interfaces.
func (c *UDSClient) AdapterList(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodAdapterList, nil)
}

// AdapterAvailable lists interfaces that can be captured on.
func (c *UDSClient) AdapterAvailable(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodAdapterAvailable, nil)
}

// RelayStats returns relay counters.
func (c *UDSClient) RelayStats(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodRelayStats, nil)
}

// DaemonStatus returns daemon status.
func (c *UDSClient) DaemonStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodDaemonStatus, nil)
}

// DaemonShutdown asks the daemon to stop.
func (c *UDSClient) DaemonShutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodDaemonShutdown, nil)
}

// Ping checks that the daemon answers.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.DaemonStatus(ctx)
	return err
}
