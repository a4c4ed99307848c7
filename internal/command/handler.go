// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"time"

	"firestige.xyz/bcrelay/internal/capture"
	"firestige.xyz/bcrelay/internal/core"
	"firestige.xyz/bcrelay/internal/relay"
)

// RelayController is the part of the daemon the control plane drives.
type RelayController interface {
	EnableAdapter(name string) error
	DisableAdapter(name string) error
	Adapters() []AdapterStatus
	AddDestination(ip netip.Addr) error
	RemoveDestination(ip netip.Addr) error
	Destinations() []netip.Addr
	PacketsRelayed() uint64
}

// AdapterStatus describes one enabled adapter.
type AdapterStatus struct {
	Name            string `json:"name"`
	PacketsReceived uint64 `json:"packets_received"`
	PacketsDropped  uint64 `json:"packets_dropped"`
}

// ConfigReloader is the interface for reloading configuration.
type ConfigReloader interface {
	Reload() error
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	relay          RelayController
	configReloader ConfigReloader
	listDevices    func() ([]capture.DeviceInfo, error)
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      time.Time
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(rc RelayController, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		relay:          rc,
		configReloader: reloader,
		listDevices:    capture.ListDevices,
		startTime:      time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// SetDeviceLister replaces the interface enumeration used by adapter_available.
func (h *CommandHandler) SetDeviceLister(fn func() ([]capture.DeviceInfo, error)) {
	h.listDevices = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "destination_add", "adapter_enable"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string     `json:"id"`               // matches request ID
	Result any        `json:"result,omitempty"` // success result
	Error  *ErrorInfo `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// Methods
const (
	MethodDestinationAdd    = "destination_add"
	MethodDestinationRemove = "destination_remove"
	MethodDestinationList   = "destination_list"
	MethodAdapterEnable     = "adapter_enable"
	MethodAdapterDisable    = "adapter_disable"
	MethodAdapterList       = "adapter_list"
	MethodAdapterAvailable  = "adapter_available"
	MethodRelayStats        = "relay_stats"
	MethodConfigReload      = "config_reload"
	MethodDaemonStatus      = "daemon_status"
	MethodDaemonShutdown    = "daemon_shutdown"
)

// DestinationParams are the parameters of destination_add and destination_remove.
type DestinationParams struct {
	IP string `json:"ip"`
}

// AdapterParams are the parameters of adapter_enable and adapter_disable.
type AdapterParams struct {
	Name string `json:"name"`
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Debug("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case MethodDestinationAdd:
		return h.handleDestination(cmd, true)
	case MethodDestinationRemove:
		return h.handleDestination(cmd, false)
	case MethodDestinationList:
		return h.handleDestinationList(cmd)
	case MethodAdapterEnable:
		return h.handleAdapter(cmd, true)
	case MethodAdapterDisable:
		return h.handleAdapter(cmd, false)
	case MethodAdapterList:
		return ok(cmd, map[string]any{"adapters": h.relay.Adapters()})
	case MethodAdapterAvailable:
		return h.handleAdapterAvailable(cmd)
	case MethodRelayStats:
		return h.handleRelayStats(cmd)
	case MethodConfigReload:
		return h.handleConfigReload(cmd)
	case MethodDaemonStatus:
		return h.handleDaemonStatus(cmd)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(cmd)
	default:
		return fail(cmd, ErrCodeMethodNotFound, "method %q not found", cmd.Method)
	}
}

func ok(cmd Command, result any) Response {
	return Response{ID: cmd.ID, Result: result}
}

func fail(cmd Command, code int, format string, args ...any) Response {
	return Response{
		ID: cmd.ID,
		Error: &ErrorInfo{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		},
	}
}

func decodeParams(cmd Command, v any) error {
	if len(cmd.Params) == 0 {
		return errors.New("missing params")
	}
	return json.Unmarshal(cmd.Params, v)
}

func (h *CommandHandler) handleDestination(cmd Command, add bool) Response {
	var params DestinationParams
	if err := decodeParams(cmd, &params); err != nil {
		return fail(cmd, ErrCodeInvalidParams, "invalid params: %v", err)
	}
	ip, err := relay.ParseIPv4(params.IP)
	if err != nil {
		return fail(cmd, ErrCodeInvalidParams, "%v", err)
	}

	status := "added"
	if add {
		err = h.relay.AddDestination(ip)
	} else {
		status = "removed"
		err = h.relay.RemoveDestination(ip)
	}
	if err != nil {
		return fail(cmd, codeFor(err), "%s destination failed: %v", cmd.Method, err)
	}
	return ok(cmd, map[string]any{"ip": ip.String(), "status": status})
}

func (h *CommandHandler) handleDestinationList(cmd Command) Response {
	dsts := h.relay.Destinations()
	out := make([]string, len(dsts))
	for i, d := range dsts {
		out[i] = d.String()
	}
	return ok(cmd, map[string]any{"destinations": out})
}

func (h *CommandHandler) handleAdapter(cmd Command, enable bool) Response {
	var params AdapterParams
	if err := decodeParams(cmd, &params); err != nil {
		return fail(cmd, ErrCodeInvalidParams, "invalid params: %v", err)
	}
	if params.Name == "" {
		return fail(cmd, ErrCodeInvalidParams, "adapter name is required")
	}

	var err error
	status := "enabled"
	if enable {
		err = h.relay.EnableAdapter(params.Name)
	} else {
		status = "disabled"
		err = h.relay.DisableAdapter(params.Name)
	}
	if err != nil {
		return fail(cmd, codeFor(err), "%s %s failed: %v", cmd.Method, params.Name, err)
	}
	return ok(cmd, map[string]any{"name": params.Name, "status": status})
}

func (h *CommandHandler) handleAdapterAvailable(cmd Command) Response {
	devs, err := h.listDevices()
	if err != nil {
		return fail(cmd, ErrCodeInternalError, "list devices failed: %v", err)
	}
	return ok(cmd, map[string]any{"devices": devs})
}

func (h *CommandHandler) handleRelayStats(cmd Command) Response {
	return ok(cmd, map[string]any{
		"packets_relayed": h.relay.PacketsRelayed(),
		"destinations":    len(h.relay.Destinations()),
		"adapters":        len(h.relay.Adapters()),
		"uptime_seconds":  int64(time.Since(h.startTime).Seconds()),
	})
}

func (h *CommandHandler) handleConfigReload(cmd Command) Response {
	if h.configReloader == nil {
		return fail(cmd, ErrCodeInternalError, "config reload not supported")
	}
	if err := h.configReloader.Reload(); err != nil {
		return fail(cmd, ErrCodeInternalError, "reload failed: %v", err)
	}
	return ok(cmd, map[string]any{"status": "reloaded"})
}

func (h *CommandHandler) handleDaemonStatus(cmd Command) Response {
	return ok(cmd, map[string]any{
		"status":         "running",
		"pid":            os.Getpid(),
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"started_at":     h.startTime.UTC().Format(time.RFC3339),
	})
}

func (h *CommandHandler) handleDaemonShutdown(cmd Command) Response {
	if h.shutdownFunc == nil {
		return fail(cmd, ErrCodeInternalError, "shutdown not supported")
	}
	// Reply before the daemon starts tearing down the server that sends it.
	go h.shutdownFunc()
	return ok(cmd, map[string]any{"status": "shutting_down"})
}

// codeFor maps relay errors onto JSON-RPC codes.
func codeFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidArgument),
		errors.Is(err, core.ErrInvalidAddress),
		errors.Is(err, core.ErrDeviceNotFound):
		return ErrCodeInvalidParams
	default:
		return ErrCodeInternalError
	}
}
