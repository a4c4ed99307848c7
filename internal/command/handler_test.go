package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/bcrelay/internal/capture"
	"firestige.xyz/bcrelay/internal/core"
)

type mockRelay struct {
	mock.Mock
}

func (m *mockRelay) EnableAdapter(name string) error  { return m.Called(name).Error(0) }
func (m *mockRelay) DisableAdapter(name string) error { return m.Called(name).Error(0) }

func (m *mockRelay) Adapters() []AdapterStatus {
	return m.Called().Get(0).([]AdapterStatus)
}

func (m *mockRelay) AddDestination(ip netip.Addr) error    { return m.Called(ip).Error(0) }
func (m *mockRelay) RemoveDestination(ip netip.Addr) error { return m.Called(ip).Error(0) }

func (m *mockRelay) Destinations() []netip.Addr {
	return m.Called().Get(0).([]netip.Addr)
}

func (m *mockRelay) PacketsRelayed() uint64 {
	return m.Called().Get(0).(uint64)
}

type reloaderFunc func() error

func (f reloaderFunc) Reload() error { return f() }

func command(t *testing.T, method string, params any) Command {
	t.Helper()
	cmd := Command{Method: method, ID: "t-1"}
	if params != nil {
		data, err := json.Marshal(params)
		require.NoError(t, err)
		cmd.Params = data
	}
	return cmd
}

// resultMap round-trips a result through JSON the way a client sees it.
func resultMap(t *testing.T, resp Response) map[string]any {
	t.Helper()
	require.Nil(t, resp.Error)
	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHandleDestinationAdd(t *testing.T) {
	rc := new(mockRelay)
	rc.On("AddDestination", netip.MustParseAddr("192.168.3.5")).Return(nil).Once()
	h := NewCommandHandler(rc, nil)

	resp := h.Handle(context.Background(), command(t, MethodDestinationAdd, DestinationParams{IP: "192.168.3.5"}))

	assert.Equal(t, "t-1", resp.ID)
	res := resultMap(t, resp)
	assert.Equal(t, "192.168.3.5", res["ip"])
	assert.Equal(t, "added", res["status"])
	rc.AssertExpectations(t)
}

func TestHandleDestinationRemove(t *testing.T) {
	rc := new(mockRelay)
	rc.On("RemoveDestination", netip.MustParseAddr("10.8.0.9")).Return(nil).Once()
	h := NewCommandHandler(rc, nil)

	resp := h.Handle(context.Background(), command(t, MethodDestinationRemove, DestinationParams{IP: "10.8.0.9"}))

	assert.Equal(t, "removed", resultMap(t, resp)["status"])
	rc.AssertExpectations(t)
}

func TestHandleDestinationInvalidParams(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"missing params", Command{Method: MethodDestinationAdd}},
		{"malformed params", Command{Method: MethodDestinationAdd, Params: json.RawMessage(`{"ip":`)}},
		{"not an address", Command{Method: MethodDestinationAdd, Params: json.RawMessage(`{"ip":"relay-host"}`)}},
		{"ipv6", Command{Method: MethodDestinationRemove, Params: json.RawMessage(`{"ip":"fe80::1"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := new(mockRelay)
			resp := NewCommandHandler(rc, nil).Handle(context.Background(), tt.cmd)
			require.NotNil(t, resp.Error)
			assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
			rc.AssertNotCalled(t, "AddDestination", mock.Anything)
			rc.AssertNotCalled(t, "RemoveDestination", mock.Anything)
		})
	}
}

func TestHandleDestinationList(t *testing.T) {
	rc := new(mockRelay)
	rc.On("Destinations").Return([]netip.Addr{
		netip.MustParseAddr("10.8.0.9"),
		netip.MustParseAddr("192.168.3.5"),
	})
	h := NewCommandHandler(rc, nil)

	res := resultMap(t, h.Handle(context.Background(), command(t, MethodDestinationList, nil)))

	assert.Equal(t, []any{"10.8.0.9", "192.168.3.5"}, res["destinations"])
}

func TestHandleAdapterEnableDisable(t *testing.T) {
	rc := new(mockRelay)
	rc.On("EnableAdapter", "eth0").Return(nil).Once()
	rc.On("DisableAdapter", "eth0").Return(nil).Once()
	h := NewCommandHandler(rc, nil)

	res := resultMap(t, h.Handle(context.Background(), command(t, MethodAdapterEnable, AdapterParams{Name: "eth0"})))
	assert.Equal(t, "enabled", res["status"])

	res = resultMap(t, h.Handle(context.Background(), command(t, MethodAdapterDisable, AdapterParams{Name: "eth0"})))
	assert.Equal(t, "disabled", res["status"])
	assert.Equal(t, "eth0", res["name"])

	rc.AssertExpectations(t)
}

func TestHandleAdapterErrors(t *testing.T) {
	rc := new(mockRelay)
	rc.On("EnableAdapter", "eth9").Return(fmt.Errorf("open eth9: %w", core.ErrDeviceNotFound))
	rc.On("EnableAdapter", "eth1").Return(errors.New("permission denied"))
	h := NewCommandHandler(rc, nil)

	resp := h.Handle(context.Background(), command(t, MethodAdapterEnable, AdapterParams{}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)

	resp = h.Handle(context.Background(), command(t, MethodAdapterEnable, AdapterParams{Name: "eth9"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)

	resp = h.Handle(context.Background(), command(t, MethodAdapterEnable, AdapterParams{Name: "eth1"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "permission denied")
}

func TestHandleAdapterList(t *testing.T) {
	rc := new(mockRelay)
	rc.On("Adapters").Return([]AdapterStatus{{Name: "eth0", PacketsReceived: 12, PacketsDropped: 1}})
	h := NewCommandHandler(rc, nil)

	res := resultMap(t, h.Handle(context.Background(), command(t, MethodAdapterList, nil)))

	adapters, ok := res["adapters"].([]any)
	require.True(t, ok)
	require.Len(t, adapters, 1)
	first := adapters[0].(map[string]any)
	assert.Equal(t, "eth0", first["name"])
	assert.EqualValues(t, 12, first["packets_received"])
	assert.EqualValues(t, 1, first["packets_dropped"])
}

func TestHandleAdapterAvailable(t *testing.T) {
	h := NewCommandHandler(new(mockRelay), nil)
	h.SetDeviceLister(func() ([]capture.DeviceInfo, error) {
		return []capture.DeviceInfo{{Name: "eth0", Addresses: []string{"192.168.1.2"}}}, nil
	})

	res := resultMap(t, h.Handle(context.Background(), command(t, MethodAdapterAvailable, nil)))
	devices := res["devices"].([]any)
	require.Len(t, devices, 1)
	assert.Equal(t, "eth0", devices[0].(map[string]any)["name"])

	h.SetDeviceLister(func() ([]capture.DeviceInfo, error) { return nil, errors.New("no pcap") })
	resp := h.Handle(context.Background(), command(t, MethodAdapterAvailable, nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestHandleRelayStats(t *testing.T) {
	rc := new(mockRelay)
	rc.On("PacketsRelayed").Return(uint64(42))
	rc.On("Destinations").Return([]netip.Addr{netip.MustParseAddr("192.168.3.5")})
	rc.On("Adapters").Return([]AdapterStatus{{Name: "eth0"}, {Name: "eth1"}})
	h := NewCommandHandler(rc, nil)

	res := resultMap(t, h.Handle(context.Background(), command(t, MethodRelayStats, nil)))

	assert.EqualValues(t, 42, res["packets_relayed"])
	assert.EqualValues(t, 1, res["destinations"])
	assert.EqualValues(t, 2, res["adapters"])
	assert.Contains(t, res, "uptime_seconds")
}

func TestHandleConfigReload(t *testing.T) {
	h := NewCommandHandler(new(mockRelay), nil)
	resp := h.Handle(context.Background(), command(t, MethodConfigReload, nil))
	require.NotNil(t, resp.Error)

	calls := 0
	h = NewCommandHandler(new(mockRelay), reloaderFunc(func() error { calls++; return nil }))
	assert.Equal(t, "reloaded", resultMap(t, h.Handle(context.Background(), command(t, MethodConfigReload, nil)))["status"])
	assert.Equal(t, 1, calls)

	h = NewCommandHandler(new(mockRelay), reloaderFunc(func() error { return errors.New("bad yaml") }))
	resp = h.Handle(context.Background(), command(t, MethodConfigReload, nil))
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "bad yaml")
}

func TestHandleDaemonStatus(t *testing.T) {
	h := NewCommandHandler(new(mockRelay), nil)
	res := resultMap(t, h.Handle(context.Background(), command(t, MethodDaemonStatus, nil)))
	assert.Equal(t, "running", res["status"])
	assert.Contains(t, res, "pid")
	assert.Contains(t, res, "started_at")
}

func TestHandleDaemonShutdown(t *testing.T) {
	h := NewCommandHandler(new(mockRelay), nil)
	resp := h.Handle(context.Background(), command(t, MethodDaemonShutdown, nil))
	require.NotNil(t, resp.Error)

	var wg sync.WaitGroup
	wg.Add(1)
	h.SetShutdownFunc(wg.Done)
	res := resultMap(t, h.Handle(context.Background(), command(t, MethodDaemonShutdown, nil)))
	assert.Equal(t, "shutting_down", res["status"])
	wg.Wait()
}

func TestHandleUnknownMethod(t *testing.T) {
	resp := NewCommandHandler(new(mockRelay), nil).Handle(context.Background(), Command{Method: "task_create", ID: "x"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "x", resp.ID)
}
