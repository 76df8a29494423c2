package testutil

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lightforgemedia/go-panelsync/pkg/devicesim"
)

// DeviceServer is a device simulator behind an httptest server.
type DeviceServer struct {
	T      *testing.T
	Device *devicesim.Server
	Server *httptest.Server
	WsURL  string
}

// NewDeviceServer starts a device simulator and closes it when the test ends.
func NewDeviceServer(t *testing.T, opts ...devicesim.Option) *DeviceServer {
	t.Helper()

	finalOpts := append([]devicesim.Option{devicesim.WithLogger(DiscardLogger)}, opts...)
	dev := devicesim.New(finalOpts...)
	srv := httptest.NewServer(dev)

	ds := &DeviceServer{
		T:      t,
		Device: dev,
		Server: srv,
		WsURL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
	t.Cleanup(ds.Close)
	return ds
}

// Close drops every session and stops the server.
func (ds *DeviceServer) Close() {
	ds.Device.Close()
	ds.Server.Close()
}
