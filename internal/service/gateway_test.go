package service

import (
	"encoding/json"
	"testing"
	"time"

	"quakewatch/internal/events"
	"quakewatch/internal/logger"
	"quakewatch/internal/models"
)

// newRouter wires a GatewayService with real fleet/ota/auto services but no
// serial link, so frames can be injected straight into the routing path.
func newRouter(t *testing.T) (*GatewayService, *FleetService, *events.Subscriber) {
	t.Helper()

	log := logger.Get(logger.ErrorLevel)
	hub := events.NewHub()
	gw := NewGatewayService(hub, &fakeEventRepo{}, log)
	fleet := NewFleetService(hub, log)
	manifest := NewManifestService("", time.Minute, log)
	ota := NewOTAService(gw, fleet, &fakeHistory{}, &fakeEventRepo{}, hub, log, 1024, 0)
	auto := NewAutoUpdateService(manifest, fleet, ota, hub, log, time.Minute, false)
	gw.bind(fleet, ota, auto)

	sub := hub.Subscribe()
	t.Cleanup(func() { hub.Unsubscribe(sub) })
	return gw, fleet, sub
}

func TestGatewayRouting_MeshStatusFeedsRegistry(t *testing.T) {
	t.Parallel()

	gw, fleet, sub := newRouter(t)

	gw.handleLine([]byte(`{"type":"mesh_status","active_nodes":[` +
		`{"node_id":31,"is_active":true,"fw_version":"2.0.0","signal_strength":-61,"device_name":"Cellar","access_token":"tok"}]}`))

	n, ok := fleet.Get(31)
	if !ok {
		t.Fatal("mesh_status did not create the node")
	}
	if n.Name != "Cellar" || n.FirmwareVersion != "2.0.0" || n.Status != models.StatusOnline || n.SignalStrength != -61 {
		t.Fatalf("node not merged from sighting: %+v", n)
	}

	// The sighting is published first, then the frame itself is mirrored.
	drainEvent(t, sub, events.NodeAdded)
	ev := drainEvent(t, sub, events.GatewayMessage)
	raw, ok := ev.Data.(json.RawMessage)
	if !ok || len(raw) == 0 {
		t.Fatalf("gateway_message payload = %T", ev.Data)
	}
}

func TestGatewayRouting_ConnectionEventsFlipStatus(t *testing.T) {
	t.Parallel()

	gw, fleet, _ := newRouter(t)

	gw.handleLine([]byte(`{"type":"mesh_status","active_nodes":[{"node_id":9,"is_active":true,"fw_version":"1.0.0"}]}`))
	gw.handleLine([]byte(`{"type":"node_disconnected","node_id":9}`))
	if n, _ := fleet.Get(9); n.Status != models.StatusOffline {
		t.Fatalf("status after disconnect = %q", n.Status)
	}

	gw.handleLine([]byte(`{"type":"node_connected","node_id":9}`))
	if n, _ := fleet.Get(9); n.Status != models.StatusOnline {
		t.Fatalf("status after reconnect = %q", n.Status)
	}
}

func TestGatewayRouting_SensorDataMirrorsTemperature(t *testing.T) {
	t.Parallel()

	gw, fleet, sub := newRouter(t)

	gw.handleLine([]byte(`{"type":"mesh_status","active_nodes":[{"node_id":9,"is_active":true,"fw_version":"1.0.0"}]}`))
	drainEvent(t, sub, events.NodeAdded)
	drainEvent(t, sub, events.GatewayMessage)

	gw.handleLine([]byte(`{"type":"mesh_data","source_node":9,"data":{"earthquake":{"temp":24.5}}}`))
	if n, _ := fleet.Get(9); n.Temperature != 24.5 {
		t.Fatalf("temperature = %v", n.Temperature)
	}
	drainEvent(t, sub, events.SensorUpdate)
	drainEvent(t, sub, events.GatewayMessage)

	// Payloads without an earthquake block and payloads from unknown nodes
	// change nothing, but the frames are still mirrored.
	gw.handleLine([]byte(`{"type":"mesh_data","source_node":9,"data":{"humidity":50}}`))
	drainEvent(t, sub, events.GatewayMessage)
	gw.handleLine([]byte(`{"type":"mesh_data","source_node":404,"data":{"earthquake":{"temp":99}}}`))
	drainEvent(t, sub, events.GatewayMessage)

	if n, _ := fleet.Get(9); n.Temperature != 24.5 {
		t.Fatalf("temperature overwritten: %v", n.Temperature)
	}
	if _, ok := fleet.Get(404); ok {
		t.Fatal("sensor data must not create nodes")
	}
}

func TestGatewayRouting_MalformedFrameDropped(t *testing.T) {
	t.Parallel()

	gw, fleet, sub := newRouter(t)

	gw.handleLine([]byte(`{"type":"node_connected","node_id":`))
	gw.handleLine([]byte(`not json at all`))

	if got := len(fleet.List()); got != 0 {
		t.Fatalf("malformed frames mutated the registry: %d nodes", got)
	}
	select {
	case ev := <-sub.C:
		t.Fatalf("malformed frame published %q", ev.Type)
	default:
	}
}

func TestGatewayRouting_UnknownTypeStillMirrored(t *testing.T) {
	t.Parallel()

	gw, _, sub := newRouter(t)

	gw.handleLine([]byte(`{"type":"wifi_scan","channels":11}`))
	drainEvent(t, sub, events.GatewayMessage)
}

func TestGatewayRouting_OTACheckIgnoredWhileAutoDisabled(t *testing.T) {
	t.Parallel()

	gw, fleet, sub := newRouter(t)

	gw.handleLine([]byte(`{"type":"ota_check","source_node":31,"role":"sensor","fw_version":"1.0.0"}`))

	if _, ok := fleet.Get(31); ok {
		t.Fatal("disabled policy must not register nodes")
	}
	drainEvent(t, sub, events.GatewayMessage)
}

func TestGatewayStatus_WithoutLink(t *testing.T) {
	t.Parallel()

	gw, _, _ := newRouter(t)

	st := gw.Status()
	if st.Connected || st.Port != "" || st.ActiveSessions != 0 || st.AutoOTAEnabled {
		t.Fatalf("idle status = %+v", st)
	}
	if err := gw.Disconnect(); err != nil {
		t.Fatalf("disconnect when idle: %v", err)
	}
}
