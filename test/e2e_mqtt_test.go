package test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/dispatch"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/outbound"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/store"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/tracker"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/logger"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/mesh"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/internal/clock"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/simulator"
)

func waitForMQTTReady(broker string, timeout time.Duration) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("probe")
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		lastErr = token.Error()
		time.Sleep(100 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for broker")
	}
	return lastErr
}

func startMosquitto(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	conf := `listener 1883
allow_anonymous true
persistence false
log_dest stdout
log_type error
log_type warning
log_type notice
`
	dir := t.TempDir()
	path := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(path, []byte(conf), 0644); err != nil {
		t.Fatalf("write conf: %v", err)
	}

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{
			{
				HostFilePath:      path,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0644,
			},
		},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("container start: %v", err)
	}
	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())
	if err := waitForMQTTReady(broker, 5*time.Second); err != nil {
		t.Skipf("mosquitto not ready at %s: %v", broker, err)
	}
	return cont, broker
}

type fixedGeocoder struct{ pos model.Coordinates }

func (g fixedGeocoder) Resolve(context.Context, string) (model.Coordinates, error) {
	return g.pos, nil
}

// TestDeliveryLifecycleOverBroker drives a full delivery through a real
// Mosquitto broker with a simulated unit on the other side.
func TestDeliveryLifecycleOverBroker(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cont, broker := startMosquitto(ctx, t)
	defer func() { _ = cont.Terminate(context.Background()) }()

	dispatch.ResetMetrics(nil)
	outbound.ResetMetrics(nil)
	tracker.ResetMetrics(nil)

	base := model.Coordinates{Lat: 44.3894, Lon: -79.6903}
	dest := model.Coordinates{Lat: 44.3950, Lon: -79.6903} // ~620m north of base

	meshCfg := mesh.Config{Broker: broker, TopicPrefix: "mesh-e2e", ClientID: "dispatch-e2e"}
	tr, err := mesh.NewMQTTTransport(meshCfg)
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	st := store.NewMemoryStore()
	clk := clock.System{}
	log := logger.NopLogger{}
	out, err := outbound.NewManager(st, tr, outbound.Config{RetryIntervalSeconds: 2, MaxAttempts: 5, PollIntervalMS: 100}, clk, nil, log)
	require.NoError(t, err)
	trk, err := tracker.New(st, tracker.Config{}, clk, nil, log)
	require.NoError(t, err)
	coord, err := dispatch.NewCoordinator(st, trk, out, tr, fixedGeocoder{pos: dest},
		dispatch.Config{Base: base, ArrivalThresholdM: 50}, clk, nil, nil, log)
	require.NoError(t, err)
	tr.SetHandler(coord.HandleFrame)

	go coord.Run(ctx)
	go out.Run(ctx)

	go func() {
		_ = simulator.RunMQTT(ctx, meshCfg, simulator.Config{
			UnitID:                   "unit-1",
			Base:                     base,
			SpeedMPS:                 400,
			TelemetryIntervalSeconds: 1,
			ArrivalThresholdM:        30,
		})
	}()

	// the simulated unit announces itself with an idle status frame
	require.Eventually(t, func() bool {
		u, err := coord.Unit(ctx, "unit-1")
		return err == nil && u.Status == model.UnitIdle
	}, 10*time.Second, 100*time.Millisecond, "unit never registered")

	d, err := coord.CreateDelivery(ctx, "29 Main St")
	require.NoError(t, err)
	require.NotNil(t, d.Destination)

	_, err = coord.AssignDelivery(ctx, d.ID, "unit-1")
	require.NoError(t, err)

	// ack retires the pending record, then telemetry walks the unit in
	require.Eventually(t, func() bool { return out.Pending() == 0 }, 10*time.Second, 100*time.Millisecond,
		"assignment never acknowledged")
	require.Eventually(t, func() bool {
		got, err := coord.Delivery(ctx, d.ID)
		return err == nil && got.Status == model.DeliveryArrived
	}, 20*time.Second, 200*time.Millisecond, "unit never arrived")

	_, err = coord.ConfirmComplete(ctx, d.ID)
	require.NoError(t, err)

	got, err := coord.Delivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryCompleted, got.Status)

	// the unit walks home and reports idle again
	require.Eventually(t, func() bool {
		u, err := coord.Unit(ctx, "unit-1")
		return err == nil && u.Status == model.UnitIdle
	}, 20*time.Second, 200*time.Millisecond, "unit never returned to idle")
}
