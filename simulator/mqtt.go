package simulator

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/mesh"
)

// RunMQTT connects the simulated unit to the broker, subscribes to its
// command topic and runs it until the context is canceled.
func RunMQTT(ctx context.Context, meshCfg mesh.Config, cfg Config) error {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	meshCfg.SetDefaults()
	if err := meshCfg.Validate(); err != nil {
		return err
	}

	opts := paho.NewClientOptions().
		AddBroker(meshCfg.Broker).
		SetClientID("unit-sim-" + cfg.UnitID)
	opts.AutoReconnect = true
	if meshCfg.Username != "" {
		opts.SetUsername(meshCfg.Username)
	}
	if meshCfg.Password != "" {
		opts.SetPassword(meshCfg.Password)
	}
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect simulator: %w", token.Error())
	}
	defer cli.Disconnect(250)

	send := func(payload []byte) error {
		token := cli.Publish(meshCfg.UplinkTopic(), meshCfg.QoS, false, payload)
		if !token.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("uplink publish timeout")
		}
		return token.Error()
	}
	unit, err := NewUnit(cfg, send, nil)
	if err != nil {
		return err
	}
	topic := meshCfg.CommandTopic(cfg.UnitID)
	token := cli.Subscribe(topic, meshCfg.QoS, func(_ paho.Client, msg paho.Message) {
		unit.HandleCommand(ctx, msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}

	unit.Run(ctx)
	return nil
}
