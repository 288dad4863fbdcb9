// Package mqtt wraps the paho client for the signalbox MQTT channel transport.
//
// When the live channel is bridged onto a broker, the backend's state
// messages arrive on an inbound topic and commands leave on an outbound
// topic. The client tracks subscriptions so they survive reconnects and
// publishes a retained availability record under signalbox/status/<client_id>
// with a matching Last Will.
//
// Usage:
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(cfg.Channel.InboundTopic, 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload)
//	    })
package mqtt
