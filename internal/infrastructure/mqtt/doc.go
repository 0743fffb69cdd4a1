// Package mqtt connects the bridge to the broker its Signal K server
// publishes to.
//
// Signal K servers expose the vessel tree in two shapes, and the bridge
// consumes both:
//
//	{prefix}vessels/self/electrical/batteries/house/voltage   → 12.7
//	{prefix}signalk/delta                                     → {"updates":[...]}
//
// Write-backs from Venus OS leave as PUT requests on {prefix}signalk/put.
//
// Received messages pass through a single ordered dispatcher, so handlers
// never run concurrently and a device's readings arrive in broker order.
// The retained status topic venusbridge/{client_id}/status carries online
// and offline markers, with a last will for unclean exits.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.SignalKSelf(prefix), 1, handle)
package mqtt
