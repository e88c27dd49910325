// Package mqtt provides MQTT client connectivity for Gatehouse.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Gatehouse publishes security events (logins, lockouts, revocations) onto
// the bus for other services to consume, and subscribes to control topics
// through which those services request actions such as forced logout. The
// broker (Mosquitto) decouples Gatehouse from its consumers; the bus is
// optional and the service runs standalone without it.
//
//	Gatehouse ↔ MQTT Broker ↔ Facility Services
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Event payloads never include tokens or password material
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to session revocation requests
//	err = client.Subscribe(mqtt.Topics{}.ControlRevoke(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a security event
//	topic := mqtt.Topics{}.Event("lockout")
//	client.Publish(topic, []byte(`{"account_id":"acc-a1b2c3d4"}`), 1, false)
package mqtt
