// Package mqtt publishes Health Core authentication events to an MQTT
// broker.
//
// The client is publish-only: audit entries recorded by the auth core are
// fanned out to healthcore/auth/events/{action} so that other services in
// the home (notification hubs, dashboards) can react to lockouts and
// suspicious logins without polling the API.
//
// A retained status message on healthcore/system/status, backed by a Last
// Will and Testament, lets consumers tell when the service is offline.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	sink := audit.NewMQTTSink(client, mqtt.Topics{}.AuthEvent, byte(cfg.MQTT.QoS), logger)
//
// Delivery is best-effort. The audit table in SQLite remains the record of
// truth; a broker outage never fails an authentication operation.
package mqtt
