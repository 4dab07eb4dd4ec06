// Package influxdb provides InfluxDB connectivity for Health Core.
//
// It wraps the official influxdb-client-go v2 library and records one
// point per authentication outcome in the auth_events measurement, tagged
// by action and result. Dashboards use it to chart login failures and
// lockouts over time.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	recorder := audit.NewRecorder(repo, logger, audit.NewMetricsSink(client))
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch errors are delivered to the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
