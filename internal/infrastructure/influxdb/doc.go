// Package influxdb records update processing metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Each settled update
// becomes one point in the update_outcomes measurement, tagged with its
// payload type and outcome.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.RecordOutcome("tblTransactions", "success", 12*time.Millisecond)
//
// # Error Handling
//
// Writes are non-blocking and batch errors are delivered to the callback
// set with SetOnError. Connection and health check errors are returned
// directly.
package influxdb
