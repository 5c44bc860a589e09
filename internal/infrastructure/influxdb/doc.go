// Package influxdb mirrors stored temperature readings into InfluxDB.
//
// The SQLite reading store is authoritative. This package is an optional
// secondary sink for dashboards and long-term retention; a failed write is
// reported through a callback and never fails ingestion.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	ingest := telemetry.NewService(registry, client)
//
// Each reading becomes one point in the "temperature" measurement, tagged
// with device_id and mac, with a single float field "value".
package influxdb
