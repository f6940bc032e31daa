package reconos

import "expvar"

var (
	pipeMetrics = new(expvar.Map)

	pipesActiveGauge    = new(expvar.Int)
	transfersCount      = new(expvar.Int)
	bytesCopiedCount    = new(expvar.Int)
	truncatedCount      = new(expvar.Int)
	cancelledWaitsCount = new(expvar.Int)
	abortedCount        = new(expvar.Int)
)

func init() {
	pipeMetrics.Set("pipes_active", pipesActiveGauge)
	pipeMetrics.Set("transfers", transfersCount)
	pipeMetrics.Set("bytes_copied", bytesCopiedCount)
	pipeMetrics.Set("transfers_truncated", truncatedCount)
	pipeMetrics.Set("waits_cancelled", cancelledWaitsCount)
	pipeMetrics.Set("transfers_aborted", abortedCount)
}

// PipeMetrics returns a map of exported pipe metrics for use with the expvar
// package. This map is shared among all pipes created by NewPipe. The caller
// is free to add or remove metrics in the map, but note that such changes
// will affect all pipes.
//
// The caller is responsible for publishing the metrics to the exporter via
// expvar.Publish or similar.
func PipeMetrics() *expvar.Map { return pipeMetrics }
