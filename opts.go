package reconos

import (
	"fmt"
	"io"
	"log"

	"github.com/creachadair/reconos/metrics"
)

const logFlags = log.LstdFlags | log.Lshortfile

// PipeOptions control the behaviour of a pipe created by NewPipe.
// A nil *PipeOptions provides sensible defaults.
type PipeOptions struct {
	// If not nil, send debug logs to this writer.
	LogWriter io.Writer

	// If set, this label is included in log messages to identify the pipe.
	Name string

	// If not nil, record transfer statistics here.
	Metrics *metrics.M

	// If not nil, allocate the signals of the pipe from this budget.
	// Otherwise signal allocation never fails.
	Budget *Budget
}

func (o *PipeOptions) logFunc() func(string, ...any) {
	if o == nil || o.LogWriter == nil {
		return func(string, ...any) {}
	}
	prefix := "[reconos.Pipe] "
	if o.Name != "" {
		prefix = "[reconos.Pipe " + o.Name + "] "
	}
	logger := log.New(o.LogWriter, prefix, logFlags)
	return func(msg string, args ...any) { logger.Output(2, fmt.Sprintf(msg, args...)) }
}

func (o *PipeOptions) metrics() *metrics.M {
	if o == nil {
		return nil
	}
	return o.Metrics
}

func (o *PipeOptions) budget() *Budget {
	if o == nil {
		return nil
	}
	return o.Budget
}
