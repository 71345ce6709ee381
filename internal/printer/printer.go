package printer

import (
	"io"
	"os"

	"github.com/funnyzak/reqtrace/internal/config"
	"github.com/funnyzak/reqtrace/internal/logger"
	"github.com/funnyzak/reqtrace/internal/protocol"
	"github.com/funnyzak/reqtrace/pkg/capture"
)

// Printer renders CLI results
type Printer interface {
	Ping(*protocol.PingResult) error
	Status(*protocol.StatusReport) error
	Sessions([]*capture.Session) error
	Summaries([]*capture.Summary) error
	Transaction(*capture.Transaction) error
	Matches([]*capture.JSONQueryMatch) error
	Count(int) error
	Cleared(int64) error
	// Value prints an arbitrary decoded result, e.g. from `call`
	Value(any) error
}

// New creates the printer for mode ("table", "json" or "yaml"); w defaults to stdout.
func New(mode string, w io.Writer, cfg *config.OutputConfig, log logger.Logger) Printer {
	if cfg == nil {
		cfg = &config.OutputConfig{Color: true}
	}
	if w == nil {
		w = os.Stdout
	}
	if log == nil {
		log = logger.Nop()
	}
	switch mode {
	case "json":
		return NewJSONPrinter(w, log)
	case "yaml":
		return NewYAMLPrinter(w, log)
	default:
		return NewConsolePrinter(w, cfg, log)
	}
}
