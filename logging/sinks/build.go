package sinks

import (
	"fmt"
	"io"
	"os"

	"crowdnav/logging"
)

// Build constructs the sinks enabled in cfg. Console output goes to w.
func Build(cfg logging.Config, w io.Writer) ([]logging.NamedSink, error) {
	var named []logging.NamedSink
	for _, name := range cfg.EnabledSinks {
		switch name {
		case "console":
			named = append(named, logging.NamedSink{Name: name, Sink: NewConsoleSink(w, cfg.Console)})
		case "json":
			if cfg.JSON.FilePath == "" {
				named = append(named, logging.NamedSink{Name: name, Sink: NewJSON(w, cfg.JSON.FlushInterval)})
				continue
			}
			file, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open json log: %w", err)
			}
			named = append(named, logging.NamedSink{Name: name, Sink: NewJSONFile(file, cfg.JSON.FlushInterval)})
		case "memory":
			named = append(named, logging.NamedSink{Name: name, Sink: NewMemorySink()})
		default:
			return nil, fmt.Errorf("unknown log sink %q", name)
		}
	}
	return named, nil
}
