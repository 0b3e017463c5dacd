package connectivity

import (
	"context"
	"fmt"
	"time"

	"github.com/core-tools/hsu-worker-launcher/pkg/errors"
	"github.com/core-tools/hsu-worker-launcher/pkg/logging"
)

// Report aggregates probe results; the launcher proceeds only if AllOK
type Report struct {
	Results []Result
}

func (r Report) AllOK() bool {
	for _, result := range r.Results {
		if !result.OK {
			return false
		}
	}
	return true
}

func (r Report) Failed() []Result {
	var failed []Result
	for _, result := range r.Results {
		if !result.OK {
			failed = append(failed, result)
		}
	}
	return failed
}

// Err converts failed results into connectivity domain errors
func (r Report) Err() error {
	collection := errors.NewErrorCollection()
	for _, result := range r.Failed() {
		collection.Add(errors.NewConnectivityError(
			string(result.Service),
			fmt.Sprintf("%s unavailable at %s", result.Service, result.Target),
			result.Err,
		))
	}
	return collection.ToError()
}

type Checker struct {
	logger logging.Logger
}

func NewChecker(logger logging.Logger) *Checker {
	return &Checker{logger: logger}
}

// Check runs every probe in order, even after a failure, so each
// unavailable service gets its own diagnostic.
func (c *Checker) Check(ctx context.Context, probes ...Probe) Report {
	report := Report{Results: make([]Result, 0, len(probes))}

	for _, probe := range probes {
		c.logger.Debugf("Probing %s", probe.Service())
		result := probe.Check(ctx)

		if result.OK {
			c.logger.Infof("%s (%v)", result.Message, result.Latency.Round(time.Millisecond))
		} else {
			c.logger.Errorf("%s", result.Message)
			if result.Hint != "" {
				c.logger.Errorf("   %s", result.Hint)
			}
		}

		report.Results = append(report.Results, result)
	}

	return report
}
