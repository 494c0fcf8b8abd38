// Package pagescanner is the thin composition layer that runs every
// detector over one Page: it fetches the page once more to get the
// initial unmodified response the passive detectors need, then runs the
// passive and active detectors in the fixed §4.5 order.
package pagescanner

import (
	"context"
	"log/slog"

	"github.com/vulnscan/scanengine/pkg/detectors"
	"github.com/vulnscan/scanengine/pkg/fetcher"
	"github.com/vulnscan/scanengine/pkg/model"
)

// Result is what Scan returns for one page.
type Result struct {
	Findings        []model.Finding
	FormsFound      int
	EndpointsTested int
}

// Scan runs all detectors over page, issuing every fetch through f. The
// Worker Pool's rate limit and in-flight cap count the task that calls
// Scan, not the individual requests Scan makes.
func Scan(ctx context.Context, f *fetcher.Fetcher, page model.Page, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}

	initial, err := f.Get(ctx, page.URL, nil)
	if err != nil {
		logger.Warn("pagescanner: initial fetch failed", slog.String("url", page.URL), slog.Any("error", err))
		initial = nil
	}

	findings, endpointsTested := detectors.RunAll(ctx, detectors.Context{
		Page:    page,
		Initial: initial,
		Fetcher: f,
	})

	return Result{
		Findings:        findings,
		FormsFound:      len(page.Forms),
		EndpointsTested: endpointsTested,
	}
}
