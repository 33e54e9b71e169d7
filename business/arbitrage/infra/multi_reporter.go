package infra

import (
	"context"
	"errors"

	"github.com/fd1az/mev-arbitrage/business/arbitrage/app"
	"github.com/fd1az/mev-arbitrage/business/arbitrage/domain"
	subdomain "github.com/fd1az/mev-arbitrage/business/submission/domain"
)

// MultiReporter fans every call out to several reporters in order.
type MultiReporter []app.Reporter

var _ app.Reporter = MultiReporter(nil)

// NewMultiReporter skips nil reporters.
func NewMultiReporter(rs ...app.Reporter) MultiReporter {
	out := make(MultiReporter, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Start starts every reporter and stops at the first failure.
func (m MultiReporter) Start(ctx context.Context) error {
	for _, r := range m {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiReporter) Report(ctx context.Context, res *subdomain.Result) {
	for _, r := range m {
		r.Report(ctx, res)
	}
}

func (m MultiReporter) ReportSpatial(ctx context.Context, c domain.SpatialCandidate) {
	for _, r := range m {
		r.ReportSpatial(ctx, c)
	}
}

func (m MultiReporter) Alert(ctx context.Context, a domain.Alert) {
	for _, r := range m {
		r.Alert(ctx, a)
	}
}

// Stop stops every reporter and joins their errors.
func (m MultiReporter) Stop() error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Stop())
	}
	return errors.Join(errs...)
}
