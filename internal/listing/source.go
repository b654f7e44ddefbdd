package listing

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Source is one marketplace worker. Implementations fetch and normalize
// listings for a single venue; the scheduler never sees anything below
// this contract.
type Source interface {
	Name() string
	IsConfigured() bool
	FetchListings(ctx context.Context) ([]RawListing, error)
}

// ErrNotConfigured marks a source that is missing credentials. Expected,
// not counted as an error by the scheduler.
const ErrNotConfigured = "not configured"

// Factory builds a fresh Source per run so that credentials and proxy
// assignment are re-resolved every cycle.
type Factory func() (Source, error)

// Run executes one source with timing and failure capture. A source that
// is missing credentials yields a non-error "not configured" result; a
// fetch error or panic is converted into a failure result so that one
// source can never take down a scheduler tick.
func Run(ctx context.Context, src Source) (result SourceRunResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Source %s panicked: %v", src.Name(), r)
			result = SourceRunResult{
				Venue:    src.Name(),
				Success:  false,
				Error:    fmt.Sprintf("panic: %v", r),
				Duration: time.Since(start),
			}
		}
	}()

	if !src.IsConfigured() {
		log.Warnf("Source not configured: %s", src.Name())
		return SourceRunResult{
			Venue:    src.Name(),
			Success:  false,
			Error:    ErrNotConfigured,
			Duration: time.Since(start),
		}
	}

	listings, err := src.FetchListings(ctx)
	duration := time.Since(start)

	if err != nil {
		return SourceRunResult{
			Venue:    src.Name(),
			Success:  false,
			Error:    err.Error(),
			Duration: duration,
		}
	}

	return SourceRunResult{
		Venue:      src.Name(),
		Success:    true,
		Listings:   listings,
		Duration:   duration,
		TotalFound: len(listings),
	}
}
