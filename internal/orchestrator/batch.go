package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// BatchItem is one named report in a batch run.
type BatchItem struct {
	Name string
	Text string
}

// BatchResult records one item's outcome. Errors are captured, never
// raised.
type BatchResult struct {
	Name          string `json:"name"`
	OK            bool   `json:"ok"`
	URL           string `json:"url,omitempty"`
	Error         string `json:"error,omitempty"`
	CreatedSlides int    `json:"created_slides"`
}

// BatchKey derives the deterministic idempotency key for a report text,
// so re-running a batch reuses decks already built.
func BatchKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "req-" + hex.EncodeToString(sum[:])[:16]
}

// RunBatch processes items sequentially with an optional pause between
// them. Context cancellation stops the batch; completed items keep
// their results.
func (o *Orchestrator) RunBatch(ctx context.Context, items []BatchItem, slideCount int, pause time.Duration) []BatchResult {
	results := make([]BatchResult, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			results = append(results, BatchResult{Name: item.Name, Error: fmt.Sprintf("canceled: %v", err)})
			continue
		}
		res, err := o.Run(ctx, Params{
			ReportText:      item.Text,
			ClientRequestID: BatchKey(item.Text),
			SlideCount:      slideCount,
		})
		if err != nil {
			o.logger.Error("batch item failed", "name", item.Name, "error", err)
			results = append(results, BatchResult{Name: item.Name, Error: err.Error()})
		} else {
			results = append(results, BatchResult{
				Name:          item.Name,
				OK:            true,
				URL:           res.URL,
				CreatedSlides: res.CreatedSlides,
			})
		}
		if pause > 0 && i < len(items)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(pause):
			}
		}
	}
	return results
}
