package extractor

import (
	"context"
	"errors"

	"github.com/ZanzyTHEbar/actionflow"
)

// Chain tries each extractor in order and returns the first value that validates.
type Chain []actionflow.ValueExtractor

// Extract implements actionflow.ValueExtractor.
func (c Chain) Extract(ctx context.Context, req actionflow.ExtractionRequest) (string, error) {
	var errs []error
	for _, ex := range c {
		value, err := ex.Extract(ctx, req)
		if err == nil {
			err = Validate(req.Field, value)
		}
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil {
			return "", actionflow.NewCancelledError(actionflow.StageExtraction, ctx.Err())
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", actionflow.NewExtractionError(req.Field, errors.New("no extractor configured"))
	}
	return "", actionflow.NewExtractionError(req.Field, errors.Join(errs...))
}
