package output

import (
	"context"

	"github.com/crimson-sun/speedtrace/internal/model"
)

// Output defines the interface for analysis result destinations.
type Output interface {
	Write(ctx context.Context, res *model.Result) error
	Close() error
}
