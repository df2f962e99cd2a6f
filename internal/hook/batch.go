package hook

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/msageha/des/internal/model"
)

// Inspection is the read-only verdict for one step file.
type Inspection struct {
	Path   string
	Result *model.HookResult
	Err    error
}

// InspectAll inspects paths concurrently, at most limit at a time (limit <= 0
// means unbounded). Results keep the order of paths; per-file errors are
// carried in Inspection.Err. Only cancellation of ctx is returned.
func (h *SubagentStopHook) InspectAll(ctx context.Context, paths []string, limit int) ([]Inspection, error) {
	out := make([]Inspection, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := h.Inspect(p)
			out[i] = Inspection{Path: p, Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
