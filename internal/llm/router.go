package llm

import (
	"context"
	"fmt"
	"sort"
)

// Router implements Provider by dispatching each request to the local
// or remote backend based on the model identifier. It is the provider
// the orchestrator actually holds.
type Router struct {
	local  Provider
	remote Provider
}

// NewRouter creates a router over the two backends. Either may be nil
// when that backend is not configured; requests routed to a missing
// backend fail with a ProviderError.
func NewRouter(local, remote Provider) *Router {
	return &Router{local: local, remote: remote}
}

// Name returns the provider identifier.
func (r *Router) Name() string {
	return "router"
}

func (r *Router) backend(model string) (Provider, error) {
	switch RouteModel(model) {
	case ProviderRemote:
		if r.remote == nil {
			return nil, WrapError("router", fmt.Errorf("no remote provider configured for model %q", model))
		}
		return r.remote, nil
	default:
		if r.local == nil {
			return nil, WrapError("router", fmt.Errorf("no local provider configured for model %q", model))
		}
		return r.local, nil
	}
}

// ListModels merges both backends. A remote listing failure degrades to
// local-only rather than failing the call; both failing is an error.
func (r *Router) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	var out []ModelDescriptor
	var localErr, remoteErr error

	if r.local != nil {
		models, err := r.local.ListModels(ctx)
		if err != nil {
			localErr = err
		} else {
			out = append(out, models...)
		}
	}
	if r.remote != nil {
		models, err := r.remote.ListModels(ctx)
		if err != nil {
			remoteErr = err
		} else {
			out = append(out, models...)
		}
	}

	if out == nil {
		switch {
		case localErr != nil:
			return nil, localErr
		case remoteErr != nil:
			return nil, remoteErr
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Health reports local connectivity first; a healthy remote alone still
// counts as connected.
func (r *Router) Health(ctx context.Context) HealthStatus {
	if r.local != nil {
		if st := r.local.Health(ctx); st.Connected {
			return st
		}
	}
	if r.remote != nil {
		if st := r.remote.Health(ctx); st.Connected {
			return st
		}
	}
	return HealthStatus{Connected: false, Message: "no backend reachable"}
}

// Complete dispatches a single-shot completion.
func (r *Router) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	backend, err := r.backend(req.Model)
	if err != nil {
		return nil, err
	}
	return backend.Complete(ctx, req)
}

// CompleteStream dispatches a streaming completion. When no backend
// serves the model, the sink still observes its terminal chunk.
func (r *Router) CompleteStream(ctx context.Context, req *CompletionRequest, sink Sink) (*Usage, error) {
	backend, err := r.backend(req.Model)
	if err != nil {
		sink(Chunk{Done: true})
		return nil, err
	}
	return backend.CompleteStream(ctx, req, sink)
}

// Descriptor returns the descriptor for model when either backend lists
// it; used to clamp context budgets to the backend's hint.
func (r *Router) Descriptor(ctx context.Context, model string) (ModelDescriptor, bool) {
	backend, err := r.backend(model)
	if err != nil {
		return ModelDescriptor{}, false
	}
	models, err := backend.ListModels(ctx)
	if err != nil {
		return ModelDescriptor{}, false
	}
	for _, m := range models {
		if m.ID == model {
			return m, true
		}
	}
	return ModelDescriptor{}, false
}
