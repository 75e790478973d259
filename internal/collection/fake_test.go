package collection

import (
	"context"
	"sync"

	"dojo-backend/internal/models"
)

// fakeProcessor answers by customer reference. Unknown customers succeed.
type fakeProcessor struct {
	mu       sync.Mutex
	calls    []CollectRequest
	results  map[string]CollectResult
	errs     map[string]error
	statuses map[string]CollectResult
	hook     func(req CollectRequest)
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		results:  map[string]CollectResult{},
		errs:     map[string]error{},
		statuses: map[string]CollectResult{},
	}
}

func (p *fakeProcessor) Collect(ctx context.Context, req CollectRequest) (CollectResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	hook := p.hook
	res, hasRes := p.results[req.CustomerRef]
	err := p.errs[req.CustomerRef]
	p.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return CollectResult{}, err
	}
	if hasRes {
		return res, nil
	}
	return CollectResult{Reference: "ch_" + req.CustomerRef, Outcome: models.OutcomeSucceeded}, nil
}

func (p *fakeProcessor) Status(ctx context.Context, reference string) (CollectResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if res, ok := p.statuses[reference]; ok {
		return res, nil
	}
	return CollectResult{Reference: reference, Outcome: models.OutcomeProcessing}, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
