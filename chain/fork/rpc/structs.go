package rpc

import (
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

// PendingResult is a handle to a request that may still be in flight.
type PendingResult struct {
	request *inflightRequest
}

func newPendingResult(request *inflightRequest) *PendingResult {
	return &PendingResult{request: request}
}

// GetResultBlocking waits for the request to finish and decodes its result into result, which must be a pointer.
// It returns the context's error if ctx is cancelled first.
func (p *PendingResult) GetResultBlocking(ctx context.Context, result any) error {
	select {
	case <-p.request.Done:
		if p.request.Error != nil {
			return p.request.Error
		}
		return errors.WithStack(json.Unmarshal(p.request.Result, result))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestKey identifies a request for deduplication.
type requestKey struct {
	Method string
	Args   string
}

func makeRequestKey(method string, args ...any) (requestKey, error) {
	serialized, err := json.Marshal(args)
	if err != nil {
		return requestKey{}, errors.WithStack(err)
	}
	return requestKey{Method: method, Args: string(serialized)}, nil
}

// inflightRequest is a request currently traversing the network. Result and Error are set before Done is closed.
type inflightRequest struct {
	Done   chan struct{}
	Error  error
	Result json.RawMessage
}
