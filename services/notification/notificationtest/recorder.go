package notificationtest

import (
	"context"
	"sync"

	"retail-loyalty/services/notification"
)

// Recorder is a Dispatcher that keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	Messages []notification.Message
	Err      error
}

func (r *Recorder) Dispatch(ctx context.Context, msg notification.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Messages = append(r.Messages, msg)
	return nil
}

func (r *Recorder) Kinds() []notification.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.Kind, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, m.Kind)
	}
	return out
}

func (r *Recorder) OfKind(kind notification.Kind) []notification.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notification.Message
	for _, m := range r.Messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}
