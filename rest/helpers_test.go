package rest

import (
	"context"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
)

type User struct {
	Login string `json:"login"`
	ID    int    `json:"id"`
}

type Filter struct {
	State string   `json:"state"`
	Page  int      `json:"page"`
	Tags  []string `json:"tags"`
	Skip  string   `json:"-"`
	Since *string  `json:"since"`
}

// recorder is a transport that keeps every request and answers with reply.
type recorder struct {
	mu       sync.Mutex
	requests []*Request
	contexts []context.Context
	reply    func(req *Request) (*Envelope, error)
	closed   int
}

func newRecorder(status int, body any) *recorder {
	return &recorder{reply: func(*Request) (*Envelope, error) {
		return jsonEnvelope(status, body), nil
	}}
}

func jsonEnvelope(status int, body any) *Envelope {
	var data []byte
	if body != nil {
		data, _ = json.Marshal(body)
	}
	return NewEnvelope(status, http.Header{"Content-Type": {"application/json"}}, data)
}

func (r *recorder) Send(ctx context.Context, req *Request) (*Envelope, error) {
	if _, err := req.ReadBody(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.contexts = append(r.contexts, ctx)
	r.mu.Unlock()
	return r.reply(req)
}

func (r *recorder) Close() error {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	return nil
}

func (r *recorder) last() *Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		return nil
	}
	return r.requests[len(r.requests)-1]
}
