package rest

import (
	"context"
	"sync/atomic"
)

// Observer receives the outcome of a subscription. Nil callbacks are skipped.
type Observer[T any] struct {
	OnNext      func(T)
	OnError     func(error)
	OnCompleted func()
}

// Observable is a cold single-value stream: each subscription performs the
// underlying call once and emits either one value followed by completion or
// one error.
type Observable[T any] struct {
	run func(ctx context.Context) (T, error)
}

func newObservable[T any](run func(ctx context.Context) (T, error)) *Observable[T] {
	return &Observable[T]{run: run}
}

// Just returns an observable that emits v without performing any call.
func Just[T any](v T) *Observable[T] {
	return newObservable(func(context.Context) (T, error) { return v, nil })
}

const (
	subActive int32 = iota
	subDelivering
	subCancelled
)

// Subscription controls one running subscription.
type Subscription struct {
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

// Unsubscribe cancels the in-flight call. No callback starts afterwards.
func (s *Subscription) Unsubscribe() {
	s.state.CompareAndSwap(subActive, subCancelled)
	s.cancel()
}

// Done is closed once the subscription has finished, either delivered or cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Subscribe starts the call in a new goroutine. Cancelling ctx has the same
// effect as Unsubscribe.
func (o *Observable[T]) Subscribe(ctx context.Context, obs Observer[T]) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		defer cancel()
		v, err := o.run(ctx)
		if ctx.Err() != nil {
			// cancelled subscriptions stay silent
			s.state.CompareAndSwap(subActive, subCancelled)
		}
		if !s.state.CompareAndSwap(subActive, subDelivering) {
			return
		}
		if err != nil {
			if obs.OnError != nil {
				obs.OnError(err)
			}
			return
		}
		if obs.OnNext != nil {
			obs.OnNext(v)
		}
		if obs.OnCompleted != nil {
			obs.OnCompleted()
		}
	}()
	return s
}

// Await subscribes and blocks until the value or error arrives.
func (o *Observable[T]) Await(ctx context.Context) (T, error) {
	return o.run(ctx)
}
