// Package broken holds interfaces the generator must reject.
package broken

import (
	"context"
	"fmt"

	"github.com/T-Prohmpossadhorn/go-rest/rest"
)

//rest:interface
type NoVerb interface {
	Get(ctx context.Context) error
}

//rest:interface
type UnknownDirective interface {
	//rest:GET /x
	//rest:cache 10s
	Get(ctx context.Context) (*rest.Envelope, error)
}

//rest:interface
type UnknownParam interface {
	//rest:POST /x
	//rest:body missing
	Create(ctx context.Context, v string) error
}

//rest:interface
type Placeholder interface {
	//rest:GET /users/{user}
	Get(ctx context.Context, id string) error
}

//rest:interface
type Results interface {
	//rest:GET /x
	Get(ctx context.Context) (string, int)
}

//rest:interface
type Constrained[T interface{ ~int | ~string }] interface {
	//rest:GET /x
	Get(ctx context.Context) (T, error)
}

//rest:interface
type Embeds interface {
	fmt.Stringer
}
