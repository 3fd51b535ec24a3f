// Package petstore declares annotated interfaces for the generator tests.
package petstore

import (
	"context"
	"io"
	"time"

	"github.com/T-Prohmpossadhorn/go-rest/rest"
)

type Pet struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Born time.Time `json:"born"`
}

type Filter struct {
	Tag   string `json:"tag"`
	Limit int    `json:"limit"`
}

//rest:interface
type Health interface {
	//rest:GET /health
	Ping(ctx context.Context) error
}

// Pets is the pet store API.
//
//rest:interface
//rest:namespace store
//rest:header Accept: application/json
type Pets interface {
	Health
	io.Closer

	//rest:GET /pets/{id}
	Get(ctx context.Context, id string) (Pet, error)

	//rest:GET /pets
	//rest:query-expand filter
	//rest:alias filter f
	List(ctx context.Context, filter Filter) ([]Pet, error)

	//rest:POST /pets
	//rest:body pet
	//rest:header-param token Authorization
	//rest:header X-Client: petstore
	Create(ctx context.Context, pet Pet, token string) (*rest.Response[Pet], error)

	//rest:PUT /pets/{id}/photo
	//rest:body photo streamed
	Upload(ctx context.Context, id string, photo io.Reader) (*rest.Envelope, error)

	//rest:POST /pets/{id}/documents
	//rest:attachment doc document
	Attach(ctx context.Context, id string, doc []byte) error

	//rest:GET /pets/{id}/events
	Watch(ctx context.Context, id string, since time.Time) *rest.Observable[Pet]
}

//rest:interface
type Store[T any] interface {
	//rest:GET /items/{key}
	Get(ctx context.Context, key string) (T, error)

	//rest:PUT /items/{key}
	//rest:body item
	Put(ctx context.Context, key string, item T) error
}

// Unannotated is skipped.
type Unannotated interface {
	Get(ctx context.Context) error
}
