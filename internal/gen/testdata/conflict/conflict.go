// Package conflict embeds two interfaces whose methods share a name.
package conflict

import "context"

//rest:interface
type ByName interface {
	//rest:GET /items/{id}
	Get(ctx context.Context, id string) error
}

//rest:interface
type ByNumber interface {
	//rest:GET /items/{id}
	Get(ctx context.Context, id int) error
}

//rest:interface
type Items interface {
	ByName
	ByNumber
}
