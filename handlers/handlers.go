package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

type handler[I, O any] = func(context.Context, *I) (*O, error)

func handlerWithErrorHandler[I, O any](handler handler[I, O], do func(context.Context, error)) handler[I, O] {
	if do == nil {
		return handler
	}

	return func(ctx context.Context, i *I) (*O, error) {
		o, err := handler(ctx, i)
		if err != nil {
			do(ctx, err)
		}
		return o, err
	}
}

func opErrors(codes ...int) func(*huma.Operation) {
	return func(o *huma.Operation) { o.Errors = codes }
}

func opID(id, summary string) func(*huma.Operation) {
	return func(o *huma.Operation) { o.OperationID, o.Summary = id, summary }
}

func opStatus(code int) func(*huma.Operation) {
	return func(o *huma.Operation) { o.DefaultStatus = code }
}

// Envelope is the body of every successful JSON response.
type Envelope[T any] struct {
	Success    bool        `json:"success"              example:"true"`
	Message    string      `json:"message,omitempty"`
	Data       T           `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

func success[T any](data T) Envelope[T] { return Envelope[T]{Success: true, Data: data} }

type Pagination struct {
	Page  int `json:"page"  example:"1"`
	Limit int `json:"limit" example:"10"`
	Total int `json:"total" example:"42"`
	Pages int `json:"pages" example:"5"`
}

// MessageBody is the body of responses that only carry a message.
type MessageBody struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message"`
}

func now(f func() time.Time) time.Time {
	if f == nil {
		return time.Now()
	}
	return f()
}
