// Package middleware собирает мидлвари huma для групп операций сервера.
package middleware

import (
	"github.com/danielgtaylor/huma/v2"
)

const IdempotencyHeader = "Idempotency-Key"

// Func мидлварь huma
type Func = func(ctx huma.Context, next func(huma.Context))

// Chain общие мидлвари сервера
type Chain struct {
	common huma.Middlewares
}

func NewChain(common ...Func) *Chain {
	return &Chain{common: common}
}

// For возвращает мидлвари группы операций: сначала общие, затем собственные
func (c *Chain) For(own ...Func) huma.Middlewares {
	mws := make(huma.Middlewares, 0, len(c.common)+len(own))
	mws = append(mws, c.common...)
	return append(mws, own...)
}

// IdempotencyKey возвращает станции ключ идемпотентности запроса
func IdempotencyKey(ctx huma.Context, next func(huma.Context)) {
	if key := ctx.Header(IdempotencyHeader); key != "" {
		ctx.SetHeader(IdempotencyHeader, key)
	}
	next(ctx)
}
