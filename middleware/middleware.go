// Package middleware implements the onion-model chain for service
// handlers: each layer wraps the next so cross-cutting concerns
// (logging, timeout, rate limiting) attach without the handler itself
// knowing any of them are there.
//
// Onion model execution order:
//
//	Chain(A, B, C)(name, handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
//
// Each middleware can:
//   - Do pre-processing (before calling next)
//   - Call next(p) to pass the request on to the next layer
//   - Do post-processing (after next returns)
//   - Short-circuit by returning early without calling next (e.g., rate limiting)
package middleware

import "github.com/tencent/pebble/rpc"

// Middleware decorates the Handler installed for functionName,
// returning a new Handler that runs before/after (or instead of)
// calling next. functionName is the fully qualified method name
// (e.g. "Arith:Add") the handler is registered under, available to
// middleware that wants to vary behavior per method.
type Middleware func(functionName string, next rpc.Handler) rpc.Handler

// Chain composes multiple middlewares into a single middleware. It
// builds the chain from right to left so that the first middleware in
// the list is the outermost layer (executed first on request, last on
// response).
//
// Example:
//
//	chain := Chain(LoggingMiddleware(), TimeOutMiddleware(3*time.Second))
//	handler := chain("Arith:Add", businessHandler)
func Chain(middlewares ...Middleware) Middleware {
	return func(functionName string, next rpc.Handler) rpc.Handler {
		h := next
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](functionName, h)
		}
		return h
	}
}

// Wrap applies mw to every handler in methods, returning a new map
// suitable for Registry.AddService. Use it to decorate a whole
// service's method table at once instead of one handler at a time.
func Wrap(mw Middleware, methods map[string]rpc.Handler) map[string]rpc.Handler {
	wrapped := make(map[string]rpc.Handler, len(methods))
	for name, h := range methods {
		wrapped[name] = mw(name, h)
	}
	return wrapped
}
