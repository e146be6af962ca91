package rpc

import (
	"sync"

	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/errs"
)

// Handler is a service method installed in a Registry. p is
// positioned just past the decoded message head, with ReadStructBegin
// not yet called: the handler owns reading its argument struct.
//
// On success it returns respond, which writes the reply struct body
// (also starting from ReadStructBegin/WriteStructBegin) onto whatever
// Protocol the caller gives it; respond is nil for a method declared
// ONEWAY, which never sends a reply. An error return is translated by
// the dispatcher into a wire Exception.
type Handler func(p codec.Protocol) (respond func(p codec.Protocol) error, err error)

// Registry is the per-RPC-instance map of fully qualified method name
// to Handler, installed by the IDL-generated service tables AddService
// calls into.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Handler)}
}

// AddService installs every (name, Handler) pair, failing the whole
// batch with ServiceAlreadyExisted if any name collides with one
// already registered.
func (r *Registry) AddService(methods map[string]Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range methods {
		if _, ok := r.funcs[name]; ok {
			return errs.Newf(errs.ServiceAlreadyExisted, "service method already registered: %s", name)
		}
	}
	for name, h := range methods {
		r.funcs[name] = h
	}
	return nil
}

// Lookup returns the handler for functionName, or ok=false on a miss.
func (r *Registry) Lookup(functionName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.funcs[functionName]
	return h, ok
}
