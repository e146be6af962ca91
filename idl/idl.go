// Package idl supplies the Go-side contract a real IDL compiler's
// generated stubs would satisfy. Pebble doesn't reimplement the
// Thrift-like parser the original tree built at
// source/rpc/compiler/cpp (that compiler is out of scope here); what
// every generated service needs from the runtime is just this
// shape — one MethodDescriptor per RPC method, grouped into a
// ServiceDescriptor — which t_function.h and t_attributes.h model on
// the compiler side as a named function, an argument struct, an
// optional exception struct, a oneway flag, and a timeout annotation.
package idl

// MethodDescriptor is one RPC method as the compiler's output would
// describe it: a name, whether it expects a reply, and the timeout
// annotation from the IDL source (0 means "no annotation", the
// runtime's own default applies).
type MethodDescriptor struct {
	Name      string
	Oneway    bool
	TimeoutMs int64
}

// ServiceDescriptor groups every method a generated service exposes.
// FullName joins Service and a method's Name the way multiplexed
// function_name values are framed on the wire ("ServiceName:MethodName").
type ServiceDescriptor struct {
	Service string
	Methods []MethodDescriptor
}

// FullName returns the wire function_name for method m of this
// service.
func (d ServiceDescriptor) FullName(m MethodDescriptor) string {
	return d.Service + ":" + m.Name
}

// Lookup finds a method by its unqualified name, for registrars that
// walk a descriptor to build their dispatch table.
func (d ServiceDescriptor) Lookup(name string) (MethodDescriptor, bool) {
	for _, m := range d.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return MethodDescriptor{}, false
}
