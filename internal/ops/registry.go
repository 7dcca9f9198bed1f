// Package ops registers the convolution entry points as named graph
// operations with declared arity and gradient generators, the surface
// a graph executor resolves operator names against.
package ops

import (
	"fmt"
	"sort"

	"github.com/born-ml/convdnn/internal/conv"
	"github.com/born-ml/convdnn/internal/tensor"
)

// Context provides the execution context for operators.
type Context struct {
	Engine *conv.Engine
}

// Node is one invocation of a named operation: the operator type plus
// its convolution hyperparameters.
type Node struct {
	OpType string
	Opts   conv.Options
}

// OpHandler executes a node and returns its output tensors.
type OpHandler func(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)

// GradientFunc produces the gradient tensors for a node given its
// forward inputs and the downstream output gradients. The returned
// slice is positionally aligned with the forward inputs.
type GradientFunc func(ctx *Context, node *Node, inputs, gradOutputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)

// OpSpec describes a registered operation.
type OpSpec struct {
	MinInputs int
	MaxInputs int
	Handler   OpHandler
	Gradient  GradientFunc
}

// Registry maps operator names to their specs.
type Registry struct {
	ops map[string]*OpSpec
}

// NewRegistry creates a registry with the convolution operators
// registered.
func NewRegistry() *Registry {
	r := &Registry{ops: make(map[string]*OpSpec)}
	r.registerConvOps()
	return r
}

// Register adds a custom operator spec.
func (r *Registry) Register(opType string, spec *OpSpec) {
	r.ops[opType] = spec
}

// Get returns the spec for an operator type.
func (r *Registry) Get(opType string) (*OpSpec, bool) {
	spec, ok := r.ops[opType]
	return spec, ok
}

// Execute runs an operator with the given inputs.
func (r *Registry) Execute(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	spec, ok := r.ops[node.OpType]
	if !ok {
		return nil, fmt.Errorf("unsupported operator: %s", node.OpType)
	}
	if len(inputs) < spec.MinInputs || len(inputs) > spec.MaxInputs {
		return nil, fmt.Errorf("%s: expected %d to %d inputs, got %d",
			node.OpType, spec.MinInputs, spec.MaxInputs, len(inputs))
	}
	return spec.Handler(ctx, node, inputs)
}

// ExecuteGradient runs an operator's gradient generator.
func (r *Registry) ExecuteGradient(ctx *Context, node *Node, inputs, gradOutputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	spec, ok := r.ops[node.OpType]
	if !ok {
		return nil, fmt.Errorf("unsupported operator: %s", node.OpType)
	}
	if spec.Gradient == nil {
		return nil, fmt.Errorf("%s: no gradient registered", node.OpType)
	}
	return spec.Gradient(ctx, node, inputs, gradOutputs)
}

// SupportedOps returns the sorted list of registered operator types.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.ops))
	for op := range r.ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
