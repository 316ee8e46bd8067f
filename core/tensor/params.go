// Package tensor provides the named parameter-set structure shared by
// all chogo models, wrapping gonum/mat.Dense.
package tensor

import (
	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/pkg/errors"
)

// NamedTensors is an ordered mapping from parameter name to a dense
// tensor of float64 values.
//
// The insertion order is preserved and is the canonical enumeration
// order of the parameter set: optimizers and the L-BFGS adapter rely on
// it being deterministic. A parameter set is owned exclusively by the
// model that declares it; tensors are mutated in place by optimizer
// steps and must never be aliased across models. The latent-class
// mixture owns the disjoint union of its class models' sets plus its
// own class logits.
type NamedTensors struct {
	names   []string
	tensors map[string]*mat.Dense
}

// NewNamedTensors creates an empty parameter set.
func NewNamedTensors() *NamedTensors {
	return &NamedTensors{tensors: make(map[string]*mat.Dense)}
}

// Add registers a tensor under name. Duplicate names are a
// configuration error.
func (p *NamedTensors) Add(name string, t *mat.Dense) error {
	if t == nil {
		return errors.NewValueError("NamedTensors.Add", "tensor cannot be nil")
	}
	if _, ok := p.tensors[name]; ok {
		return errors.NewValueError("NamedTensors.Add", "duplicate parameter name: "+name)
	}
	p.names = append(p.names, name)
	p.tensors[name] = t
	return nil
}

// MustAdd is Add for initialization paths where a duplicate name is a
// programming error.
func (p *NamedTensors) MustAdd(name string, t *mat.Dense) {
	if err := p.Add(name, t); err != nil {
		panic(err)
	}
}

// Get returns the tensor registered under name, or nil.
func (p *NamedTensors) Get(name string) *mat.Dense {
	return p.tensors[name]
}

// Names returns the parameter names in enumeration order.
func (p *NamedTensors) Names() []string {
	return append([]string{}, p.names...)
}

// Len returns the number of parameter tensors.
func (p *NamedTensors) Len() int {
	return len(p.names)
}

// NumValues returns the total number of scalar values across all
// tensors, i.e. the length of the flattened parameter vector.
func (p *NamedTensors) NumValues() int {
	n := 0
	for _, name := range p.names {
		r, c := p.tensors[name].Dims()
		n += r * c
	}
	return n
}

// Clone returns a deep copy with the same enumeration order.
func (p *NamedTensors) Clone() *NamedTensors {
	clone := NewNamedTensors()
	for _, name := range p.names {
		var cp mat.Dense
		cp.CloneFrom(p.tensors[name])
		clone.MustAdd(name, &cp)
	}
	return clone
}

// ZeroLike returns a parameter set with the same names and shapes,
// filled with zeros. Used to accumulate gradients.
func (p *NamedTensors) ZeroLike() *NamedTensors {
	z := NewNamedTensors()
	for _, name := range p.names {
		r, c := p.tensors[name].Dims()
		z.MustAdd(name, mat.NewDense(r, c, nil))
	}
	return z
}

// CopyFrom assigns the values of src into the receiver in place. Both
// sets must have identical names, order and shapes.
func (p *NamedTensors) CopyFrom(src *NamedTensors) error {
	if src.Len() != p.Len() {
		return errors.NewDimensionError("NamedTensors.CopyFrom", p.Len(), src.Len(), 0)
	}
	for i, name := range p.names {
		if src.names[i] != name {
			return errors.NewValueError("NamedTensors.CopyFrom",
				"parameter name mismatch: "+name+" vs "+src.names[i])
		}
		dst := p.tensors[name]
		s := src.tensors[name]
		dr, dc := dst.Dims()
		sr, sc := s.Dims()
		if dr != sr || dc != sc {
			return errors.NewDimensionError("NamedTensors.CopyFrom", dr*dc, sr*sc, 0)
		}
		dst.Copy(s)
	}
	return nil
}

// Merge appends every tensor of src under a prefixed name
// ("prefix/name"). The tensors themselves are shared, not copied: the
// merged set is a view over the same parameter storage.
func (p *NamedTensors) Merge(prefix string, src *NamedTensors) error {
	for _, name := range src.names {
		if err := p.Add(prefix+"/"+name, src.tensors[name]); err != nil {
			return err
		}
	}
	return nil
}
