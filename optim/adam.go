package optim

import (
	"math"

	"github.com/chogo-ml/chogo/core/tensor"
)

// Adam implements Adam (Kingma & Ba, 2014): exponential moving
// averages of gradients and squared gradients with bias correction.
//
//	m_t = beta1*m_{t-1} + (1-beta1)*g
//	v_t = beta2*v_{t-1} + (1-beta2)*g^2
//	p  <- p - lr * (m_t/(1-beta1^t)) / (sqrt(v_t/(1-beta2^t)) + eps)
//
// Moment state is keyed by parameter name and created lazily on the
// first step, so one Adam instance must only ever drive one parameter
// set.
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	t     int
	m     map[string][]float64
	v     map[string][]float64
}

// NewAdam creates an Adam optimizer with the usual defaults
// (beta1=0.9, beta2=0.999, eps=1e-8).
func NewAdam(lr float64) *Adam {
	return &Adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make(map[string][]float64),
		v:     make(map[string][]float64),
	}
}

// Name returns "adam".
func (a *Adam) Name() string { return "adam" }

// Step applies one Adam update to every parameter tensor.
func (a *Adam) Step(params, grads *tensor.NamedTensors) error {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))

	return eachParam(params, grads, func(name string, p, g []float64) {
		m, ok := a.m[name]
		if !ok {
			m = make([]float64, len(p))
			a.m[name] = m
		}
		v, ok := a.v[name]
		if !ok {
			v = make([]float64, len(p))
			a.v[name] = v
		}
		for i := range p {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
			v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
			mHat := m[i] / bc1
			vHat := v[i] / bc2
			p[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	})
}

// Adamax is the infinity-norm variant of Adam: the second moment is an
// exponentially decayed running maximum of gradient magnitudes.
//
//	m_t = beta1*m_{t-1} + (1-beta1)*g
//	u_t = max(beta2*u_{t-1}, |g|)
//	p  <- p - (lr/(1-beta1^t)) * m_t / (u_t + eps)
type Adamax struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	t     int
	m     map[string][]float64
	u     map[string][]float64
}

// NewAdamax creates an Adamax optimizer with the usual defaults.
func NewAdamax(lr float64) *Adamax {
	return &Adamax{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make(map[string][]float64),
		u:     make(map[string][]float64),
	}
}

// Name returns "adamax".
func (a *Adamax) Name() string { return "adamax" }

// Step applies one Adamax update to every parameter tensor.
func (a *Adamax) Step(params, grads *tensor.NamedTensors) error {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))

	return eachParam(params, grads, func(name string, p, g []float64) {
		m, ok := a.m[name]
		if !ok {
			m = make([]float64, len(p))
			a.m[name] = m
		}
		u, ok := a.u[name]
		if !ok {
			u = make([]float64, len(p))
			a.u[name] = u
		}
		for i := range p {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
			if decayed := a.beta2 * u[i]; decayed > math.Abs(g[i]) {
				u[i] = decayed
			} else {
				u[i] = math.Abs(g[i])
			}
			p[i] -= (a.lr / bc1) * m[i] / (u[i] + a.eps)
		}
	})
}
