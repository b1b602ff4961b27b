package bayesian

import "gonum.org/v1/gonum/mat"

// MatrixPool keeps released matrices for reuse by later fits of the same
// size. A pooled value is only handed out when its shape matches the request.
type MatrixPool struct {
	symPools   []*mat.SymDense
	densePools []*mat.Dense
	vecPools   []*mat.VecDense
}

// NewMatrixPool creates a new MatrixPool
func NewMatrixPool() *MatrixPool {
	return &MatrixPool{
		symPools:   make([]*mat.SymDense, 0, 4),
		densePools: make([]*mat.Dense, 0, 4),
		vecPools:   make([]*mat.VecDense, 0, 4),
	}
}

// GetSymDense returns a zeroed n×n symmetric matrix.
func (p *MatrixPool) GetSymDense(n int) *mat.SymDense {
	for i, m := range p.symPools {
		if m.SymmetricDim() == n {
			p.symPools = append(p.symPools[:i], p.symPools[i+1:]...)
			m.Zero()
			return m
		}
	}
	return mat.NewSymDense(n, nil)
}

// PutSymDense returns a symmetric matrix to the pool
func (p *MatrixPool) PutSymDense(m *mat.SymDense) {
	if m == nil || m.IsEmpty() {
		return
	}
	p.symPools = append(p.symPools, m)
}

// GetDense returns a zeroed r×c matrix.
func (p *MatrixPool) GetDense(r, c int) *mat.Dense {
	for i, m := range p.densePools {
		if mr, mc := m.Dims(); mr == r && mc == c {
			p.densePools = append(p.densePools[:i], p.densePools[i+1:]...)
			m.Zero()
			return m
		}
	}
	return mat.NewDense(r, c, nil)
}

// PutDense returns a dense matrix to the pool
func (p *MatrixPool) PutDense(m *mat.Dense) {
	if m == nil || m.IsEmpty() {
		return
	}
	p.densePools = append(p.densePools, m)
}

// GetVecDense returns a zeroed vector of length n.
func (p *MatrixPool) GetVecDense(n int) *mat.VecDense {
	for i, v := range p.vecPools {
		if v.Len() == n {
			p.vecPools = append(p.vecPools[:i], p.vecPools[i+1:]...)
			v.Zero()
			return v
		}
	}
	return mat.NewVecDense(n, nil)
}

// PutVecDense returns a vector to the pool
func (p *MatrixPool) PutVecDense(v *mat.VecDense) {
	if v == nil || v.IsEmpty() {
		return
	}
	p.vecPools = append(p.vecPools, v)
}
