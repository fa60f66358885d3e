/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package stardetect

import (
	"image"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// PSFFitResult is the outcome of one PSF fit. Data is only meaningful when
// Success is set.
type PSFFitResult struct {
	Success bool
	Data    PSFData
}

// PSFFitter fits a point spread function to the pixels of window, starting
// from center.
type PSFFitter interface {
	Fit(img Mat, center Point2d, window image.Rectangle, psfType PSFType, elliptic bool) PSFFitResult
}

// LMFitter is a bounded Levenberg-Marquardt PSF fitter.
type LMFitter struct {
	Tolerance     float64
	MaxIterations int
}

// NewLMFitter returns a fitter with the default convergence settings.
func NewLMFitter() *LMFitter {
	return &LMFitter{Tolerance: 1e-8, MaxIterations: 200}
}

// Parameter layout shared by both shapes. Circular fits stop at paramSX.
const (
	paramA = iota
	paramB
	paramX0
	paramY0
	paramSX
	paramSY
	paramTheta
)

// psfModel evaluates f = B + A*h(Q) with Q = X²/sx² + Y²/sy², where (X, Y)
// is the offset from the centre rotated by theta.
type psfModel struct {
	psfType  PSFType
	elliptic bool
	beta     float64
}

func newPSFModel(t PSFType, elliptic bool) psfModel {
	return psfModel{psfType: t, elliptic: elliptic, beta: t.beta()}
}

func (m psfModel) numParams() int {
	if m.elliptic {
		return 7
	}
	return 5
}

func (m psfModel) profile(q float64) float64 {
	if m.psfType == PSFGaussian {
		return math.Exp(-q / 2)
	}
	return math.Pow(1+q, -m.beta)
}

// profileSlope is dh/dQ.
func (m psfModel) profileSlope(q, h float64) float64 {
	if m.psfType == PSFGaussian {
		return -h / 2
	}
	return -m.beta * h / (1 + q)
}

// halfMaxQ is the Q at which h drops to one half.
func (m psfModel) halfMaxQ() float64 {
	if m.psfType == PSFGaussian {
		return 2 * math.Ln2
	}
	return math.Pow(2, 1/m.beta) - 1
}

// widthFactor converts a scale parameter into the full width at 1/level of
// the maximum.
func (m psfModel) widthFactor(level float64) float64 {
	if m.psfType == PSFGaussian {
		return 2 * math.Sqrt(2*math.Log(level))
	}
	return 2 * math.Sqrt(math.Pow(level, 1/m.beta)-1)
}

// flux is the volume under A*h.
func (m psfModel) flux(a, sx, sy float64) float64 {
	if m.psfType == PSFGaussian {
		return 2 * math.Pi * a * sx * sy
	}
	return math.Pi * a * sx * sy / (m.beta - 1)
}

func (m psfModel) q(p []float64, dx, dy float64) (q, X, Y float64) {
	dx -= p[paramX0]
	dy -= p[paramY0]
	if !m.elliptic {
		s2 := p[paramSX] * p[paramSX]
		return (dx*dx + dy*dy) / s2, dx, dy
	}
	cosT, sinT := math.Cos(p[paramTheta]), math.Sin(p[paramTheta])
	X = dx*cosT + dy*sinT
	Y = -dx*sinT + dy*cosT
	return X*X/(p[paramSX]*p[paramSX]) + Y*Y/(p[paramSY]*p[paramSY]), X, Y
}

func (m psfModel) value(p []float64, dx, dy float64) float64 {
	q, _, _ := m.q(p, dx, dy)
	return p[paramB] + p[paramA]*m.profile(q)
}

func (m psfModel) gradient(p []float64, dx, dy float64, grad []float64) {
	q, X, Y := m.q(p, dx, dy)
	h := m.profile(q)
	ah := p[paramA] * m.profileSlope(q, h)
	grad[paramA] = h
	grad[paramB] = 1
	U := p[paramSX]
	U2 := U * U
	if !m.elliptic {
		grad[paramX0] = ah * (-2 * X / U2)
		grad[paramY0] = ah * (-2 * Y / U2)
		grad[paramSX] = ah * (-2 * (X*X + Y*Y) / (U2 * U))
		return
	}
	V := p[paramSY]
	V2 := V * V
	cosT, sinT := math.Cos(p[paramTheta]), math.Sin(p[paramTheta])
	grad[paramX0] = ah * (-2 * (X*cosT/U2 - Y*sinT/V2))
	grad[paramY0] = ah * (-2 * (X*sinT/U2 + Y*cosT/V2))
	grad[paramSX] = ah * (-2 * X * X / (U2 * U))
	grad[paramSY] = ah * (-2 * Y * Y / (V2 * V))
	grad[paramTheta] = ah * (2 * X * Y * (1/U2 - 1/V2))
}

// psfSamples holds the window pixels as offsets from the fit origin.
type psfSamples struct {
	dx, dy, v []float64
}

func windowSamples(img Mat, window image.Rectangle, origin Point2d) psfSamples {
	width := img.Cols()
	data := img.DataFloat32()
	n := window.Dx() * window.Dy()
	s := psfSamples{dx: make([]float64, 0, n), dy: make([]float64, 0, n), v: make([]float64, 0, n)}
	for y := window.Min.Y; y < window.Max.Y; y++ {
		for x := window.Min.X; x < window.Max.X; x++ {
			s.dx = append(s.dx, float64(x)-origin.X)
			s.dy = append(s.dy, float64(y)-origin.Y)
			s.v = append(s.v, float64(data[y*width+x]))
		}
	}
	return s
}

// Fit implements PSFFitter.
func (f *LMFitter) Fit(img Mat, center Point2d, window image.Rectangle, psfType PSFType, elliptic bool) PSFFitResult {
	window = window.Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	model := newPSFModel(psfType, elliptic)
	n := model.numParams()
	if window.Dx()*window.Dy() < 2*n {
		return PSFFitResult{}
	}

	samples := windowSamples(img, window, center)
	vmin, vmax := floats.Min(samples.v), floats.Max(samples.v)
	b0, err := stats.Median(samples.v)
	if err != nil {
		return PSFFitResult{}
	}
	cx := clampInt(int(math.Round(center.X)), window.Min.X, window.Max.X-1)
	cy := clampInt(int(math.Round(center.Y)), window.Min.Y, window.Max.Y-1)
	a0 := math.Max(float64(img.DataFloat32()[cy*img.Cols()+cx])-b0, 1e-6)

	// Second moment of the background subtracted window gives the starting width.
	var sw, sr2 float64
	for i, v := range samples.v {
		if w := v - b0; w > 0 {
			sw += w
			sr2 += w * (samples.dx[i]*samples.dx[i] + samples.dy[i]*samples.dy[i])
		}
	}
	half := float64(max(window.Dx(), window.Dy())) / 2
	sigma0 := 1.0
	if sw > 0 {
		sigma0 = math.Sqrt(sr2 / (2 * sw))
	}
	sigma0 = clampFloat64(sigma0, 0.5, math.Max(0.5, half))
	s0 := sigma0
	if psfType != PSFGaussian {
		// Same half width as the Gaussian guess.
		s0 = sigma0 * math.Sqrt(2*math.Ln2) / math.Sqrt(model.halfMaxQ())
	}

	ampHi := 2 * math.Max(1, vmax-vmin)
	x0 := []float64{a0, b0, 0, 0, s0, s0, 0}[:n]
	lower := []float64{0, math.Min(0, vmin), -half, -half, 0.1, 0.1, -math.Pi}[:n]
	upper := []float64{ampHi, math.Max(1, vmax), half, half, 2 * half, 2 * half, math.Pi}[:n]

	p, converged := levenbergMarquardt(model, samples, x0, lower, upper, f.Tolerance, f.MaxIterations)
	if !converged {
		return PSFFitResult{}
	}
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return PSFFitResult{}
		}
	}
	if degenerateFit(p, lower, upper) {
		return PSFFitResult{}
	}

	sx, sy, theta := p[paramSX], p[paramSX], 0.0
	if elliptic {
		sx, sy = p[paramSX], p[paramSY]
		theta = euclidianModulus(p[paramTheta], math.Pi)
		if theta > math.Pi/2.0 {
			theta -= math.Pi
		}
		if sy > sx {
			if theta < 0 {
				theta += math.Pi / 2.0
			} else {
				theta -= math.Pi / 2.0
			}
			sx, sy = sy, sx
		}
	}

	data := PSFData{
		Type:       psfType,
		Elliptic:   elliptic,
		Center:     Point2d{X: center.X + p[paramX0], Y: center.Y + p[paramY0]},
		Amplitude:  p[paramA],
		Background: p[paramB],
		SX:         sx,
		SY:         sy,
		Theta:      theta,
		FWHMx:      sx * model.widthFactor(2),
		FWHMy:      sy * model.widthFactor(2),
		FWTMx:      sx * model.widthFactor(10),
		FWTMy:      sy * model.widthFactor(10),
		Flux:       model.flux(p[paramA], sx, sy),
	}
	data.Eccentricity = math.Sqrt(1 - (sy*sy)/(sx*sx))
	data.Signal, data.MAD = fitQuality(model, p, samples)
	return PSFFitResult{Success: true, Data: data}
}

const (
	// minFitAmplitude is the amplitude below which a fit found no source.
	minFitAmplitude = 1e-6
	// boundEpsilon is how close to a box constraint a parameter counts as
	// pinned to it.
	boundEpsilon = 1e-6
)

// degenerateFit reports whether the amplitude of p vanished or its centre or
// widths ended on their box constraints.
func degenerateFit(p, lower, upper []float64) bool {
	if p[paramA] < minFitAmplitude {
		return true
	}
	for j := paramX0; j < len(p) && j <= paramSY; j++ {
		if p[j]-lower[j] < boundEpsilon || upper[j]-p[j] < boundEpsilon {
			return true
		}
	}
	return false
}

// fitQuality returns the mean model signal inside the half maximum contour
// and the median absolute residual over the window.
func fitQuality(model psfModel, p []float64, s psfSamples) (signal, mad float64) {
	qHalf := model.halfMaxQ()
	residuals := make([]float64, len(s.v))
	var sum float64
	var count int
	for i := range s.v {
		q, _, _ := model.q(p, s.dx[i], s.dy[i])
		h := model.profile(q)
		if q <= qHalf {
			sum += p[paramA] * h
			count++
		}
		residuals[i] = math.Abs(s.v[i] - (p[paramB] + p[paramA]*h))
	}
	signal = p[paramA]
	if count > 0 {
		signal = sum / float64(count)
	}
	mad, _ = stats.Median(residuals)
	return signal, mad
}

func euclidianModulus(x, y float64) float64 {
	return math.Mod(math.Mod(x, y)+y, y)
}

// levenbergMarquardt minimizes the squared residuals of model over s within
// the box [lower, upper]. The damping term is scaled by the diagonal of JᵀJ.
// converged is false when maxIter steps ran out before the cost settled.
func levenbergMarquardt(model psfModel, s psfSamples, x0, lower, upper []float64, tolerance float64, maxIter int) (x []float64, converged bool) {
	n := len(x0)
	m := len(s.v)

	x = make([]float64, n)
	for j := range x0 {
		x[j] = clampFloat64(x0[j], lower[j], upper[j])
	}

	fi := make([]float64, m)
	jac := mat.NewDense(m, n, nil)
	residualsAndJacobian(model, s, x, fi, jac)
	cost := floats.Dot(fi, fi)

	lambda := 1e-3
	nu := 2.0

	var jtj mat.Dense
	jtf := mat.NewVecDense(n, nil)
	fiVec := mat.NewVecDense(m, fi)
	a := mat.NewSymDense(n, nil)
	rhs := mat.NewVecDense(n, nil)
	var dx mat.VecDense
	var chol mat.Cholesky
	xNew := make([]float64, n)
	fiNew := make([]float64, m)

	for iter := 0; iter < maxIter; iter++ {
		jtj.Mul(jac.T(), jac)
		jtf.MulVec(jac.T(), fiVec)
		if floats.Norm(jtf.RawVector().Data, 2) < tolerance*cost {
			return x, true
		}

		improved := false
		for tries := 0; tries < 20; tries++ {
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					a.SetSym(i, j, jtj.At(i, j))
				}
				d := jtj.At(i, i)
				a.SetSym(i, i, d+lambda*math.Max(d, 1e-12))
				rhs.SetVec(i, -jtf.AtVec(i))
			}

			if !chol.Factorize(a) {
				lambda *= nu
				continue
			}
			if err := chol.SolveVecTo(&dx, rhs); err != nil {
				lambda *= nu
				continue
			}

			for j := 0; j < n; j++ {
				xNew[j] = clampFloat64(x[j]+dx.AtVec(j), lower[j], upper[j])
			}
			for k := 0; k < m; k++ {
				fiNew[k] = model.value(xNew, s.dx[k], s.dy[k]) - s.v[k]
			}
			costNew := floats.Dot(fiNew, fiNew)

			if costNew < cost {
				improvement := (cost - costNew) / cost
				copy(x, xNew)
				cost = costNew
				lambda = math.Max(lambda/3.0, 1e-15)
				nu = 2.0
				residualsAndJacobian(model, s, x, fi, jac)
				if improvement < tolerance {
					return x, true
				}
				improved = true
				break
			}
			lambda *= nu
			nu *= 2.0
			if lambda > 1e16 {
				// No step lowers the cost any more.
				return x, true
			}
		}
		if !improved {
			return x, true
		}
	}
	return x, false
}

func residualsAndJacobian(model psfModel, s psfSamples, x, fi []float64, jac *mat.Dense) {
	grad := make([]float64, len(x))
	for k := range s.v {
		fi[k] = model.value(x, s.dx[k], s.dy[k]) - s.v[k]
		model.gradient(x, s.dx[k], s.dy[k], grad)
		jac.SetRow(k, grad)
	}
}
