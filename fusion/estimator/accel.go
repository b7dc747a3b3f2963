package estimator

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"
)

// minError floors measurement errors so the innovation covariance stays invertible.
const minError = 0.1

type AccelConfig struct {
	// AccelerationDeviation is the accelerometer's standard deviation, m/s^2.
	AccelerationDeviation float64

	// PositionFactor and VelocityFactor scale measurement noise.
	PositionFactor float64
	VelocityFactor float64

	// UseVelocity measures velocity as well as position on update.
	UseVelocity bool
}

// AccelFilter is a linear Kalman filter over [x, y, vx, vy]
// driven by world-frame acceleration as its control input.
//
// Process noise grows with the number of predictions since the last update,
// so long inertial-only stretches widen the uncertainty quickly.
type AccelFilter struct {
	cfg AccelConfig

	x *mat.VecDense // [x, y, vx, vy]
	p *mat.Dense

	predictCount int
	lastTs       int64
	lastUpdate   int64
}

func NewAccelFilter(cfg AccelConfig, init Init) *AccelFilter {
	if cfg.PositionFactor <= 0 {
		cfg.PositionFactor = 1
	}
	if cfg.VelocityFactor <= 0 {
		cfg.VelocityFactor = 1
	}
	posErr := math.Max(init.PosErr, minError)
	velErr := init.VelErr
	if velErr <= 0 {
		velErr = posErr
	}
	posVar := posErr * posErr
	velVar := velErr * velErr
	return &AccelFilter{
		cfg: cfg,
		x:   mat.NewVecDense(4, []float64{init.X, init.Y, init.VX, init.VY}),
		p: mat.NewDense(4, 4, []float64{
			posVar, 0, 0, 0,
			0, posVar, 0, 0,
			0, 0, velVar, 0,
			0, 0, 0, velVar,
		}),
		lastTs:     init.Timestamp,
		lastUpdate: init.Timestamp,
	}
}

func transition(dt float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

func control(dt float64) *mat.Dense {
	h := dt * dt / 2
	return mat.NewDense(4, 2, []float64{
		h, 0,
		0, h,
		dt, 0,
		0, dt,
	})
}

func (f *AccelFilter) processNoise() *mat.Dense {
	n := float64(f.predictCount)
	velDev := f.cfg.AccelerationDeviation * n
	posDev := velDev * n / 2
	covDev := velDev * posDev
	pos2, vel2 := posDev*posDev, velDev*velDev
	return mat.NewDense(4, 4, []float64{
		pos2, 0, covDev, 0,
		0, pos2, 0, covDev,
		covDev, 0, vel2, 0,
		0, covDev, 0, vel2,
	})
}

// advance propagates the state to ts with acceleration u.
func (f *AccelFilter) advance(ts int64, ax, ay float64) {
	dt := float64(ts-f.lastTs) / 1000
	if dt < 0 {
		dt = 0
	}
	F := transition(dt)
	B := control(dt)
	u := mat.NewVecDense(2, []float64{ax, ay})

	var fx, bu mat.VecDense
	fx.MulVec(F, f.x)
	bu.MulVec(B, u)
	f.x.AddVec(&fx, &bu)

	var fp, fpft mat.Dense
	fp.Mul(F, f.p)
	fpft.Mul(&fp, F.T())
	fpft.Add(&fpft, f.processNoise())
	f.p = &fpft

	if ts > f.lastTs {
		f.lastTs = ts
	}
}

func (f *AccelFilter) Predict(ts int64, east, north float64) {
	f.predictCount++
	f.advance(ts, east, north)
}

func (f *AccelFilter) Update(ts int64, x, y, vx, vy, posErr, velErr float64) error {
	// Carry the state to the fix's time at constant velocity first.
	f.advance(ts, 0, 0)
	f.predictCount = 0

	posVar := math.Max(posErr, minError) * f.cfg.PositionFactor
	posVar *= posVar
	velVar := math.Max(velErr, minError) * f.cfg.VelocityFactor
	velVar *= velVar

	var H, R *mat.Dense
	var z *mat.VecDense
	if f.cfg.UseVelocity {
		H = mat.NewDense(4, 4, []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 1, 0,
			0, 0, 0, 1,
		})
		R = mat.NewDense(4, 4, []float64{
			posVar, 0, 0, 0,
			0, posVar, 0, 0,
			0, 0, velVar, 0,
			0, 0, 0, velVar,
		})
		z = mat.NewVecDense(4, []float64{x, y, vx, vy})
	} else {
		H = mat.NewDense(2, 4, []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
		})
		R = mat.NewDense(2, 2, []float64{
			posVar, 0,
			0, posVar,
		})
		z = mat.NewVecDense(2, []float64{x, y})
	}

	// Innovation.
	var hx, innov mat.VecDense
	hx.MulVec(H, f.x)
	innov.SubVec(z, &hx)

	var hp, s mat.Dense
	hp.Mul(H, f.p)
	s.Mul(&hp, H.T())
	s.Add(&s, R)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		slog.Debug("Estimator innovation covariance singular, skipping update", "ts", ts, "error", err)
		f.lastUpdate = ts
		return err
	}

	var pht, k mat.Dense
	pht.Mul(f.p, H.T())
	k.Mul(&pht, &sInv)

	var corr mat.VecDense
	corr.MulVec(&k, &innov)
	f.x.AddVec(f.x, &corr)

	var kh, ikh, p mat.Dense
	kh.Mul(&k, H)
	ikh.Sub(eye(4), &kh)
	p.Mul(&ikh, f.p)
	f.p = &p

	f.lastUpdate = ts
	return nil
}

func (f *AccelFilter) State() State {
	pe := (f.p.At(0, 0) + f.p.At(1, 1)) / 2
	if pe < 0 {
		pe = 0
	}
	return State{
		X:             f.x.AtVec(0),
		Y:             f.x.AtVec(1),
		VX:            f.x.AtVec(2),
		VY:            f.x.AtVec(3),
		PositionError: math.Sqrt(pe),
		Timestamp:     f.lastUpdate,
	}
}

func eye(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}
