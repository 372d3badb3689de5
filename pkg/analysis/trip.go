package analysis

import (
	"math"

	"github.com/cockroachdb/errors"

	"github.com/BIwashi/canseries/pkg/align"
	"github.com/BIwashi/canseries/pkg/calculus"
	"github.com/BIwashi/canseries/pkg/resample"
	"github.com/BIwashi/canseries/pkg/series"
)

// KphToMps converts km/h to m/s.
const KphToMps = 1000.0 / 3600.0

// Odometer integrates speed*unitScale over time, starting at zero.
func Odometer(speed series.Series, unitScale float64) (series.Series, error) {
	dist, err := calculus.Integrate(speed.Scale(unitScale), 0)
	if err != nil {
		return series.Series{}, errors.Wrap(err, "odometer")
	}
	return dist, nil
}

// Distance returns the total distance travelled. With speed in km/h and
// unitScale KphToMps the result is in metres.
func Distance(speed series.Series, unitScale float64) (float64, error) {
	dist, err := Odometer(speed, unitScale)
	if err != nil {
		return 0, err
	}
	return dist.Last().Value, nil
}

// Pose is one point of a dead-reckoned trajectory.
type Pose struct {
	Time float64
	X    float64
	Y    float64
	Vx   float64
	Vy   float64
}

// Trajectory dead-reckons a planar path from yaw rate (deg/s) and speed (km/h).
// Heading is the integrated yaw rate; both series are synchronized on a fixed
// rateHz grid. The first pose is the start position one step before the grid.
func Trajectory(yawRate, speed series.Series, rateHz, x0, y0 float64) ([]Pose, error) {
	heading, err := calculus.Integrate(yawRate, 0)
	if err != nil {
		return nil, errors.Wrap(err, "trajectory heading")
	}
	hs, vs, err := align.Sync(heading, speed, align.FixedRate(rateHz, resample.Cubic))
	if err != nil {
		return nil, errors.Wrap(err, "trajectory sync")
	}
	dt := 1 / rateHz
	poses := make([]Pose, 0, hs.Len()+1)
	poses = append(poses, Pose{Time: hs.First().Time - dt, X: x0, Y: y0})
	x, y := x0, y0
	for i := 0; i < hs.Len(); i++ {
		yaw := hs.At(i).Value * math.Pi / 180
		v := vs.At(i).Value * KphToMps
		vx, vy := v*math.Cos(yaw), v*math.Sin(yaw)
		x += vx * dt
		y += vy * dt
		poses = append(poses, Pose{Time: hs.At(i).Time, X: x, Y: y, Vx: vx, Vy: vy})
	}
	return poses, nil
}
