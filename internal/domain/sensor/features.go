// internal/domain/sensor/features.go
package sensor

import "math"

// Sample is a single three-axis reading from an accelerometer or gyroscope.
type Sample struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Timestamp int64   `json:"timestamp"` // Unix milliseconds
}

// AxisStats holds the scalar statistics of one axis.
type AxisStats struct {
	Mean   float64 `json:"mean" bson:"mean"`
	StdDev float64 `json:"stdDev" bson:"std_dev"`
	Range  float64 `json:"range" bson:"range"`
}

// Variance returns the population variance (StdDev squared).
func (a AxisStats) Variance() float64 {
	return a.StdDev * a.StdDev
}

// TriAxisStats groups the statistics of the X, Y and Z axes of one sensor.
type TriAxisStats struct {
	X AxisStats `json:"x" bson:"x"`
	Y AxisStats `json:"y" bson:"y"`
	Z AxisStats `json:"z" bson:"z"`
}

// Features are the statistics derived from a report's raw sensor burst.
// They are computed once at ingestion; the raw samples are not retained.
type Features struct {
	Accel TriAxisStats `json:"accel" bson:"accel"`
	Gyro  TriAxisStats `json:"gyro" bson:"gyro"`
}

// Extract computes per-axis mean, population standard deviation and range
// for both sensors. An empty sequence yields zero statistics for that sensor.
func Extract(accel, gyro []Sample) Features {
	return Features{
		Accel: triAxis(accel),
		Gyro:  triAxis(gyro),
	}
}

func triAxis(samples []Sample) TriAxisStats {
	if len(samples) == 0 {
		return TriAxisStats{}
	}
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	zs := make([]float64, len(samples))
	for i, s := range samples {
		xs[i], ys[i], zs[i] = s.X, s.Y, s.Z
	}
	return TriAxisStats{
		X: axis(xs),
		Y: axis(ys),
		Z: axis(zs),
	}
}

func axis(values []float64) AxisStats {
	if len(values) == 0 {
		return AxisStats{}
	}

	minV, maxV := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}

	return AxisStats{
		Mean:   mean,
		StdDev: math.Sqrt(sq / float64(len(values))),
		Range:  maxV - minV,
	}
}
