// internal/domain/sensor/classifier.go
package sensor

// Thresholds configure the heuristic pothole classifier.
type Thresholds struct {
	AccelRange    float64 // vertical (Z) acceleration range
	AccelVariance float64 // vertical (Z) acceleration variance
	GyroVariance  float64 // gyroscope X or Y variance
}

// Classifier is a threshold-based prefilter over extracted Features.
type Classifier struct {
	thresholds Thresholds
}

func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// IsLikelyPothole reports whether the sensor pattern matches a pothole:
// a large vertical jolt combined with either vertical variance or body roll/pitch.
func (c *Classifier) IsLikelyPothole(f Features) bool {
	if f.Accel.Z.Range <= c.thresholds.AccelRange {
		return false
	}
	return f.Accel.Z.Variance() > c.thresholds.AccelVariance ||
		f.Gyro.X.Variance() > c.thresholds.GyroVariance ||
		f.Gyro.Y.Variance() > c.thresholds.GyroVariance
}
