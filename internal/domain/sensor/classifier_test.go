package sensor

import "testing"

func TestClassifierIsLikelyPothole(t *testing.T) {
	c := NewClassifier(Thresholds{AccelRange: 2, AccelVariance: 0.5, GyroVariance: 0.1})

	tests := []struct {
		name string
		f    Features
		want bool
	}{
		{
			name: "flat road",
			f:    Features{Accel: TriAxisStats{Z: AxisStats{Range: 0.4, StdDev: 0.1}}},
			want: false,
		},
		{
			name: "jolt with vertical variance",
			f:    Features{Accel: TriAxisStats{Z: AxisStats{Range: 3, StdDev: 0.8}}},
			want: true,
		},
		{
			name: "jolt with gyro roll",
			f: Features{
				Accel: TriAxisStats{Z: AxisStats{Range: 3, StdDev: 0.1}},
				Gyro:  TriAxisStats{X: AxisStats{StdDev: 0.4}},
			},
			want: true,
		},
		{
			name: "jolt with gyro pitch",
			f: Features{
				Accel: TriAxisStats{Z: AxisStats{Range: 3, StdDev: 0.1}},
				Gyro:  TriAxisStats{Y: AxisStats{StdDev: 0.4}},
			},
			want: true,
		},
		{
			name: "jolt without variance",
			f:    Features{Accel: TriAxisStats{Z: AxisStats{Range: 3, StdDev: 0.1}}},
			want: false,
		},
		{
			name: "range exactly at threshold",
			f:    Features{Accel: TriAxisStats{Z: AxisStats{Range: 2, StdDev: 5}}},
			want: false,
		},
		{
			name: "gyro Z is ignored",
			f: Features{
				Accel: TriAxisStats{Z: AxisStats{Range: 3, StdDev: 0.1}},
				Gyro:  TriAxisStats{Z: AxisStats{StdDev: 5}},
			},
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.IsLikelyPothole(tc.f); got != tc.want {
				t.Fatalf("IsLikelyPothole: got=%v want=%v", got, tc.want)
			}
		})
	}
}
