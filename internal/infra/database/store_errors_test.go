package database

import (
	"errors"
	"testing"

	"road_anomaly_reconciler/internal/domain/report"

	"github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestClassifyStoreErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"postgres unique violation", classifyPostgresError("save", &pq.Error{Code: "23505"}), false},
		{"postgres check violation", classifyPostgresError("save", &pq.Error{Code: "23514"}), false},
		{"postgres numeric out of range", classifyPostgresError("save", &pq.Error{Code: "22003"}), false},
		{"postgres admin shutdown", classifyPostgresError("save", &pq.Error{Code: "57P01"}), true},
		{"postgres connection refused", classifyPostgresError("save", errors.New("dial tcp: connection refused")), true},
		{"mongo duplicate key", classifyMongoError("save", mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000}}}), false},
		{"mongo network", classifyMongoError("save", errors.New("server selection timeout")), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := report.IsRetryable(tc.err); got != tc.retryable {
				t.Fatalf("IsRetryable(%v)=%v want=%v", tc.err, got, tc.retryable)
			}
			if !tc.retryable && !errors.Is(tc.err, report.ErrStoreRejected) {
				t.Fatalf("expected ErrStoreRejected in %v", tc.err)
			}
		})
	}
}
