package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"road_anomaly_reconciler/internal/domain/report"
	"road_anomaly_reconciler/internal/domain/sensor"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const reportsCollection = "road_reports"

// NewMongoConnection connects to MongoDB and pings the primary.
func NewMongoConnection(ctx context.Context, uri string) (*mongo.Client, error) {
	dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	c, err := mongo.Connect(dctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err = c.Ping(dctx, nil); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return c, nil
}

type geoJSONPoint struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"` // [lon, lat]
}

type mongoReport struct {
	ID             string          `bson:"_id"`
	AnomalyType    string          `bson:"anomaly_type"`
	Location       geoJSONPoint    `bson:"location"`
	Altitude       float64         `bson:"altitude"`
	AccuracyMeters float64         `bson:"accuracy_m"`
	CapturedAt     time.Time       `bson:"captured_at"`
	ReportedAt     time.Time       `bson:"reported_at"`
	NotifiedAt     *time.Time      `bson:"notified_at"`
	Locality       string          `bson:"locality"`
	MediaReference string          `bson:"media_reference"`
	LikelyAnomaly  bool            `bson:"likely_anomaly"`
	Features       sensor.Features `bson:"sensor_features"`
}

func toMongoReport(r *report.Report) mongoReport {
	return mongoReport{
		ID:             r.ID,
		AnomalyType:    r.AnomalyType,
		Location:       geoJSONPoint{Type: "Point", Coordinates: []float64{r.Location.Longitude, r.Location.Latitude}},
		Altitude:       r.Location.Altitude,
		AccuracyMeters: r.Location.AccuracyMeters,
		CapturedAt:     r.CapturedAt,
		ReportedAt:     r.ReportedAt,
		NotifiedAt:     r.NotifiedAt,
		Locality:       r.Locality,
		MediaReference: r.MediaReference,
		LikelyAnomaly:  r.LikelyAnomaly,
		Features:       r.Features,
	}
}

func (m mongoReport) toReport() *report.Report {
	r := &report.Report{
		ID:          m.ID,
		AnomalyType: m.AnomalyType,
		Location: report.Location{
			Altitude:       m.Altitude,
			AccuracyMeters: m.AccuracyMeters,
		},
		CapturedAt:     m.CapturedAt,
		ReportedAt:     m.ReportedAt,
		NotifiedAt:     m.NotifiedAt,
		Locality:       m.Locality,
		MediaReference: m.MediaReference,
		LikelyAnomaly:  m.LikelyAnomaly,
		Features:       m.Features,
	}
	if len(m.Location.Coordinates) == 2 {
		r.Location.Longitude = m.Location.Coordinates[0]
		r.Location.Latitude = m.Location.Coordinates[1]
	}
	return r
}

type MongoReportRepository struct {
	col *mongo.Collection
}

func NewMongoReportRepository(db *mongo.Database) *MongoReportRepository {
	return &MongoReportRepository{col: db.Collection(reportsCollection)}
}

// EnsureIndexes creates the geospatial and time indexes. Failures are
// collected and returned together so startup can log them and carry on.
func (r *MongoReportRepository) EnsureIndexes(ctx context.Context) error {
	ctxIdx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	models := []struct {
		name  string
		model mongo.IndexModel
	}{
		{"location", mongo.IndexModel{Keys: bson.D{{Key: "location", Value: "2dsphere"}}}},
		{"reported_at", mongo.IndexModel{Keys: bson.D{{Key: "reported_at", Value: 1}, {Key: "notified_at", Value: 1}}}},
		{"locality", mongo.IndexModel{Keys: bson.D{{Key: "locality", Value: 1}, {Key: "reported_at", Value: -1}}}},
	}

	var errs []string
	for _, m := range models {
		if _, err := r.col.Indexes().CreateOne(ctxIdx, m.model); err != nil {
			errs = append(errs, m.name+": "+err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (r *MongoReportRepository) Save(ctx context.Context, rep *report.Report) (string, error) {
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	if _, err := r.col.InsertOne(ctx, toMongoReport(rep)); err != nil {
		return "", classifyMongoError("error saving report", err)
	}
	return rep.ID, nil
}

// FindNearby uses $geoWithin/$centerSphere rather than $nearSphere so the
// result can be ordered by capture time instead of distance.
func (r *MongoReportRepository) FindNearby(ctx context.Context, q report.NearbyQuery) ([]*report.Report, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("error finding nearby reports: %w: %w", report.ErrStoreRejected, err)
	}

	filter := bson.M{
		"location": bson.M{
			"$geoWithin": bson.M{
				"$centerSphere": bson.A{
					bson.A{q.Longitude, q.Latitude},
					q.RadiusMeters / earthRadiusMeters,
				},
			},
		},
	}
	if !q.ReportedSince.IsZero() {
		filter["reported_at"] = bson.M{"$gte": q.ReportedSince}
	}
	if q.PendingOnly {
		filter["notified_at"] = nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "captured_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(q.EffectiveLimit()))
	return r.find(ctx, "error finding nearby reports", filter, opts)
}

func (r *MongoReportRepository) FindSince(ctx context.Context, q report.SinceQuery) ([]*report.Report, error) {
	filter := bson.M{"reported_at": bson.M{"$gte": q.ReportedSince}}
	if q.PendingOnly {
		filter["notified_at"] = nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "reported_at", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, "error finding reports since", filter, opts)
}

func (r *MongoReportRepository) MarkNotified(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	filter := bson.M{"_id": bson.M{"$in": ids}, "notified_at": nil}
	update := bson.M{"$set": bson.M{"notified_at": at}}
	res, err := r.col.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, classifyMongoError("error marking reports notified", err)
	}
	return res.ModifiedCount, nil
}

func (r *MongoReportRepository) ListByLocality(ctx context.Context, q report.LocalityQuery) ([]*report.Report, error) {
	filter := bson.M{"locality": strings.ToLower(q.Locality)}
	opts := options.Find().SetSort(bson.D{{Key: "reported_at", Value: -1}, {Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return r.find(ctx, "error listing reports by locality", filter, opts)
}

func (r *MongoReportRepository) SummarizeLocalities(ctx context.Context) ([]report.LocalitySummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$locality"},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "notified", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{bson.D{{Key: "$gt", Value: bson.A{"$notified_at", nil}}}, 1, 0}},
			}}}},
			{Key: "latest", Value: bson.D{{Key: "$max", Value: "$reported_at"}}},
			{Key: "severity", Value: bson.D{{Key: "$avg", Value: "$sensor_features.accel.z.range"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, classifyMongoError("error summarizing localities", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Locality string    `bson:"_id"`
		Total    int       `bson:"total"`
		Notified int       `bson:"notified"`
		Latest   time.Time `bson:"latest"`
		Severity float64   `bson:"severity"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, classifyMongoError("error decoding locality summaries", err)
	}

	summaries := make([]report.LocalitySummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, report.LocalitySummary{
			Locality:         row.Locality,
			TotalReports:     row.Total,
			NotifiedReports:  row.Notified,
			LatestReportedAt: row.Latest,
			AverageSeverity:  row.Severity,
		})
	}
	return summaries, nil
}

func (r *MongoReportRepository) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]*report.Report, error) {
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, classifyMongoError(op, err)
	}
	defer cur.Close(ctx)

	var docs []mongoReport
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classifyMongoError(op+": decode", err)
	}
	reports := make([]*report.Report, 0, len(docs))
	for _, d := range docs {
		reports = append(reports, d.toReport())
	}
	return reports, nil
}

func classifyMongoError(op string, err error) error {
	var writeErr mongo.WriteException
	switch {
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w: %w", op, report.ErrStoreRejected, err)
	case errors.As(err, &writeErr) && writeErr.WriteConcernError == nil:
		// Document validation and similar per-document failures.
		return fmt.Errorf("%s: %w: %w", op, report.ErrStoreRejected, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, report.ErrStoreUnavailable, err)
	}
}
