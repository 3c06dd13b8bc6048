package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	apperrors "github.com/xyz-asif/floodreport/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	reportsCollection  = "flood_reports"
	countersCollection = "counters"
)

// MongoRepository is the MongoDB ledger. Report ids come from a counter
// document so they stay small integers like the SQLite ledger's.
type MongoRepository struct {
	db       *mongo.Database
	reports  *mongo.Collection
	counters *mongo.Collection
	loc      *time.Location
	clock    clockwork.Clock
}

func NewMongoRepository(db *mongo.Database, loc *time.Location, clock clockwork.Clock) *MongoRepository {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MongoRepository{
		db:       db,
		reports:  db.Collection(reportsCollection),
		counters: db.Collection(countersCollection),
		loc:      loc,
		clock:    clock,
	}
}

func (r *MongoRepository) nextID(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": reportsCollection},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (r *MongoRepository) Insert(ctx context.Context, rep *Report) error {
	id, err := r.nextID(ctx)
	if err != nil {
		return fmt.Errorf("%w: allocate report id: %v", apperrors.ErrLocalStorage, err)
	}

	now := r.clock.Now().UTC().Truncate(time.Millisecond)
	rep.ID = id
	rep.SubmittedAt = now
	rep.ReportDate = dayKey(now, r.loc)
	if rep.Status == "" {
		rep.Status = ReviewPending
	}
	if rep.MirrorStatus == "" {
		rep.MirrorStatus = MirrorNotAttempted
	}

	if _, err := r.reports.InsertOne(ctx, rep); err != nil {
		rep.ID = 0
		return fmt.Errorf("%w: insert report: %v", apperrors.ErrLocalStorage, err)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id int64) (*Report, error) {
	var rep Report
	err := r.reports.FindOne(ctx, bson.M{"_id": id}).Decode(&rep)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get report %d: %v", apperrors.ErrLocalStorage, id, err)
	}
	return &rep, nil
}

func (r *MongoRepository) QueryByDate(ctx context.Context, day time.Time) ([]Report, error) {
	return r.find(ctx, bson.M{"reportDate": dayKey(day, r.loc)}, newestFirst())
}

func (r *MongoRepository) QueryByMonth(ctx context.Context, month Month) ([]Report, error) {
	return r.find(ctx, monthFilter(month), newestFirst())
}

func (r *MongoRepository) QueryAll(ctx context.Context, offset, limit int) ([]Report, int64, error) {
	total, err := r.reports.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: count reports: %v", apperrors.ErrLocalStorage, err)
	}
	out, err := r.find(ctx, bson.M{}, newestFirst().SetSkip(int64(offset)).SetLimit(int64(limit)))
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *MongoRepository) CountBySubmitterAndDate(ctx context.Context, submitterID string, day time.Time) (int64, error) {
	n, err := r.reports.CountDocuments(ctx, bson.M{"submitterId": submitterID, "reportDate": dayKey(day, r.loc)})
	if err != nil {
		return 0, fmt.Errorf("%w: count reports: %v", apperrors.ErrLocalStorage, err)
	}
	return n, nil
}

func (r *MongoRepository) MonthlyStatistics(ctx context.Context, month Month) (*Statistics, error) {
	match := bson.D{{Key: "$match", Value: monthFilter(month)}}

	var days []struct {
		Date  string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := r.aggregate(ctx, mongo.Pipeline{
		match,
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$reportDate"}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}, &days); err != nil {
		return nil, err
	}
	daily := make([]DailyCount, 0, len(days))
	for _, d := range days {
		daily = append(daily, DailyCount{Date: d.Date, Count: d.Count})
	}

	severity, err := r.mostCommon(ctx, match, "$floodHeight")
	if err != nil {
		return nil, err
	}
	address, err := r.mostCommon(ctx, match, "$address")
	if err != nil {
		return nil, err
	}
	return buildStatistics(month, daily, severity, address), nil
}

func (r *MongoRepository) mostCommon(ctx context.Context, match bson.D, field string) (string, error) {
	var top []struct {
		Value string `bson:"_id"`
	}
	err := r.aggregate(ctx, mongo.Pipeline{
		match,
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: field}, {Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "n", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: 1}},
	}, &top)
	if err != nil || len(top) == 0 {
		return "", err
	}
	return top[0].Value, nil
}

func (r *MongoRepository) aggregate(ctx context.Context, pipeline mongo.Pipeline, out interface{}) error {
	cur, err := r.reports.Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("%w: aggregate reports: %v", apperrors.ErrLocalStorage, err)
	}
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("%w: decode aggregate: %v", apperrors.ErrLocalStorage, err)
	}
	return nil
}

func (r *MongoRepository) UpdateMirrorStatus(ctx context.Context, id int64, upd MirrorUpdate) error {
	set := bson.M{"mirrorStatus": upd.Status, "mirrorError": upd.Error}
	filter := bson.M{"_id": id}
	if upd.Status == MirrorSynced {
		at := upd.At
		if at.IsZero() {
			at = r.clock.Now()
		}
		set["mirroredAt"] = at.UTC()
		set["mirrorError"] = ""
	} else {
		filter["mirrorStatus"] = bson.M{"$ne": MirrorSynced}
	}

	res, err := r.reports.UpdateOne(ctx, filter, bson.M{
		"$set": set,
		"$inc": bson.M{"mirrorAttempts": upd.Attempts},
	})
	if err != nil {
		return fmt.Errorf("%w: update mirror status: %v", apperrors.ErrLocalStorage, err)
	}
	if res.MatchedCount == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *MongoRepository) ListUnsynced(ctx context.Context, before time.Time, limit int) ([]Report, error) {
	filter := bson.M{
		"mirrorStatus": bson.M{"$ne": MirrorSynced},
		"submittedAt":  bson.M{"$lt": before.UTC()},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "submittedAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	return r.find(ctx, filter, opts)
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, readpref.Primary())
}

func (r *MongoRepository) find(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]Report, error) {
	cur, err := r.reports.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: query reports: %v", apperrors.ErrLocalStorage, err)
	}
	out := []Report{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%w: decode reports: %v", apperrors.ErrLocalStorage, err)
	}
	return out, nil
}

func newestFirst() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "submittedAt", Value: -1}, {Key: "_id", Value: -1}})
}

func monthFilter(m Month) bson.M {
	return bson.M{"reportDate": bson.M{"$gte": m.FirstDay(), "$lt": m.NextFirstDay()}}
}
