// Package mongostore is the MongoDB implementation of store.Store. Documents
// use the field names of the existing calendarevents collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"academycal/internal/model"
	"academycal/internal/store"
)

const (
	DefaultDatabase   = "academy"
	DefaultCollection = "calendarevents"
)

type Config struct {
	URI        string
	Database   string
	Collection string
}

type patternDoc struct {
	Frequency   string     `bson:"frequency"`
	Interval    int        `bson:"interval"`
	DaysOfWeek  []int      `bson:"days_of_week,omitempty"`
	EndType     string     `bson:"end_type"`
	Occurrences int        `bson:"occurrences,omitempty"`
	EndDate     *time.Time `bson:"end_date,omitempty"`
}

type eventDoc struct {
	ID                bson.ObjectID  `bson:"_id,omitempty"`
	Title             string         `bson:"title"`
	Description       string         `bson:"description"`
	EventType         string         `bson:"event_type"`
	StartDateTime     time.Time      `bson:"start_datetime"`
	DurationMinutes   int            `bson:"duration_minutes"`
	Timezone          string         `bson:"timezone"`
	MeetingLink       string         `bson:"meeting_link"`
	MeetingProvider   string         `bson:"meeting_provider"`
	IsRecurring       bool           `bson:"is_recurring"`
	RecurrencePattern *patternDoc    `bson:"recurrence_pattern,omitempty"`
	CancelledDates    []string       `bson:"cancelled_dates"`
	ParentEventID     *bson.ObjectID `bson:"parent_event_id"`
	IsOccurrence      bool           `bson:"is_occurrence"`
	// CreatedByAdminID is an ObjectID in documents written by the existing
	// application; ids that are not hex are kept as strings.
	CreatedByAdminID any        `bson:"created_by_admin_id,omitempty"`
	IsActive         bool       `bson:"is_active"`
	DeletedAt        *time.Time `bson:"deleted_at"`
	CreatedAt        time.Time  `bson:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at"`
}

// Store keeps events in one MongoDB collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects, pings and returns a Store bound to the configured
// collection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is empty")
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return &Store{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		now:    time.Now,
	}, nil
}

// Migrate creates the collection's indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "start_datetime", Value: 1}, {Key: "is_active", Value: 1}}},
		{Keys: bson.D{{Key: "parent_event_id", Value: 1}}},
		{Keys: bson.D{{Key: "event_type", Value: 1}}},
		{Keys: bson.D{{Key: "deleted_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*model.Event, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", id, store.ErrNotFound)
	}

	var doc eventDoc
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("find %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", id, err)
	}
	return fromDoc(&doc), nil
}

func (s *Store) FindInRange(ctx context.Context, start, end time.Time, f store.RangeFilter) ([]*model.Event, error) {
	opts := options.Find().SetSort(ascending)
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	return s.find(ctx, "find in range", rangeFilter(start, end, f), opts)
}

func (s *Store) FindRecurringParentsBefore(ctx context.Context, end time.Time) ([]*model.Event, error) {
	return s.find(ctx, "find recurring parents", parentsFilter(end), options.Find().SetSort(ascending))
}

func (s *Store) ListLive(ctx context.Context) ([]*model.Event, error) {
	return s.find(ctx, "list events", listFilter(), options.Find().SetSort(descending))
}

func (s *Store) Save(ctx context.Context, ev *model.Event) error {
	if err := store.CheckSavable(ev); err != nil {
		return err
	}
	now := s.now().UTC()

	if ev.ID == "" {
		doc, err := toDoc(ev)
		if err != nil {
			return err
		}
		doc.ID = bson.NewObjectID()
		doc.CreatedAt, doc.UpdatedAt = now, now
		if _, err := s.coll.InsertOne(ctx, doc); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		ev.ID = doc.ID.Hex()
		ev.CreatedAt, ev.UpdatedAt = now, now
		return nil
	}

	doc, err := toDoc(ev)
	if err != nil {
		return err
	}
	doc.UpdatedAt = now
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc)
	if err != nil {
		return fmt.Errorf("update event %q: %w", ev.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update %q: %w", ev.ID, store.ErrNotFound)
	}
	ev.UpdatedAt = now
	return nil
}

func (s *Store) SoftDelete(ctx context.Context, id string, at time.Time) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("soft delete %q: %w", id, store.ErrNotFound)
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, softDeleteUpdate(at))
	if err != nil {
		return fmt.Errorf("soft delete %q: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("soft delete %q: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) SoftDeleteByParent(ctx context.Context, parentID string, at time.Time) (int, error) {
	oid, err := bson.ObjectIDFromHex(parentID)
	if err != nil {
		return 0, nil
	}
	res, err := s.coll.UpdateMany(ctx, bson.M{"parent_event_id": oid}, softDeleteUpdate(at))
	if err != nil {
		return 0, fmt.Errorf("soft delete children of %q: %w", parentID, err)
	}
	return int(res.MatchedCount), nil
}

func (s *Store) DeleteByParent(ctx context.Context, parentID string) (int, error) {
	oid, err := bson.ObjectIDFromHex(parentID)
	if err != nil {
		return 0, nil
	}
	res, err := s.coll.DeleteMany(ctx, bson.M{"parent_event_id": oid})
	if err != nil {
		return 0, fmt.Errorf("delete children of %q: %w", parentID, err)
	}
	return int(res.DeletedCount), nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]*model.Event, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s decode: %w", op, err)
	}

	out := make([]*model.Event, 0, len(docs))
	for i := range docs {
		out = append(out, fromDoc(&docs[i]))
	}
	return out, nil
}

var (
	ascending  = bson.D{{Key: "start_datetime", Value: 1}, {Key: "_id", Value: 1}}
	descending = bson.D{{Key: "start_datetime", Value: -1}, {Key: "_id", Value: -1}}
)

func liveFilter() bson.M {
	return bson.M{"is_active": true, "deleted_at": nil}
}

// listFilter hides legacy occurrence rows from the admin list.
func listFilter() bson.M {
	filter := liveFilter()
	filter["is_occurrence"] = bson.M{"$ne": true}
	return filter
}

func rangeFilter(start, end time.Time, f store.RangeFilter) bson.M {
	filter := liveFilter()
	filter["start_datetime"] = bson.M{"$gte": start.UTC(), "$lte": end.UTC()}
	switch {
	case f.RecurringOnly:
		filter["is_recurring"] = true
	case f.ExcludeRecurring:
		filter["is_recurring"] = bson.M{"$ne": true}
	}
	return filter
}

func parentsFilter(end time.Time) bson.M {
	filter := liveFilter()
	filter["is_recurring"] = true
	filter["start_datetime"] = bson.M{"$lte": end.UTC()}
	return filter
}

func softDeleteUpdate(at time.Time) bson.M {
	t := at.UTC()
	return bson.M{"$set": bson.M{"is_active": false, "deleted_at": t, "updated_at": t}}
}

func toDoc(ev *model.Event) (*eventDoc, error) {
	doc := &eventDoc{
		Title:            ev.Title,
		Description:      ev.Description,
		EventType:        string(ev.EventType),
		StartDateTime:    ev.StartDateTime.UTC(),
		DurationMinutes:  ev.DurationMinutes,
		Timezone:         ev.Timezone,
		MeetingLink:      ev.MeetingLink,
		MeetingProvider:  string(ev.MeetingProvider),
		IsRecurring:      ev.IsRecurring,
		CancelledDates:   ev.CancelledDates,
		CreatedByAdminID: adminIDToBSON(ev.CreatedByAdminID),
		IsActive:         ev.IsActive,
		CreatedAt:        ev.CreatedAt.UTC(),
		UpdatedAt:        ev.UpdatedAt.UTC(),
	}
	if doc.CancelledDates == nil {
		doc.CancelledDates = []string{}
	}

	if ev.ID != "" {
		oid, err := bson.ObjectIDFromHex(ev.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: event id %q is not an object id", model.ErrInvalid, ev.ID)
		}
		doc.ID = oid
	}
	if ev.ParentEventID != "" {
		oid, err := bson.ObjectIDFromHex(ev.ParentEventID)
		if err != nil {
			return nil, fmt.Errorf("%w: parent id %q is not an object id", model.ErrInvalid, ev.ParentEventID)
		}
		doc.ParentEventID = &oid
	}
	if ev.DeletedAt != nil {
		t := ev.DeletedAt.UTC()
		doc.DeletedAt = &t
	}
	if p := ev.RecurrencePattern; p != nil {
		doc.RecurrencePattern = &patternDoc{
			Frequency:   string(p.Frequency),
			Interval:    p.Interval,
			DaysOfWeek:  p.DaysOfWeek,
			EndType:     string(p.EndType),
			Occurrences: p.Occurrences,
			EndDate:     p.EndDate,
		}
	}
	return doc, nil
}

// fromDoc converts a stored document. Legacy rows flagged is_occurrence in
// the collection come back as standalone rows keeping their parent id.
func fromDoc(doc *eventDoc) *model.Event {
	ev := &model.Event{
		ID:               doc.ID.Hex(),
		Title:            doc.Title,
		Description:      doc.Description,
		EventType:        model.EventType(doc.EventType),
		StartDateTime:    doc.StartDateTime.UTC(),
		DurationMinutes:  doc.DurationMinutes,
		Timezone:         doc.Timezone,
		MeetingLink:      doc.MeetingLink,
		MeetingProvider:  model.MeetingProvider(doc.MeetingProvider),
		IsRecurring:      doc.IsRecurring,
		CancelledDates:   doc.CancelledDates,
		CreatedByAdminID: adminIDFromBSON(doc.CreatedByAdminID),
		IsActive:         doc.IsActive,
		CreatedAt:        doc.CreatedAt.UTC(),
		UpdatedAt:        doc.UpdatedAt.UTC(),
	}
	if ev.CancelledDates == nil {
		ev.CancelledDates = []string{}
	}
	if doc.ParentEventID != nil {
		ev.ParentEventID = doc.ParentEventID.Hex()
	}
	if doc.DeletedAt != nil {
		t := doc.DeletedAt.UTC()
		ev.DeletedAt = &t
	}
	if p := doc.RecurrencePattern; p != nil && doc.IsRecurring {
		pattern := &model.RecurrencePattern{
			Frequency:   model.Frequency(p.Frequency),
			Interval:    p.Interval,
			DaysOfWeek:  p.DaysOfWeek,
			EndType:     model.EndType(p.EndType),
			Occurrences: p.Occurrences,
		}
		if p.EndDate != nil {
			t := p.EndDate.UTC()
			pattern.EndDate = &t
		}
		ev.RecurrencePattern = pattern
	}
	return ev
}

func adminIDToBSON(id string) any {
	if id == "" {
		return nil
	}
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func adminIDFromBSON(v any) string {
	switch id := v.(type) {
	case bson.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return ""
	}
}
