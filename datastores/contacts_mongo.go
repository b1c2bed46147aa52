package datastores

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

type contactDocument struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	Email        string    `bson:"email"`
	Phone        string    `bson:"phone"`
	Institution  string    `bson:"institution"`
	Requirements *string   `bson:"requirements"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`

	NameKey        string `bson:"name_key"`
	EmailKey       string `bson:"email_key"`
	InstitutionKey string `bson:"institution_key"`
}

func (d *contactDocument) contact() (*Contact, error) {
	return (*contactRecord)(d).contact()
}

// ContactsMongo implements [ContactsStore] on a MongoDB collection.
type ContactsMongo struct {
	Now func() time.Time

	c *mongo.Collection
}

var _ ContactsStore = (*ContactsMongo)(nil)

// NewContactsMongo ensures the collection indexes and returns the store.
// The unique index on email backs the duplicate check of Create and Update.
func NewContactsMongo(ctx context.Context, db *mongo.Database) (*ContactsMongo, error) {
	c := db.Collection("contacts")
	_, err := c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "institution", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("store: ensure contacts indexes: %w", err)
	}
	return &ContactsMongo{c: c}, nil
}

func (s *ContactsMongo) Create(ctx context.Context, c *Contact) (*Contact, error) {
	taken, err := s.emailTaken(ctx, c.Email, "")
	if err != nil {
		return nil, mongoError(err)
	}
	if taken {
		return nil, ErrDuplicateEmail
	}

	created := stamp(c, clock(s.Now))
	_, err = s.c.InsertOne(ctx, (*contactDocument)(toContactRecord(created)))
	if err != nil {
		return nil, mongoError(err)
	}
	return created, nil
}

func (s *ContactsMongo) Get(ctx context.Context, id ContactID) (*Contact, error) {
	var doc contactDocument
	err := s.c.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		return nil, mongoError(err)
	}
	return doc.contact()
}

func (s *ContactsMongo) List(ctx context.Context, search string, page Page) (*ContactsPage, error) {
	page = page.Normalize()
	filter := bson.M{}
	if search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(searchKey(search))}
		filter["$or"] = bson.A{
			bson.M{"name_key": re},
			bson.M{"email_key": re},
			bson.M{"institution_key": re},
		}
	}

	var (
		total int64
		docs  []contactDocument
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		total, err = s.c.CountDocuments(gctx, filter)
		return err
	})
	g.Go(func() error {
		find := options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
			SetSkip(int64(page.Offset())).
			SetLimit(int64(page.Size))
		cur, err := s.c.Find(gctx, filter, find)
		if err != nil {
			return err
		}
		return cur.All(gctx, &docs)
	})
	if err := g.Wait(); err != nil {
		return nil, mongoError(err)
	}

	contacts := make([]*Contact, 0, len(docs))
	for i := range docs {
		c, err := docs[i].contact()
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return &ContactsPage{Page: page, Total: int(total), Contacts: contacts}, nil
}

func (s *ContactsMongo) Update(ctx context.Context, id ContactID, c *Contact) (*Contact, error) {
	var doc contactDocument
	if err := s.c.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		return nil, mongoError(err)
	}
	if c.Email != doc.Email {
		taken, err := s.emailTaken(ctx, c.Email, doc.ID)
		if err != nil {
			return nil, mongoError(err)
		}
		if taken {
			return nil, ErrDuplicateEmail
		}
	}

	doc.Name, doc.Email, doc.Phone, doc.Institution, doc.Requirements =
		c.Name, c.Email, c.Phone, c.Institution, c.Requirements
	doc.UpdatedAt = clock(s.Now)
	(*contactRecord)(&doc).fold()
	res, err := s.c.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc)
	if err != nil {
		return nil, mongoError(err)
	}
	if res.MatchedCount == 0 {
		return nil, ErrObjectNotFound
	}
	return doc.contact()
}

func (s *ContactsMongo) Delete(ctx context.Context, id ContactID) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return mongoError(err)
	}
	if res.DeletedCount == 0 {
		return ErrObjectNotFound
	}
	return nil
}

func (s *ContactsMongo) BulkDelete(ctx context.Context, ids []ContactID) (int, error) {
	if len(ids) == 0 {
		return 0, ErrInvalidInput
	}
	keys := make(bson.A, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}
	res, err := s.c.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return 0, mongoError(err)
	}
	return int(res.DeletedCount), nil
}

func (s *ContactsMongo) Stats(ctx context.Context, now time.Time) (*ContactsStats, error) {
	day, month := statsWindow(now)

	var (
		total, today, thisMonth int64
		top                     []struct {
			Institution string `bson:"_id"`
			Count       int    `bson:"count"`
		}
	)
	count := func(ctx context.Context, dst *int64, filter bson.M) func() error {
		return func() (err error) {
			*dst, err = s.c.CountDocuments(ctx, filter)
			return err
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(count(gctx, &total, bson.M{}))
	g.Go(count(gctx, &today, bson.M{"created_at": bson.M{"$gte": day}}))
	g.Go(count(gctx, &thisMonth, bson.M{"created_at": bson.M{"$gte": month}}))
	g.Go(func() error {
		cur, err := s.c.Aggregate(gctx, mongo.Pipeline{
			{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$institution"}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
			{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
			{{Key: "$limit", Value: TopInstitutionsLen}},
		})
		if err != nil {
			return err
		}
		return cur.All(gctx, &top)
	})
	if err := g.Wait(); err != nil {
		return nil, mongoError(err)
	}

	stats := &ContactsStats{Total: int(total), Today: int(today), ThisMonth: int(thisMonth)}
	for _, t := range top {
		stats.TopInstitutions = append(stats.TopInstitutions, InstitutionCount{Institution: t.Institution, Count: t.Count})
	}
	return stats, nil
}

func (s *ContactsMongo) Export(ctx context.Context) iter.Seq2[*Contact, error] {
	return func(yield func(*Contact, error) bool) {
		find := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
		cur, err := s.c.Find(ctx, bson.M{}, find)
		if err != nil {
			yield(nil, mongoError(err))
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var doc contactDocument
			if err := cur.Decode(&doc); err != nil {
				yield(nil, err)
				return
			}
			if !yield(doc.contact()) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (s *ContactsMongo) Ping(ctx context.Context) error {
	return s.c.Database().Client().Ping(ctx, nil)
}

func (s *ContactsMongo) Close(ctx context.Context) error {
	return s.c.Database().Client().Disconnect(ctx)
}

func (s *ContactsMongo) emailTaken(ctx context.Context, email, exceptID string) (bool, error) {
	filter := bson.M{"email": email}
	if exceptID != "" {
		filter["_id"] = bson.M{"$ne": exceptID}
	}
	err := s.c.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	return err == nil, err
}

func mongoError(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrObjectNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicateEmail
	default:
		return fmt.Errorf("store: %w", err)
	}
}
