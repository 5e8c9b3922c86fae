// Package mongostore implements store.Store on MongoDB. Orders, couriers and
// depots live in their own collections and every mutation is a single
// FindOneAndUpdate filtered on the expected version.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aquamarket/dispatch/core/logger"
	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/store"
)

// Config selects the database.
type Config struct {
	URI            string `json:"uri"`
	Database       string `json:"database"`
	ConnectTimeout int    `json:"connect_timeout_seconds"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Database == "" {
		c.Database = "aquamarket"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("mongo: uri is required")
	}
	return nil
}

// Store is a MongoDB backed store.Store.
type Store struct {
	client   *mongo.Client
	orders   *mongo.Collection
	couriers *mongo.Collection
	depots   *mongo.Collection
	log      logger.Logger
}

var _ store.Store = (*Store)(nil)

// Connect dials the server, pings it and prepares the collections.
func Connect(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeout)*time.Second)
	defer cancel()
	cli, err := mongo.Connect(dialCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := cli.Ping(dialCtx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	s, err := New(ctx, cli.Database(cfg.Database), log)
	if err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	s.client = cli
	return s, nil
}

// New wraps an existing database handle.
func New(ctx context.Context, db *mongo.Database, log logger.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("nil parameter provided to mongostore.New")
	}
	s := &Store{
		orders:   db.Collection("orders"),
		couriers: db.Collection("couriers"),
		depots:   db.Collection("depots"),
		log:      logger.OrNop(log),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	orderIdx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "forDispatch", Value: 1}, {Key: "date", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "forDispatch", Value: 1}, {Key: "createdAt", Value: 1}}},
	}
	if _, err := s.orders.Indexes().CreateMany(ctx, orderIdx); err != nil {
		return fmt.Errorf("order indexes: %w", err)
	}
	courierIdx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "active", Value: 1}}},
	}
	if _, err := s.couriers.Indexes().CreateMany(ctx, courierIdx); err != nil {
		return fmt.Errorf("courier indexes: %w", err)
	}
	return nil
}

// Close disconnects the client opened by Connect.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func eligibleFilter(date string, exclude []model.OrderStatus) bson.M {
	f := bson.M{"forDispatch": true}
	if len(exclude) > 0 {
		f["status"] = bson.M{"$nin": exclude}
	}
	if date != "" {
		f["$or"] = bson.A{
			bson.M{"date": date},
			bson.M{"date": ""},
			bson.M{"date": bson.M{"$exists": false}},
		}
	}
	return f
}

func staleFilter(createdBefore time.Time) bson.M {
	return bson.M{
		"forDispatch": true,
		"status":      bson.M{"$nin": store.DefaultExcludedStatuses},
		"courierId":   bson.M{"$in": bson.A{nil, ""}},
		"createdAt":   bson.M{"$lt": createdBefore},
	}
}

func assignmentUpdate(a model.Assignment) bson.M {
	set := bson.M{"status": a.Status}
	unset := bson.M{}
	if a.CourierID == "" {
		unset["courierId"] = ""
	} else {
		set["courierId"] = a.CourierID
	}
	if a.AssignedAt.IsZero() {
		unset["assignedAt"] = ""
	} else {
		set["assignedAt"] = a.AssignedAt
	}
	u := bson.M{"$set": set, "$inc": bson.M{"version": 1}}
	if len(unset) > 0 {
		u["$unset"] = unset
	}
	return u
}

func byID() *options.FindOptions { return options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}) }

func (s *Store) FindDispatchEligibleOrders(ctx context.Context, date string, exclude []model.OrderStatus) ([]model.Order, error) {
	cur, err := s.orders.Find(ctx, eligibleFilter(date, exclude), byID())
	if err != nil {
		return nil, fmt.Errorf("find orders: %w", err)
	}
	defer cur.Close(ctx)
	var out []model.Order
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return out, nil
}

func (s *Store) FindStaleOrders(ctx context.Context, createdBefore time.Time) ([]model.Order, error) {
	cur, err := s.orders.Find(ctx, staleFilter(createdBefore), byID())
	if err != nil {
		return nil, fmt.Errorf("find stale orders: %w", err)
	}
	defer cur.Close(ctx)
	var found []model.Order
	if err := cur.All(ctx, &found); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	// point validity is not expressible as a filter
	out := found[:0]
	for _, o := range found {
		if o.Eligible() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (model.Order, error) {
	var o model.Order
	err := s.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Order{}, store.ErrNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *Store) UpdateOrderAssignment(ctx context.Context, id string, expectedVersion int64, a model.Assignment) (model.Order, error) {
	var o model.Order
	err := s.versioned(ctx, s.orders, id, expectedVersion, assignmentUpdate(a), &o)
	return o, err
}

func (s *Store) FindActiveCouriers(ctx context.Context) ([]model.Courier, error) {
	cur, err := s.couriers.Find(ctx, bson.M{"active": true}, byID())
	if err != nil {
		return nil, fmt.Errorf("find couriers: %w", err)
	}
	defer cur.Close(ctx)
	var out []model.Courier
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode couriers: %w", err)
	}
	return out, nil
}

func (s *Store) GetCourier(ctx context.Context, id string) (model.Courier, error) {
	var c model.Courier
	err := s.couriers.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Courier{}, store.ErrNotFound
	}
	if err != nil {
		return model.Courier{}, fmt.Errorf("get courier %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) PushToCourierQueue(ctx context.Context, id string, expectedVersion int64, e model.QueueEntry) (model.Courier, error) {
	var c model.Courier
	u := bson.M{"$push": bson.M{"queue": e}, "$inc": bson.M{"version": 1}}
	err := s.versioned(ctx, s.couriers, id, expectedVersion, u, &c)
	return c, err
}

func (s *Store) ReplaceCourierQueue(ctx context.Context, id string, expectedVersion int64, q []model.QueueEntry) (model.Courier, error) {
	if q == nil {
		q = []model.QueueEntry{}
	}
	var c model.Courier
	u := bson.M{"$set": bson.M{"queue": q}, "$inc": bson.M{"version": 1}}
	err := s.versioned(ctx, s.couriers, id, expectedVersion, u, &c)
	return c, err
}

func (s *Store) SetCourierOnline(ctx context.Context, id string, expectedVersion int64, online bool) (model.Courier, error) {
	var c model.Courier
	u := bson.M{"$set": bson.M{"online": online}, "$inc": bson.M{"version": 1}}
	err := s.versioned(ctx, s.couriers, id, expectedVersion, u, &c)
	return c, err
}

// versioned applies update to the document when its version matches and
// decodes the new state into out.
func (s *Store) versioned(ctx context.Context, coll *mongo.Collection, id string, expectedVersion int64, update bson.M, out any) error {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := coll.FindOneAndUpdate(ctx, bson.M{"_id": id, "version": expectedVersion}, update, opts).Decode(out)
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("update %s %s: %w", coll.Name(), id, err)
	}
	n, cerr := coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if cerr != nil {
		return fmt.Errorf("update %s %s: %w", coll.Name(), id, cerr)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	s.log.Debugf("version conflict on %s %s at %d", coll.Name(), id, expectedVersion)
	return store.ErrVersionConflict
}

func (s *Store) FindDepot(ctx context.Context) (model.Depot, error) {
	var d model.Depot
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})
	err := s.depots.FindOne(ctx, bson.M{}, opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Depot{}, store.ErrNotFound
	}
	if err != nil {
		return model.Depot{}, fmt.Errorf("find depot: %w", err)
	}
	return d, nil
}

// SaveOrder upserts an order as is. A zero version is stored as 1.
func (s *Store) SaveOrder(ctx context.Context, o model.Order) error {
	if o.Version == 0 {
		o.Version = 1
	}
	_, err := s.orders.ReplaceOne(ctx, bson.M{"_id": o.ID}, o, options.Replace().SetUpsert(true))
	return err
}

// SaveCourier upserts a courier as is. A zero version is stored as 1.
func (s *Store) SaveCourier(ctx context.Context, c model.Courier) error {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Queue == nil {
		c.Queue = []model.QueueEntry{}
	}
	_, err := s.couriers.ReplaceOne(ctx, bson.M{"_id": c.ID}, c, options.Replace().SetUpsert(true))
	return err
}

// SaveDepot upserts a depot.
func (s *Store) SaveDepot(ctx context.Context, d model.Depot) error {
	_, err := s.depots.ReplaceOne(ctx, bson.M{"_id": d.ID}, d, options.Replace().SetUpsert(true))
	return err
}
