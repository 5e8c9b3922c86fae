// Package postgres implements store.Store on PostgreSQL through the pgx
// database/sql driver. Products, capacity and queues are JSONB columns and
// every mutation is an UPDATE guarded by the expected version.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/aquamarket/dispatch/core/logger"
	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/store"
)

//go:embed schema.sql
var schema string

const (
	orderCols   = `id, lat, lon, address, products, status, courier_id, assigned_at, for_dispatch, delivery_date, created_at, income, version`
	courierCols = `id, name, lat, lon, location_at, online, active, push_token, capacity, queue, version`
)

// Config holds the connection settings.
type Config struct {
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_minutes"`
	Migrate         bool   `json:"migrate"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("postgres: dsn is required")
	}
	return nil
}

// Store is a PostgreSQL backed store.Store.
type Store struct {
	db  *sql.DB
	log logger.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to the database and applies the schema when cfg.Migrate is set.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("verify postgres connection: %w", err)
	}
	s := &Store{db: db, log: logger.OrNop(log)}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate creates the tables and indexes if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (model.Order, error) {
	var (
		o        model.Order
		products []byte
		assigned sql.NullTime
	)
	err := row.Scan(&o.ID, &o.Point.Lat, &o.Point.Lon, &o.Address, &products, &o.Status, &o.CourierID,
		&assigned, &o.ForDispatch, &o.Date, &o.CreatedAt, &o.Income, &o.Version)
	if err != nil {
		return model.Order{}, err
	}
	if err := json.Unmarshal(products, &o.Products); err != nil {
		return model.Order{}, fmt.Errorf("decode products of %s: %w", o.ID, err)
	}
	if assigned.Valid {
		o.AssignedAt = assigned.Time
	}
	return o, nil
}

func scanCourier(row scanner) (model.Courier, error) {
	var (
		c           model.Courier
		capacity, q []byte
		locationAt  sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Name, &c.Location.Lat, &c.Location.Lon, &locationAt, &c.Online, &c.Active,
		&c.PushToken, &capacity, &q, &c.Version)
	if err != nil {
		return model.Courier{}, err
	}
	if err := json.Unmarshal(capacity, &c.Capacity); err != nil {
		return model.Courier{}, fmt.Errorf("decode capacity of %s: %w", c.ID, err)
	}
	if err := json.Unmarshal(q, &c.Queue); err != nil {
		return model.Courier{}, fmt.Errorf("decode queue of %s: %w", c.ID, err)
	}
	if locationAt.Valid {
		c.LocationAt = locationAt.Time
	}
	return c, nil
}

func statuses(in []model.OrderStatus) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

func nullTime(t time.Time) sql.NullTime { return sql.NullTime{Time: t, Valid: !t.IsZero()} }

func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) FindDispatchEligibleOrders(ctx context.Context, date string, exclude []model.OrderStatus) ([]model.Order, error) {
	out, err := s.queryOrders(ctx, `SELECT `+orderCols+` FROM orders
        WHERE for_dispatch AND NOT (status = ANY($1))
        AND ($2::text = '' OR delivery_date = '' OR delivery_date = $2::text)
        ORDER BY id`, statuses(exclude), date)
	if err != nil {
		return nil, fmt.Errorf("find orders: %w", err)
	}
	return out, nil
}

func (s *Store) FindStaleOrders(ctx context.Context, createdBefore time.Time) ([]model.Order, error) {
	found, err := s.queryOrders(ctx, `SELECT `+orderCols+` FROM orders
        WHERE for_dispatch AND courier_id = '' AND NOT (status = ANY($1)) AND created_at < $2
        ORDER BY id`, statuses(store.DefaultExcludedStatuses), createdBefore)
	if err != nil {
		return nil, fmt.Errorf("find stale orders: %w", err)
	}
	out := found[:0]
	for _, o := range found {
		if o.Eligible() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (model.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, store.ErrNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *Store) UpdateOrderAssignment(ctx context.Context, id string, expectedVersion int64, a model.Assignment) (model.Order, error) {
	row := s.db.QueryRowContext(ctx, `UPDATE orders
        SET courier_id = $3, status = $4, assigned_at = $5, version = version + 1
        WHERE id = $1 AND version = $2
        RETURNING `+orderCols, id, expectedVersion, a.CourierID, string(a.Status), nullTime(a.AssignedAt))
	o, err := scanOrder(row)
	if err != nil {
		return model.Order{}, s.missed(ctx, "orders", id, expectedVersion, err)
	}
	return o, nil
}

func (s *Store) queryCouriers(ctx context.Context, query string, args ...any) ([]model.Courier, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Courier
	for rows.Next() {
		c, err := scanCourier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) FindActiveCouriers(ctx context.Context) ([]model.Courier, error) {
	out, err := s.queryCouriers(ctx, `SELECT `+courierCols+` FROM couriers WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("find couriers: %w", err)
	}
	return out, nil
}

func (s *Store) GetCourier(ctx context.Context, id string) (model.Courier, error) {
	c, err := scanCourier(s.db.QueryRowContext(ctx, `SELECT `+courierCols+` FROM couriers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Courier{}, store.ErrNotFound
	}
	if err != nil {
		return model.Courier{}, fmt.Errorf("get courier %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) PushToCourierQueue(ctx context.Context, id string, expectedVersion int64, e model.QueueEntry) (model.Courier, error) {
	entry, err := jsonText([]model.QueueEntry{e})
	if err != nil {
		return model.Courier{}, err
	}
	return s.updateCourier(ctx, id, expectedVersion, `queue = queue || $3::jsonb`, entry)
}

func (s *Store) ReplaceCourierQueue(ctx context.Context, id string, expectedVersion int64, q []model.QueueEntry) (model.Courier, error) {
	if q == nil {
		q = []model.QueueEntry{}
	}
	queue, err := jsonText(q)
	if err != nil {
		return model.Courier{}, err
	}
	return s.updateCourier(ctx, id, expectedVersion, `queue = $3::jsonb`, queue)
}

func (s *Store) SetCourierOnline(ctx context.Context, id string, expectedVersion int64, online bool) (model.Courier, error) {
	return s.updateCourier(ctx, id, expectedVersion, `online = $3`, online)
}

func (s *Store) updateCourier(ctx context.Context, id string, expectedVersion int64, set string, arg any) (model.Courier, error) {
	row := s.db.QueryRowContext(ctx, `UPDATE couriers SET `+set+`, version = version + 1
        WHERE id = $1 AND version = $2
        RETURNING `+courierCols, id, expectedVersion, arg)
	c, err := scanCourier(row)
	if err != nil {
		return model.Courier{}, s.missed(ctx, "couriers", id, expectedVersion, err)
	}
	return c, nil
}

// missed maps a failed versioned update to ErrNotFound or ErrVersionConflict.
func (s *Store) missed(ctx context.Context, table, id string, expectedVersion int64, err error) error {
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	if !exists {
		return store.ErrNotFound
	}
	s.log.Debugf("version conflict on %s %s at %d", table, id, expectedVersion)
	return store.ErrVersionConflict
}

func (s *Store) FindDepot(ctx context.Context) (model.Depot, error) {
	var (
		d     model.Depot
		stock []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, lat, lon, address, stock FROM depots ORDER BY id LIMIT 1`).
		Scan(&d.ID, &d.Point.Lat, &d.Point.Lon, &d.Address, &stock)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Depot{}, store.ErrNotFound
	}
	if err != nil {
		return model.Depot{}, fmt.Errorf("find depot: %w", err)
	}
	if err := json.Unmarshal(stock, &d.Stock); err != nil {
		return model.Depot{}, fmt.Errorf("decode stock of %s: %w", d.ID, err)
	}
	return d, nil
}

// SaveOrder upserts an order as is. A zero version is stored as 1.
func (s *Store) SaveOrder(ctx context.Context, o model.Order) error {
	if o.Version == 0 {
		o.Version = 1
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	products, err := jsonText(o.Products)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO orders (`+orderCols+`)
        VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (id) DO UPDATE SET lat = EXCLUDED.lat, lon = EXCLUDED.lon, address = EXCLUDED.address,
            products = EXCLUDED.products, status = EXCLUDED.status, courier_id = EXCLUDED.courier_id,
            assigned_at = EXCLUDED.assigned_at, for_dispatch = EXCLUDED.for_dispatch,
            delivery_date = EXCLUDED.delivery_date, created_at = EXCLUDED.created_at,
            income = EXCLUDED.income, version = EXCLUDED.version`,
		o.ID, o.Point.Lat, o.Point.Lon, o.Address, products, string(o.Status), o.CourierID,
		nullTime(o.AssignedAt), o.ForDispatch, o.Date, o.CreatedAt, o.Income, o.Version)
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
	capacity, err := jsonText(c.Capacity)
	if err != nil {
		return err
	}
	queue, err := jsonText(c.Queue)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO couriers (`+courierCols+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, lat = EXCLUDED.lat, lon = EXCLUDED.lon,
            location_at = EXCLUDED.location_at, online = EXCLUDED.online, active = EXCLUDED.active,
            push_token = EXCLUDED.push_token, capacity = EXCLUDED.capacity, queue = EXCLUDED.queue,
            version = EXCLUDED.version`,
		c.ID, c.Name, c.Location.Lat, c.Location.Lon, nullTime(c.LocationAt), c.Online, c.Active,
		c.PushToken, capacity, queue, c.Version)
	return err
}

// SaveDepot upserts a depot.
func (s *Store) SaveDepot(ctx context.Context, d model.Depot) error {
	stock := d.Stock
	if stock == nil {
		stock = map[string]int{}
	}
	raw, err := jsonText(stock)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO depots (id, lat, lon, address, stock)
        VALUES ($1, $2, $3, $4, $5::jsonb)
        ON CONFLICT (id) DO UPDATE SET lat = EXCLUDED.lat, lon = EXCLUDED.lon,
            address = EXCLUDED.address, stock = EXCLUDED.stock`,
		d.ID, d.Point.Lat, d.Point.Lon, d.Address, raw)
	return err
}
