package postgres

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/wholesale-orders/internal/orders"
)

// Store is the Postgres-backed product ledger and order store.
type Store struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration
}

var _ orders.Store = (*Store)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(errors.Wrap(err, "begin tx"))
	}
	// no-op after commit; on a dropped request the connection is reset and Postgres aborts
	defer func() { _ = tx.Rollback(ctx) }()

	if s.LockTimeout > 0 {
		ms := strconv.FormatInt(s.LockTimeout.Milliseconds(), 10) + "ms"
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			return classify(errors.Wrap(err, "set lock_timeout"))
		}
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(errors.Wrap(err, "commit"))
	}
	return nil
}

// classify turns lock waits, serialization failures and deadlocks into ErrRetryable.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", // lock_not_available
			"40001", // serialization_failure
			"40P01", // deadlock_detected
			"57014": // query_canceled
			return errors.Wrap(orders.ErrRetryable, pgErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Wrap(orders.ErrRetryable, err.Error())
	}
	return err
}

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return loadOrder(ctx, s.DB, id, false)
}

func (s *Store) ListOrders(ctx context.Context, f orders.ListFilter) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id`, f.UserID, string(f.Status))
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.Order, error) {
		o, err := scanOrder(row)
		if err != nil {
			return orders.Order{}, err
		}
		return *o, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan orders")
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	items, err := loadItems(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	deliveries, err := loadDeliveries(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
		out[i].Delivery = deliveries[out[i].ID]
	}
	return out, nil
}

func (s *Store) InsertGuestOrder(ctx context.Context, g *orders.GuestOrder) error {
	items, err := json.Marshal(g.Items)
	if err != nil {
		return errors.Wrap(err, "encode guest items")
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO guest_orders(id, customer_name, phone, business_name, gst, email,
		                         items, subtotal, total_items, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9,$10,$11)`,
		g.ID, g.CustomerName, g.Phone, g.BusinessName, g.GST, g.Email,
		items, g.Subtotal.String(), g.TotalItems, g.Status, g.CreatedAt,
	)
	return errors.Wrap(err, "insert guest order")
}

func (s *Store) GetGuestOrder(ctx context.Context, id string) (*orders.GuestOrder, error) {
	var (
		g        orders.GuestOrder
		items    []byte
		subtotal string
	)
	err := s.DB.QueryRow(ctx, `
		SELECT id, customer_name, phone, business_name, gst, email, items, subtotal::text,
		       total_items, status, created_at
		FROM guest_orders WHERE id=$1`, id).Scan(
		&g.ID, &g.CustomerName, &g.Phone, &g.BusinessName, &g.GST, &g.Email, &items, &subtotal,
		&g.TotalItems, &g.Status, &g.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &orders.NotFoundError{Entity: "guest order", ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "get guest order")
	}
	if err := json.Unmarshal(items, &g.Items); err != nil {
		return nil, errors.Wrap(err, "decode guest items")
	}
	if g.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, errors.Wrap(err, "decode subtotal")
	}
	return &g, nil
}

// UpsertProducts loads catalog fixtures (seed command). Not used by the order path.
func (s *Store) UpsertProducts(ctx context.Context, products []orders.Product) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, p := range products {
		if _, err := tx.Exec(ctx, `
			INSERT INTO products(id, name, price, currency, stock)
			VALUES ($1, $2, $3::numeric, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, price = EXCLUDED.price, currency = EXCLUDED.currency,
			    stock = EXCLUDED.stock, updated_at = now()`,
			p.ID, p.Name, p.Price.String(), p.Currency, p.Stock,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

// Product reads one ledger row outside any transaction.
func (s *Store) Product(ctx context.Context, id string) (orders.Product, error) {
	ps, err := findProducts(ctx, s.DB, []string{id})
	if err != nil {
		return orders.Product{}, err
	}
	if len(ps) == 0 {
		return orders.Product{}, &orders.NotFoundError{Entity: "product", ID: id}
	}
	return ps[0], nil
}

// ---- transaction ----

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) FindProducts(ctx context.Context, ids []string) ([]orders.Product, error) {
	return findProducts(ctx, t.tx, ids)
}

// DecrementStock is one conditional UPDATE; the row lock it takes is held until the tx ends,
// so a concurrent decrement re-evaluates stock >= qty against the committed value.
func (t *pgTx) DecrementStock(ctx context.Context, productID string, qty int) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, productID, qty)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (t *pgTx) RestockProduct(ctx context.Context, productID string, qty int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`,
		productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return &orders.NotFoundError{Entity: "product", ID: productID}
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, total, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
		o.ID, o.UserID, string(o.Status), o.Total.String(), o.Currency, o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return errors.Wrap(err, "insert order row")
	}

	for i, it := range o.Items {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO order_items(order_id, line_no, product_id, product_name, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6::numeric)`,
			o.ID, i, it.ProductID, it.ProductName, it.Quantity, it.Price.String(),
		); err != nil {
			return errors.Wrapf(err, "insert item %s", it.ProductID)
		}
	}

	if o.Delivery != nil {
		return t.SaveDelivery(ctx, o.Delivery)
	}
	return nil
}

func (t *pgTx) OrderForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	return loadOrder(ctx, t.tx, id, true)
}

func (t *pgTx) SetStatus(ctx context.Context, id string, to orders.Status, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(to), at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return &orders.NotFoundError{Entity: "order", ID: id}
	}
	return nil
}

func (t *pgTx) SaveDelivery(ctx context.Context, d *orders.DeliveryInfo) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO delivery_info(order_id, full_name, phone, address_line1, address_line2, city,
		    state, postal_code, country, courier, tracking_number, status, estimated_delivery,
		    instructions, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (order_id) DO UPDATE SET
		    full_name = EXCLUDED.full_name, phone = EXCLUDED.phone,
		    address_line1 = EXCLUDED.address_line1, address_line2 = EXCLUDED.address_line2,
		    city = EXCLUDED.city, state = EXCLUDED.state, postal_code = EXCLUDED.postal_code,
		    country = EXCLUDED.country, courier = EXCLUDED.courier,
		    tracking_number = EXCLUDED.tracking_number, status = EXCLUDED.status,
		    estimated_delivery = EXCLUDED.estimated_delivery,
		    instructions = EXCLUDED.instructions, updated_at = EXCLUDED.updated_at`,
		d.OrderID, d.FullName, d.Phone, d.AddressLine1, d.AddressLine2, d.City,
		d.State, d.PostalCode, d.Country, d.Courier, d.TrackingNumber, d.Status, d.EstimatedDelivery,
		d.Instructions, d.UpdatedAt,
	)
	return errors.Wrap(err, "upsert delivery")
}

// ---- shared readers ----

const orderColumns = `id, user_id, status, total::text, currency, created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o      orders.Order
		status string
		total  string
	)
	if err := row.Scan(&o.ID, &o.UserID, &status, &total, &o.Currency, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)
	var err error
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, errors.Wrap(err, "decode total")
	}
	return &o, nil
}

func loadOrder(ctx context.Context, q querier, id string, forUpdate bool) (*orders.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &orders.NotFoundError{Entity: "order", ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}

	items, err := loadItems(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	deliveries, err := loadDeliveries(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	o.Delivery = deliveries[id]
	return o, nil
}

func loadItems(ctx context.Context, q querier, orderIDs []string) (map[string][]orders.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT order_id, product_id, product_name, quantity, price::text
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, line_no`, orderIDs)
	if err != nil {
		return nil, errors.Wrap(err, "load items")
	}
	defer rows.Close()

	out := make(map[string][]orders.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			it      orders.OrderItem
			price   string
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.ProductName, &it.Quantity, &price); err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, errors.Wrap(err, "decode item price")
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, errors.Wrap(rows.Err(), "load items")
}

func loadDeliveries(ctx context.Context, q querier, orderIDs []string) (map[string]*orders.DeliveryInfo, error) {
	rows, err := q.Query(ctx, `
		SELECT order_id, full_name, phone, address_line1, address_line2, city, state, postal_code,
		       country, courier, tracking_number, status, estimated_delivery, instructions, updated_at
		FROM delivery_info WHERE order_id = ANY($1)`, orderIDs)
	if err != nil {
		return nil, errors.Wrap(err, "load deliveries")
	}
	defer rows.Close()

	out := make(map[string]*orders.DeliveryInfo, len(orderIDs))
	for rows.Next() {
		var d orders.DeliveryInfo
		if err := rows.Scan(&d.OrderID, &d.FullName, &d.Phone, &d.AddressLine1, &d.AddressLine2,
			&d.City, &d.State, &d.PostalCode, &d.Country, &d.Courier, &d.TrackingNumber, &d.Status,
			&d.EstimatedDelivery, &d.Instructions, &d.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan delivery")
		}
		out[d.OrderID] = &d
	}
	return out, errors.Wrap(rows.Err(), "load deliveries")
}

func findProducts(ctx context.Context, q querier, ids []string) ([]orders.Product, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, price::text, currency, stock
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "find products")
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		var (
			p     orders.Product
			price string
		)
		if err := rows.Scan(&p.ID, &p.Name, &price, &p.Currency, &p.Stock); err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, errors.Wrapf(err, "decode price of %s", p.ID)
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "find products")
}
