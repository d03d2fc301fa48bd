package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/trip-budget/budget"
)

// repo runs every budget.Store operation against a querier, which is the
// database itself or an open transaction.
type repo struct {
	q querier
}

// Fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// LINE ITEMS
// =============================================================================

var lineItemColumns = []string{
	"id", "workspace", "category", "subcategory", "description", "unit", "split_rule",
	"price_per_person", "price_per_child", "price_per_leader", "quantity",
	"total_override", "total", "remarks", "auto", "billed_to_transport",
	"created_at", "updated_at",
}

func (r *repo) LineItems(ctx context.Context, ws budget.Workspace) ([]budget.LineItem, error) {
	query, args, err := sq.Select(lineItemColumns...).
		From("line_items").
		Where(sq.Eq{"workspace": string(ws)}).
		OrderBy("category", "created_at", "rowid").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list", budget.TableLineItems, err)
	}
	defer rows.Close()

	var items []budget.LineItem
	for rows.Next() {
		item, err := scanLineItem(rows)
		if err != nil {
			return nil, storeError("scan", budget.TableLineItems, err)
		}
		items = append(items, item)
	}
	return items, storeError("list", budget.TableLineItems, rows.Err())
}

func scanLineItem(rows *sql.Rows) (budget.LineItem, error) {
	var (
		item                 budget.LineItem
		workspace, category  string
		unit, splitRule      string
		createdAt, updatedAt string
	)
	err := rows.Scan(
		&item.ID, &workspace, &category, &item.Subcategory, &item.Description, &unit, &splitRule,
		&item.PricePerPerson, &item.PricePerChild, &item.PricePerLeader, &item.Quantity,
		&item.TotalOverride, &item.Total, &item.Remarks, &item.Auto, &item.BilledToTransport,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return item, err
	}
	item.Workspace = budget.Workspace(workspace)
	item.Category = budget.Category(category)
	item.Unit = budget.Unit(unit)
	item.SplitRule = budget.SplitRule(splitRule)
	item.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	item.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return item, nil
}

func (r *repo) InsertLineItem(ctx context.Context, item budget.LineItem) (budget.LineItem, error) {
	now := time.Now().UTC()
	item.ID = uuid.NewString()
	item.CreatedAt = now
	item.UpdatedAt = now

	query, args, err := sq.Insert("line_items").
		Columns(lineItemColumns...).
		Values(
			item.ID, string(item.Workspace), string(item.Category), item.Subcategory, item.Description,
			string(item.Unit), string(item.SplitRule),
			item.PricePerPerson, item.PricePerChild, item.PricePerLeader, item.Quantity,
			item.TotalOverride, item.Total, item.Remarks, item.Auto, item.BilledToTransport,
			now.Format(timeLayout), now.Format(timeLayout),
		).
		ToSql()
	if err != nil {
		return budget.LineItem{}, err
	}

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return budget.LineItem{}, &budget.DuplicateItemError{Workspace: item.Workspace, Key: item.Key()}
		}
		return budget.LineItem{}, storeError("insert", budget.TableLineItems, err)
	}
	return item, nil
}

func (r *repo) UpdateLineItem(ctx context.Context, item budget.LineItem) error {
	query, args, err := sq.Update("line_items").
		SetMap(map[string]any{
			"category":            string(item.Category),
			"subcategory":         item.Subcategory,
			"description":         item.Description,
			"unit":                string(item.Unit),
			"split_rule":          string(item.SplitRule),
			"price_per_person":    item.PricePerPerson,
			"price_per_child":     item.PricePerChild,
			"price_per_leader":    item.PricePerLeader,
			"quantity":            item.Quantity,
			"total_override":      item.TotalOverride,
			"total":               item.Total,
			"remarks":             item.Remarks,
			"auto":                item.Auto,
			"billed_to_transport": item.BilledToTransport,
			"updated_at":          time.Now().UTC().Format(timeLayout),
		}).
		Where(sq.Eq{"id": item.ID, "workspace": string(item.Workspace)}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &budget.DuplicateItemError{Workspace: item.Workspace, Key: item.Key(), ExistingID: item.ID}
		}
		return storeError("update", budget.TableLineItems, err)
	}
	return expectOne(res, item.Workspace, budget.TableLineItems, item.ID)
}

func (r *repo) DeleteLineItem(ctx context.Context, ws budget.Workspace, id string) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM line_items WHERE workspace = ? AND id = ?", string(ws), id)
	if err != nil {
		return storeError("delete", budget.TableLineItems, err)
	}
	return expectOne(res, ws, budget.TableLineItems, id)
}

func (r *repo) DeleteLineItems(ctx context.Context, ws budget.Workspace) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM line_items WHERE workspace = ?", string(ws))
	return storeError("clear", budget.TableLineItems, err)
}

// =============================================================================
// DISTANCE DAYS
// =============================================================================

func (r *repo) DistanceDays(ctx context.Context, ws budget.Workspace) ([]budget.DistanceDay, error) {
	query, args, err := sq.Select("id", "workspace", "day", "distance").
		From("distance_days").
		Where(sq.Eq{"workspace": string(ws)}).
		OrderBy("day").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list", budget.TableDistanceDays, err)
	}
	defer rows.Close()

	var days []budget.DistanceDay
	for rows.Next() {
		var (
			d         budget.DistanceDay
			workspace string
		)
		if err := rows.Scan(&d.ID, &workspace, &d.Day, &d.Distance); err != nil {
			return nil, storeError("scan", budget.TableDistanceDays, err)
		}
		d.Workspace = budget.Workspace(workspace)
		days = append(days, d)
	}
	return days, storeError("list", budget.TableDistanceDays, rows.Err())
}

func (r *repo) InsertDistanceDay(ctx context.Context, day budget.DistanceDay) (budget.DistanceDay, error) {
	day.ID = uuid.NewString()
	_, err := r.q.ExecContext(ctx,
		"INSERT INTO distance_days (id, workspace, day, distance) VALUES (?, ?, ?, ?)",
		day.ID, string(day.Workspace), day.Day, day.Distance,
	)
	if err != nil {
		return budget.DistanceDay{}, storeError("insert", budget.TableDistanceDays, err)
	}
	return day, nil
}

func (r *repo) UpdateDistanceDay(ctx context.Context, day budget.DistanceDay) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE distance_days SET day = ?, distance = ? WHERE workspace = ? AND id = ?",
		day.Day, day.Distance, string(day.Workspace), day.ID,
	)
	if err != nil {
		return storeError("update", budget.TableDistanceDays, err)
	}
	return expectOne(res, day.Workspace, budget.TableDistanceDays, day.ID)
}

func (r *repo) DeleteDistanceDay(ctx context.Context, ws budget.Workspace, id string) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM distance_days WHERE workspace = ? AND id = ?", string(ws), id)
	if err != nil {
		return storeError("delete", budget.TableDistanceDays, err)
	}
	return expectOne(res, ws, budget.TableDistanceDays, id)
}

func (r *repo) DeleteDistanceDays(ctx context.Context, ws budget.Workspace) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM distance_days WHERE workspace = ?", string(ws))
	return storeError("clear", budget.TableDistanceDays, err)
}

// =============================================================================
// PARAMETERS
// =============================================================================

var parameterColumns = []string{
	"child_count", "leader_count", "child_price", "leader_price", "buffer_percent",
	"transport_daily_rate", "transport_free_distance_per_day", "transport_extra_unit_price",
	"fuel_price", "support_vehicle_distance", "catering_price_per_day", "catering_days",
}

func parameterValues(p *budget.Parameters) []*decimal.NullDecimal {
	return []*decimal.NullDecimal{
		&p.ChildCount, &p.LeaderCount, &p.ChildPrice, &p.LeaderPrice, &p.BufferPercent,
		&p.TransportDailyRate, &p.TransportFreeDistancePerDay, &p.TransportExtraUnitPrice,
		&p.FuelPrice, &p.SupportVehicleDistance, &p.CateringPricePerDay, &p.CateringDays,
	}
}

func (r *repo) Parameters(ctx context.Context, ws budget.Workspace) (budget.Parameters, error) {
	query, args, err := sq.Select(append([]string{"id", "updated_at"}, parameterColumns...)...).
		From("parameters").
		Where(sq.Eq{"workspace": string(ws)}).
		ToSql()
	if err != nil {
		return budget.Parameters{}, err
	}

	p := budget.Parameters{Workspace: ws}
	var updatedAt string
	dest := []any{&p.ID, &updatedAt}
	for _, v := range parameterValues(&p) {
		dest = append(dest, v)
	}

	err = r.q.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return budget.Parameters{}, &budget.NotFoundError{Workspace: ws, Table: budget.TableParameters}
	}
	if err != nil {
		return budget.Parameters{}, storeError("get", budget.TableParameters, err)
	}
	p.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return p, nil
}

// UpsertParameters writes the whole record in one statement.
func (r *repo) UpsertParameters(ctx context.Context, p budget.Parameters) (budget.Parameters, error) {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	values := []any{p.ID, string(p.Workspace)}
	for _, v := range parameterValues(&p) {
		values = append(values, *v)
	}
	values = append(values, now.Format(timeLayout))

	set := "ON CONFLICT(workspace) DO UPDATE SET updated_at = excluded.updated_at"
	for _, c := range parameterColumns {
		set += fmt.Sprintf(", %s = excluded.%s", c, c)
	}

	query, args, err := sq.Insert("parameters").
		Columns(append(append([]string{"id", "workspace"}, parameterColumns...), "updated_at")...).
		Values(values...).
		Suffix(set + " RETURNING id").
		ToSql()
	if err != nil {
		return budget.Parameters{}, err
	}

	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&p.ID); err != nil {
		return budget.Parameters{}, storeError("upsert", budget.TableParameters, err)
	}
	p.UpdatedAt = now
	return p, nil
}

// =============================================================================
// CHANGE LOG
// =============================================================================

func (r *repo) AppendChange(ctx context.Context, e budget.ChangeLogEntry) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO change_log
		(id, workspace, table_name, record_id, field, old_value, new_value, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Workspace), string(e.Table), e.RecordID, nullString(e.Field),
		e.OldValue, e.NewValue, e.Actor, e.At.UTC().Format(timeLayout),
	)
	return storeError("append", "change_log", err)
}

func (r *repo) Changes(ctx context.Context, f budget.ChangeFilter) ([]budget.ChangeLogEntry, error) {
	q := sq.Select("id", "workspace", "table_name", "record_id", "field", "old_value", "new_value", "actor", "created_at").
		From("change_log").
		OrderBy("created_at DESC", "seq DESC")

	if f.Workspace != "" {
		q = q.Where(sq.Eq{"workspace": string(f.Workspace)})
	}
	if f.Table != "" {
		q = q.Where(sq.Eq{"table_name": string(f.Table)})
	}
	if f.RecordID != "" {
		q = q.Where(sq.Eq{"record_id": f.RecordID})
	}
	if f.Field != "" {
		q = q.Where(sq.Eq{"field": f.Field})
	}
	if f.Actor != "" {
		q = q.Where(sq.Eq{"actor": f.Actor})
	}
	if f.From != nil {
		q = q.Where(sq.GtOrEq{"created_at": f.From.UTC().Format(timeLayout)})
	}
	if f.To != nil {
		q = q.Where(sq.LtOrEq{"created_at": f.To.UTC().Format(timeLayout)})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("query", "change_log", err)
	}
	defer rows.Close()

	var entries []budget.ChangeLogEntry
	for rows.Next() {
		var (
			e                       budget.ChangeLogEntry
			workspace, table        string
			field, oldValue, newVal sql.NullString
			createdAt               string
		)
		if err := rows.Scan(&e.ID, &workspace, &table, &e.RecordID, &field, &oldValue, &newVal, &e.Actor, &createdAt); err != nil {
			return nil, storeError("scan", "change_log", err)
		}
		e.Workspace = budget.Workspace(workspace)
		e.Table = budget.Table(table)
		e.Field = field.String
		e.OldValue = stringPtr(oldValue)
		e.NewValue = stringPtr(newVal)
		e.At, _ = time.Parse(timeLayout, createdAt)
		entries = append(entries, e)
	}
	return entries, storeError("query", "change_log", rows.Err())
}

// =============================================================================
// HELPERS
// =============================================================================

func expectOne(res sql.Result, ws budget.Workspace, table budget.Table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("rows affected", table, err)
	}
	if n == 0 {
		return &budget.NotFoundError{Workspace: ws, Table: table, RecordID: id}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
