package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Insert writes a new row. For TenantOwned types the context tenant is
// added to the payload; versioned entities start their counter at 1.
func (g *Gateway) Insert(ctx context.Context, rec Record, fields Fields) error {
	entity := rec.Entity()
	start := time.Now()
	err := g.insert(ctx, rec, entity, fields)
	g.observe(entity, "insert", start, err)
	return err
}

func (g *Gateway) insert(ctx context.Context, rec Record, entity Entity, fields Fields) error {
	tenantID, err := g.scope(ctx, rec, "insert")
	if err != nil {
		return err
	}
	if err := checkManaged(entity, fields.Columns, tenantID != ""); err != nil {
		return err
	}

	columns := append([]string(nil), fields.Columns...)
	values := append([]interface{}(nil), fields.Values...)
	if tenantID != "" {
		columns = append(columns, entity.tenantColumn())
		values = append(values, tenantID)
	}
	if entity.Versioned {
		columns = append(columns, entity.versionColumn())
		values = append(values, int64(1))
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		entity.Table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	ctx, cancel := g.opContext(ctx)
	defer cancel()
	if _, err := g.db.ExecContext(ctx, query, values...); err != nil {
		return g.wrap("insert", entity, err)
	}
	return nil
}

// Get reads one row into the caller's scan function. A missing row, or
// one hidden by the soft-delete filter, is ErrNotFound.
func (g *Gateway) Get(ctx context.Context, rec Record, op SelectOp, scan func(*sql.Row) error) error {
	entity := rec.Entity()
	start := time.Now()
	err := g.get(ctx, rec, entity, op, scan)
	g.observe(entity, "get", start, err)
	return err
}

func (g *Gateway) get(ctx context.Context, rec Record, entity Entity, op SelectOp, scan func(*sql.Row) error) error {
	tenantID, err := g.scope(ctx, rec, "get")
	if err != nil {
		return err
	}
	query, args := selectQuery(entity, tenantID, op)

	ctx, cancel := g.opContext(ctx)
	defer cancel()
	if err := scan(g.db.QueryRowContext(ctx, query, args...)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return g.wrap("get", entity, err)
	}
	return nil
}

// Select reads rows and invokes scan once per row, in order.
func (g *Gateway) Select(ctx context.Context, rec Record, op SelectOp, scan func(*sql.Rows) error) error {
	entity := rec.Entity()
	start := time.Now()
	err := g.selectRows(ctx, rec, entity, op, scan)
	g.observe(entity, "select", start, err)
	return err
}

func (g *Gateway) selectRows(ctx context.Context, rec Record, entity Entity, op SelectOp, scan func(*sql.Rows) error) error {
	tenantID, err := g.scope(ctx, rec, "select")
	if err != nil {
		return err
	}
	query, args := selectQuery(entity, tenantID, op)

	ctx, cancel := g.opContext(ctx)
	defer cancel()
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return g.wrap("select", entity, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return g.wrap("select", entity, err)
	}
	return nil
}

// Update modifies the rows matching op.Where. Versioned entities require
// op.Version, the counter value the caller read; a stale value writes
// nothing and fails with ErrOptimisticConflict.
func (g *Gateway) Update(ctx context.Context, rec Record, op UpdateOp) error {
	entity := rec.Entity()
	start := time.Now()
	err := g.update(ctx, rec, entity, op)
	g.observe(entity, "update", start, err)
	return err
}

func (g *Gateway) update(ctx context.Context, rec Record, entity Entity, op UpdateOp) error {
	tenantID, err := g.scope(ctx, rec, "update")
	if err != nil {
		return err
	}
	// The tenant column is immutable after creation, escape hatch or not.
	_, owned := rec.(TenantOwned)
	if err := checkManaged(entity, op.Set.Columns, owned); err != nil {
		return err
	}
	if entity.Versioned && op.Version <= 0 {
		return fmt.Errorf("update of versioned entity %s requires the record version", entity.Name)
	}

	sets := make([]string, 0, len(op.Set.Columns)+1)
	args := make([]interface{}, 0, len(op.Set.Values)+4)
	argCount := 1
	for i, column := range op.Set.Columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argCount))
		args = append(args, op.Set.Values[i])
		argCount++
	}
	if entity.Versioned {
		sets = append(sets, fmt.Sprintf("%s = %s + 1", entity.versionColumn(), entity.versionColumn()))
	}

	conds := append([]Cond(nil), op.Where...)
	if entity.Versioned {
		conds = append(conds, Eq(entity.versionColumn(), op.Version))
	}
	where, whereArgs, _ := buildWhere(entity, tenantID, conds, op.IncludeDeleted, argCount)
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", entity.Table, strings.Join(sets, ", "), where)

	ctx, cancel := g.opContext(ctx)
	defer cancel()
	result, err := g.db.ExecContext(ctx, query, args...)
	if err != nil {
		return g.wrap("update", entity, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return g.wrap("update", entity, err)
	}
	if affected == 0 {
		if entity.Versioned {
			return g.versionConflict(ctx, entity, tenantID, op)
		}
		return ErrNotFound
	}
	return nil
}

// versionConflict tells a stale version apart from a missing row. The
// write already matched nothing; if the row exists once the version
// predicate is dropped, the caller lost an update race.
func (g *Gateway) versionConflict(ctx context.Context, entity Entity, tenantID string, op UpdateOp) error {
	where, args, _ := buildWhere(entity, tenantID, op.Where, op.IncludeDeleted, 1)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", entity.Table, where)

	var n int64
	if err := g.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return g.wrap("update", entity, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if g.metrics != nil {
		g.metrics.OptimisticConflictsTotal.Inc()
	}
	return fmt.Errorf("%w: %s version %d is stale", ErrOptimisticConflict, entity.Name, op.Version)
}

// Delete removes the rows matching op.Where. Soft-delete entities get a
// marker update instead, so a second delete of the same row reports
// ErrNotFound; Hard forces a real DELETE.
func (g *Gateway) Delete(ctx context.Context, rec Record, op DeleteOp) error {
	entity := rec.Entity()
	start := time.Now()
	err := g.delete(ctx, rec, entity, op)
	g.observe(entity, "delete", start, err)
	return err
}

func (g *Gateway) delete(ctx context.Context, rec Record, entity Entity, op DeleteOp) error {
	tenantID, err := g.scope(ctx, rec, "delete")
	if err != nil {
		return err
	}

	var query string
	var args []interface{}
	if entity.SoftDelete && !op.Hard {
		args = append(args, time.Now().UTC())
		where, whereArgs, _ := buildWhere(entity, tenantID, op.Where, false, 2)
		args = append(args, whereArgs...)
		query = fmt.Sprintf("UPDATE %s SET %s = $1%s", entity.Table, entity.deletedColumn(), where)
	} else {
		where, whereArgs, _ := buildWhere(entity, tenantID, op.Where, true, 1)
		args = whereArgs
		query = fmt.Sprintf("DELETE FROM %s%s", entity.Table, where)
	}

	ctx, cancel := g.opContext(ctx)
	defer cancel()
	result, err := g.db.ExecContext(ctx, query, args...)
	if err != nil {
		return g.wrap("delete", entity, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return g.wrap("delete", entity, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of rows matching the conditions, soft-deleted
// rows excluded.
func (g *Gateway) Count(ctx context.Context, rec Record, conds []Cond) (int64, error) {
	entity := rec.Entity()
	start := time.Now()
	n, err := g.count(ctx, rec, entity, conds)
	g.observe(entity, "count", start, err)
	return n, err
}

func (g *Gateway) count(ctx context.Context, rec Record, entity Entity, conds []Cond) (int64, error) {
	tenantID, err := g.scope(ctx, rec, "count")
	if err != nil {
		return 0, err
	}
	where, args, _ := buildWhere(entity, tenantID, conds, false, 1)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", entity.Table, where)

	ctx, cancel := g.opContext(ctx)
	defer cancel()
	var n int64
	if err := g.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, g.wrap("count", entity, err)
	}
	return n, nil
}

func selectQuery(entity Entity, tenantID string, op SelectOp) (string, []interface{}) {
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(op.Columns, ", "), entity.Table)
	where, args, argCount := buildWhere(entity, tenantID, op.Where, op.IncludeDeleted, 1)
	query += where
	if op.OrderBy != "" {
		query += " ORDER BY " + op.OrderBy
	}
	if op.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, op.Limit)
		argCount++
	}
	if op.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, op.Offset)
	}
	return query, args
}

// buildWhere renders the caller's predicates plus the gateway's own
// tenant and soft-delete predicates. Placeholder numbering starts at
// argCount; the next free number is returned.
func buildWhere(entity Entity, tenantID string, conds []Cond, includeDeleted bool, argCount int) (string, []interface{}, int) {
	clauses := make([]string, 0, len(conds)+2)
	args := make([]interface{}, 0, len(conds)+1)
	for _, cond := range conds {
		clauses = append(clauses, fmt.Sprintf("%s %s $%d", cond.Column, cond.operator(), argCount))
		args = append(args, cond.Value)
		argCount++
	}
	if tenantID != "" {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", entity.tenantColumn(), argCount))
		args = append(args, tenantID)
		argCount++
	}
	if entity.SoftDelete && !includeDeleted {
		clauses = append(clauses, fmt.Sprintf("%s IS NULL", entity.deletedColumn()))
	}
	if len(clauses) == 0 {
		return "", args, argCount
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, argCount
}
