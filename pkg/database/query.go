package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

// Query runs a statement and materializes every row. Byte slices come back as
// strings so the result is JSON friendly.
func (s *Store) Query(ctx context.Context, query string) (contractx.RowSet, error) {
	rows, err := s.db.DB.QueryContext(ctx, query)
	if err != nil {
		return contractx.RowSet{}, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return contractx.RowSet{}, fmt.Errorf("read columns: %w", err)
	}

	out := contractx.RowSet{SQL: query, Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if len(out.Rows) >= s.maxRows {
			return contractx.RowSet{}, fmt.Errorf("%w: limit %d", ErrTooManyRows, s.maxRows)
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return contractx.RowSet{}, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return contractx.RowSet{}, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// SchemaDDL reports CREATE statements for every user table.
func (s *Store) SchemaDDL(ctx context.Context) ([]string, error) {
	if s.driver == DriverSQLite {
		var ddl []string
		err := s.db.NewSelect().
			ColumnExpr("sql").
			TableExpr("sqlite_master").
			Where("sql IS NOT NULL").
			Where("type = ?", "table").
			Where("name NOT LIKE ?", "sqlite_%").
			OrderExpr("name").
			Scan(ctx, &ddl)
		if err != nil {
			return nil, fmt.Errorf("read sqlite schema: %w", err)
		}
		return ddl, nil
	}

	var columns []schemaColumn
	err := s.db.NewSelect().
		ColumnExpr("table_name, column_name, data_type").
		TableExpr("information_schema.columns").
		Where("table_schema = ?", "public").
		OrderExpr("table_name, ordinal_position").
		Scan(ctx, &columns)
	if err != nil {
		return nil, fmt.Errorf("read postgres schema: %w", err)
	}

	byTable := map[string][]string{}
	for _, c := range columns {
		byTable[c.Table] = append(byTable[c.Table], fmt.Sprintf("  %s %s", c.Column, strings.ToUpper(c.Type)))
	}
	tables := make([]string, 0, len(byTable))
	for t := range byTable {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	ddl := make([]string, 0, len(tables))
	for _, t := range tables {
		ddl = append(ddl, fmt.Sprintf("CREATE TABLE %s (\n%s\n)", t, strings.Join(byTable[t], ",\n")))
	}
	return ddl, nil
}

type schemaColumn struct {
	Table  string `bun:"table_name"`
	Column string `bun:"column_name"`
	Type   string `bun:"data_type"`
}
