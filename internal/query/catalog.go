package query

import (
	"context"
	"fmt"
)

const listTablesSQL = `SELECT c.relname AS TABLE_NAME FROM pg_catalog.pg_namespace n, pg_catalog.pg_class c ` +
	`LEFT JOIN pg_catalog.pg_description d ON (c.oid = d.objoid AND d.objsubid = 0 and d.classoid = 'pg_class'::regclass) ` +
	`WHERE c.relnamespace = n.oid AND c.relname LIKE :default_list_table_filter`

const describeTableSQL = `SELECT a.attname FROM pg_catalog.pg_namespace n ` +
	`JOIN pg_catalog.pg_class c ON (c.relnamespace = n.oid) ` +
	`JOIN pg_catalog.pg_attribute a ON (a.attrelid = c.oid) ` +
	`JOIN pg_catalog.pg_type t ON (a.atttypid = t.oid) ` +
	`LEFT JOIN pg_catalog.pg_attrdef def ON (a.attrelid = def.adrelid AND a.attnum = def.adnum) ` +
	`LEFT JOIN pg_catalog.pg_description dsc ON (c.oid = dsc.objoid AND a.attnum = dsc.objsubid) ` +
	`LEFT JOIN pg_catalog.pg_class dc ON (dc.oid = dsc.classoid AND dc.relname = 'pg_class') ` +
	`LEFT JOIN pg_catalog.pg_namespace dn ON (dc.relnamespace = dn.oid AND dn.nspname = 'pg_catalog') ` +
	`WHERE a.attnum > 0 AND NOT a.attisdropped AND c.relname=:tablename`

// ListTables returns the names of tables in dataspace matching the LIKE
// pattern filter. Empty arguments fall back to the client's defaults.
func (c *Client) ListTables(ctx context.Context, dataspace, filter string) ([]string, error) {
	if filter == "" {
		filter = c.listTableFilter
	}
	res, err := c.Run(ctx, listTablesSQL, Options{
		Dataspace:  dataspace,
		Parameters: []Parameter{{Type: "Varchar", Name: "default_list_table_filter", Value: filter}},
	})
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	return firstColumn(res.Data), nil
}

// DescribeTable returns the column names of table in dataspace.
func (c *Client) DescribeTable(ctx context.Context, dataspace, table string) ([]string, error) {
	res, err := c.Run(ctx, describeTableSQL, Options{
		Dataspace:  dataspace,
		Parameters: []Parameter{{Type: "Varchar", Name: "tablename", Value: table}},
	})
	if err != nil {
		return nil, fmt.Errorf("describing table %s: %w", table, err)
	}
	return firstColumn(res.Data), nil
}

func firstColumn(rows []Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if len(r) == 0 {
			continue
		}
		out = append(out, fmt.Sprint(r[0]))
	}
	return out
}
