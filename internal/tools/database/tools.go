package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/toolkit"
)

const listMeetsQuery = `SELECT state, meet_name, association,
	COUNT(*) AS athletes,
	COUNT(DISTINCT level) AS levels,
	COUNT(DISTINCT session) AS sessions
FROM results
GROUP BY state, meet_name, association
ORDER BY state, meet_name`

const schemaQuery = `SELECT type, name, sql FROM sqlite_master
WHERE type IN ('table', 'view', 'index') AND name NOT LIKE 'sqlite_%' AND sql IS NOT NULL
ORDER BY CASE type WHEN 'table' THEN 0 WHEN 'view' THEN 1 ELSE 2 END, name`

// Tools returns list_meets, query_db and describe_schema over store.
func Tools(store *Store, spill toolkit.Spiller) engine.ToolSet {
	return engine.ToolSet{}.Add(
		listMeetsTool(store, spill),
		queryTool(store, spill),
		describeSchemaTool(store, spill),
	)
}

// Table renders rows as tab-separated text with a header line.
func (r Rows) Table() string {
	var b strings.Builder
	b.WriteString(strings.Join(r.Columns, "\t"))
	b.WriteByte('\n')
	for _, row := range r.Values {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "(%d rows", len(r.Values))
	if r.Truncated {
		b.WriteString(", truncated; add LIMIT/OFFSET or narrow the WHERE clause")
	}
	b.WriteString(")\n")
	return b.String()
}

func queryFailure(ctx context.Context, err error) (engine.ToolOutput, error) {
	if ctx.Err() != nil {
		return engine.ToolOutput{}, ctx.Err()
	}
	var openErr *OpenError
	if errors.As(err, &openErr) {
		return engine.ToolOutput{}, err
	}
	if errors.Is(err, ErrNoDatabase) || errors.Is(err, ErrNotReadOnly) {
		return engine.ErrorOutput("%v", err), nil
	}
	return engine.ErrorOutput("query failed: %v", err), nil
}

func fitted(spill toolkit.Spiller, label, text string) (engine.ToolOutput, error) {
	text, err := spill.Fit(label, text)
	if err != nil {
		return engine.ToolOutput{}, err
	}
	return engine.TextOutput(text), nil
}

func listMeetsTool(store *Store, spill toolkit.Spiller) engine.Tool {
	return engine.Tool{
		Name:        "list_meets",
		Description: "Lists the meets loaded in the results database with athlete, level and session counts.",
		SchemaJSON:  `{"type":"object","properties":{}}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			rows, err := store.Query(ctx, listMeetsQuery, hardMaxRows)
			if err != nil {
				return queryFailure(ctx, err)
			}
			if len(rows.Values) == 0 {
				return engine.TextOutput("The database has no meets loaded."), nil
			}
			return fitted(spill, "list_meets", rows.Table())
		},
		Metadata: engine.ToolMetadata{Category: "database", ReadOnly: true},
	}
}

func queryTool(store *Store, spill toolkit.Spiller) engine.Tool {
	return engine.Tool{
		Name: "query_db",
		Description: "Runs one read-only SQL SELECT against the results database (tables: results with per-athlete event scores and all-around; winners with per-event placements). " +
			"Statements that modify data are rejected. Results are tab-separated.",
		SchemaJSON: `{"type":"object","properties":{"sql":{"type":"string","description":"A single SELECT or WITH ... SELECT statement"},"max_rows":{"type":"integer","minimum":1,"maximum":2000,"description":"Row cap (default 200)"}},"required":["sql"]}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			query, err := toolkit.String(args, "sql")
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			rows, err := store.Query(ctx, query, toolkit.OptInt(args, "max_rows", defaultMaxRows))
			if err != nil {
				return queryFailure(ctx, err)
			}
			return fitted(spill, "query_db", rows.Table())
		},
		Metadata: engine.ToolMetadata{Category: "database", ReadOnly: true},
	}
}

func describeSchemaTool(store *Store, spill toolkit.Spiller) engine.Tool {
	return engine.Tool{
		Name:        "describe_schema",
		Description: "Shows the CREATE statements of the results database and the row count of each table.",
		SchemaJSON:  `{"type":"object","properties":{}}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			rows, err := store.Query(ctx, schemaQuery, hardMaxRows)
			if err != nil {
				return queryFailure(ctx, err)
			}
			var b strings.Builder
			for _, row := range rows.Values {
				kind, name, ddl := row[0], row[1], row[2]
				b.WriteString(ddl)
				b.WriteString(";\n")
				if kind == "table" {
					count, err := store.Query(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, strings.ReplaceAll(name, `"`, `""`)), 1)
					if err == nil && len(count.Values) == 1 {
						fmt.Fprintf(&b, "-- %s rows: %s\n", name, count.Values[0][0])
					}
				}
				b.WriteByte('\n')
			}
			if b.Len() == 0 {
				return engine.TextOutput("The database has no tables."), nil
			}
			return fitted(spill, "describe_schema", b.String())
		},
		Metadata: engine.ToolMetadata{Category: "database", ReadOnly: true},
	}
}
