package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher on the generated tsvector column of
// stimulus_items.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	where, args := pgftsWhere(q)

	countSQL := "SELECT count(*) FROM stimulus_items WHERE " + where
	dataSQL := fmt.Sprintf(`
		SELECT kind, item_id, label, condition, anaphor_type, anaphor,
			ts_headline('german', translate(stimulus, '/*', '  '), plainto_tsquery('german', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>')
		FROM stimulus_items
		WHERE %s
		ORDER BY ts_rank(search_vector, plainto_tsquery('german', $1)) DESC, kind, label, item_id
		LIMIT %d OFFSET %d`, where, q.limit(), max(q.Offset, 0))

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var anaphor string
		if err := rows.Scan(&r.Kind, &r.ItemID, &r.Label, &r.Condition, &r.AnaphorType, &anaphor, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Title = firstNonBlank(anaphor, r.ItemID)
		r.ID = unsafeIDChars.ReplaceAllString(r.Kind+"-"+r.Label+"-"+r.ItemID, "_")
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// pgftsWhere builds the filter clause; $1 is always the query text.
func pgftsWhere(q Query) (string, []any) {
	clauses := []string{"search_vector @@ plainto_tsquery('german', $1)"}
	args := []any{q.Text}
	for _, f := range []struct{ column, value string }{
		{"kind", q.Kind},
		{"condition", q.Condition},
		{"anaphor_type", q.AnaphorType},
	} {
		if f.value == "" {
			continue
		}
		args = append(args, f.value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", f.column, len(args)))
	}
	return strings.Join(clauses, " AND "), args
}
