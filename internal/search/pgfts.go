package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across projects, tasks, and comments
// using plainto_tsquery and ts_rank, with ts_headline for snippets. Project
// and task rows are restricted to projects the querying user belongs to.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Projects sub-query
	if q.FilterType == "" || q.FilterType == ResultProject {
		projWhere := fmt.Sprintf("to_tsvector('english', p.name || ' ' || coalesce(p.description, '')) @@ %s", tsQuery)
		if q.UserID != "" {
			projWhere += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM project_memberships pm WHERE pm.project_id = p.id AND pm.user_id = $%d)", argN)
			args = append(args, q.UserID)
			argN++
		}
		if q.FilterProjectID != "" {
			projWhere += fmt.Sprintf(" AND p.id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.name AS title,
				ts_headline('english', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS project_id, p.status,
				ts_rank(to_tsvector('english', p.name || ' ' || coalesce(p.description, '')), %s) AS rank
			FROM projects p
			WHERE %s`, tsQuery, tsQuery, projWhere))
	}

	// Tasks sub-query
	if q.FilterType == "" || q.FilterType == ResultTask {
		taskWhere := fmt.Sprintf("to_tsvector('english', t.title || ' ' || coalesce(t.description, '')) @@ %s", tsQuery)
		if q.UserID != "" {
			taskWhere += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM project_memberships pm WHERE pm.project_id = t.project_id AND pm.user_id = $%d)", argN)
			args = append(args, q.UserID)
			argN++
		}
		if q.FilterProjectID != "" {
			taskWhere += fmt.Sprintf(" AND t.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.project_id, t.status,
				ts_rank(to_tsvector('english', t.title || ' ' || coalesce(t.description, '')), %s) AS rank
			FROM tasks t
			WHERE %s`, tsQuery, tsQuery, taskWhere))
	}

	// Comments sub-query (board-wide, no membership scope)
	if (q.FilterType == "" || q.FilterType == ResultComment) && q.FilterProjectID == "" {
		commentWhere := fmt.Sprintf("to_tsvector('english', c.content) @@ %s", tsQuery)
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, u.display_name AS title,
				ts_headline('english', c.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS project_id, ''::text AS status,
				ts_rank(to_tsvector('english', c.content), %s) AS rank
			FROM comments c
			JOIN users u ON u.id = c.author_id
			WHERE %s`, tsQuery, tsQuery, commentWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

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
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []TaskRecord, []CommentRecord, error) {
	projRows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.name, coalesce(p.description, ''), p.status,
			coalesce(string_agg(pm.user_id, ','), '')
		FROM projects p
		LEFT JOIN project_memberships pm ON pm.project_id = p.id
		GROUP BY p.id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projRows.Close()

	projects := make([]ProjectRecord, 0)
	for projRows.Next() {
		var pr ProjectRecord
		var members string
		if err := projRows.Scan(&pr.ID, &pr.Name, &pr.Description, &pr.Status, &members); err != nil {
			return nil, nil, nil, fmt.Errorf("scan project: %w", err)
		}
		pr.MemberIDs = splitMembers(members)
		projects = append(projects, pr)
	}
	if err := projRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	taskRows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.title, coalesce(t.description, ''), t.project_id, t.status, t.priority,
			coalesce(string_agg(pm.user_id, ','), '')
		FROM tasks t
		LEFT JOIN project_memberships pm ON pm.project_id = t.project_id
		GROUP BY t.id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var tr TaskRecord
		var members string
		if err := taskRows.Scan(&tr.ID, &tr.Title, &tr.Description, &tr.ProjectID, &tr.Status, &tr.Priority, &members); err != nil {
			return nil, nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tr.MemberIDs = splitMembers(members)
		tasks = append(tasks, tr)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.content, u.display_name
		FROM comments c
		JOIN users u ON u.id = c.author_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var cr CommentRecord
		if err := commentRows.Scan(&cr.ID, &cr.Content, &cr.AuthorName); err != nil {
			return nil, nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, cr)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return projects, tasks, comments, nil
}

func splitMembers(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}
