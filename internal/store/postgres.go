package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at, updated_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at, updated_at
		FROM users
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

// ── Comments ──

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, author_id, parent_id, content)
		VALUES ($1, $2, $3, $4)
	`, comment.ID, comment.AuthorID, comment.ParentID, comment.Content)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var item Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.author_id, u.display_name, c.parent_id, c.content, c.likes, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.id = $1
	`, commentID).Scan(&item.ID, &item.AuthorID, &item.AuthorName, &item.ParentID, &item.Content, &item.Likes, &item.CreatedAt)
	if err != nil {
		return Comment{}, err
	}
	return item, nil
}

// ListComments returns every comment newest-first with the author name
// joined in. Tree assembly happens in the app layer from this flat list.
func (s *PostgresStore) ListComments(ctx context.Context) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.author_id, u.display_name, c.parent_id, c.content, c.likes, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.author_id
		ORDER BY c.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.AuthorID, &item.AuthorName, &item.ParentID, &item.Content, &item.Likes, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) IncrementCommentLikes(ctx context.Context, commentID string) (int, error) {
	var likes int
	err := s.db.QueryRowContext(ctx, `
		UPDATE comments SET likes = likes + 1 WHERE id = $1 RETURNING likes
	`, commentID).Scan(&likes)
	if err != nil {
		return 0, err
	}
	return likes, nil
}

// DeleteComment removes the comment and, through the parent_id cascade, its
// whole reply subtree.
func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ── Projects & memberships ──

// CreateProjectWithOwner inserts the project and the owner's membership row
// in one transaction, so a project can never exist without its owner in the
// member set.
func (s *PostgresStore) CreateProjectWithOwner(ctx context.Context, project Project) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create project: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, status, owner_id)
		VALUES ($1, $2, $3, $4, $5)
	`, project.ID, project.Name, project.Description, project.Status, project.OwnerID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert project: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO project_memberships (project_id, user_id)
		VALUES ($1, $2)
	`, project.ID, project.OwnerID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert owner membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, owner_id, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, projectID).Scan(&item.ID, &item.Name, &item.Description, &item.Status, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID string, patch ProjectPatch) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET name = COALESCE($2, name),
			description = COALESCE($3, description),
			status = COALESCE($4, status),
			updated_at = NOW()
		WHERE id = $1
	`, projectID, patch.Name, patch.Description, patch.Status)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// DeleteProject removes the project together with its tasks and memberships
// in one transaction. The schema cascades would cover the children anyway;
// the explicit deletes keep the write set visible.
func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete project: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE project_id = $1`, projectID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete project tasks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_memberships WHERE project_id = $1`, projectID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete project memberships: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete project rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete project: %w", err)
	}
	return nil
}

// ListProjectsForUser returns owned and member projects as one deduplicated
// set, newest first. UNION (not UNION ALL) deduplicates the owner, who is
// always also a member.
func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, status, owner_id, created_at, updated_at
		FROM projects
		WHERE owner_id = $1
		UNION
		SELECT p.id, p.name, p.description, p.status, p.owner_id, p.created_at, p.updated_at
		FROM projects p
		JOIN project_memberships m ON m.project_id = p.id
		WHERE m.user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects for user: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Status, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, projectID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.display_name, u.email, (u.id = p.owner_id), m.joined_at
		FROM project_memberships m
		JOIN users u ON u.id = m.user_id
		JOIN projects p ON p.id = m.project_id
		WHERE m.project_id = $1
		ORDER BY m.joined_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		var item Member
		if err := rows.Scan(&item.UserID, &item.DisplayName, &item.Email, &item.IsOwner, &item.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM project_memberships WHERE project_id = $1 AND user_id = $2)
	`, projectID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) AddMember(ctx context.Context, projectID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_memberships (project_id, user_id)
		VALUES ($1, $2)
	`, projectID, userID)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// ── Tasks ──

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, assignee_id, priority, status, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, task.ID, task.ProjectID, task.Title, task.Description, task.AssigneeID, task.Priority, task.Status, task.DueDate)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, projectID, taskID string) (Task, error) {
	var item Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, assignee_id, priority, status, due_date, created_at, updated_at
		FROM tasks
		WHERE id = $1 AND project_id = $2
	`, taskID, projectID).Scan(
		&item.ID,
		&item.ProjectID,
		&item.Title,
		&item.Description,
		&item.AssigneeID,
		&item.Priority,
		&item.Status,
		&item.DueDate,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, projectID, taskID string, patch TaskPatch) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{taskID, projectID}
	argN := 3

	appendSet := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argN))
		args = append(args, value)
		argN++
	}

	if patch.Title != nil {
		appendSet("title", *patch.Title)
	}
	if patch.Description != nil {
		appendSet("description", *patch.Description)
	}
	if patch.Priority != nil {
		appendSet("priority", *patch.Priority)
	}
	if patch.Status != nil {
		appendSet("status", *patch.Status)
	}
	if patch.AssigneeSet {
		appendSet("assignee_id", patch.AssigneeID)
	}
	if patch.DueSet {
		appendSet("due_date", patch.DueDate)
	}

	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id = $1 AND project_id = $2`, strings.Join(sets, ", "))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, projectID, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND project_id = $2`, taskID, projectID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListProjectTasks(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, description, assignee_id, priority, status, due_date, created_at, updated_at
		FROM tasks
		WHERE project_id = $1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var item Task
		if err := rows.Scan(
			&item.ID,
			&item.ProjectID,
			&item.Title,
			&item.Description,
			&item.AssigneeID,
			&item.Priority,
			&item.Status,
			&item.DueDate,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountTasksByStatus(ctx context.Context, projectID string) ([]TaskStatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tasks WHERE project_id = $1 GROUP BY status
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	defer rows.Close()

	items := make([]TaskStatusCount, 0)
	for rows.Next() {
		var item TaskStatusCount
		if err := rows.Scan(&item.Status, &item.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountTasksByPriority(ctx context.Context, projectID string) ([]TaskPriorityCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT priority, COUNT(*) FROM tasks WHERE project_id = $1 GROUP BY priority
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("count tasks by priority: %w", err)
	}
	defer rows.Close()

	items := make([]TaskPriorityCount, 0)
	for rows.Next() {
		var item TaskPriorityCount
		if err := rows.Scan(&item.Priority, &item.Count); err != nil {
			return nil, fmt.Errorf("scan priority count: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate priority counts: %w", err)
	}
	return items, nil
}
