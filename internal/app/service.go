package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"teamboard/api/internal/authpw"
	"teamboard/api/internal/config"
	"teamboard/api/internal/email"
	"teamboard/api/internal/policy"
	"teamboard/api/internal/search"
	"teamboard/api/internal/session"
	"teamboard/api/internal/store"
	"teamboard/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      policy.Role
	ExpiresAt time.Time
}

type UserView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type CommentView struct {
	ID        string         `json:"id"`
	AuthorID  string         `json:"author_id"`
	Author    string         `json:"author"`
	ParentID  *string        `json:"parent_id"`
	Content   string         `json:"content"`
	Likes     int            `json:"likes"`
	CreatedAt time.Time      `json:"created_at"`
	Replies   []*CommentView `json:"replies"`
}

type ProjectView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type MemberView struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	IsOwner  bool      `json:"is_owner"`
	JoinedAt time.Time `json:"joined_at"`
}

type TaskView struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	AssigneeID  *string    `json:"assignee_id"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"due_date"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type UpdateProjectInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

type CreateTaskInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	AssigneeID  *string `json:"assignee_id"`
	Priority    string  `json:"priority"`
	Status      string  `json:"status"`
	DueDate     string  `json:"due_date"`
}

type UpdateTaskInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	AssigneeID  *string `json:"assignee_id"`
	Priority    *string `json:"priority"`
	Status      *string `json:"status"`
	DueDate     *string `json:"due_date"`
}

var allowedProjectStatuses = map[string]struct{}{
	"active":    {},
	"completed": {},
	"archived":  {},
}

var allowedTaskPriorities = map[string]struct{}{
	"low":    {},
	"medium": {},
	"high":   {},
	"urgent": {},
}

var allowedTaskStatuses = map[string]struct{}{
	"todo":        {},
	"in_progress": {},
	"review":      {},
	"done":        {},
}

// Replies nested deeper than this are re-attached to the ancestor at the cap
// so listing can never blow the stack on adversarial nesting.
const maxReplyDepth = 8

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	ListComments(context.Context) ([]store.Comment, error)
	IncrementCommentLikes(context.Context, string) (int, error)
	DeleteComment(context.Context, string) error
	CreateProjectWithOwner(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	UpdateProject(context.Context, string, store.ProjectPatch) error
	DeleteProject(context.Context, string) error
	ListProjectsForUser(context.Context, string) ([]store.Project, error)
	ListMembers(context.Context, string) ([]store.Member, error)
	IsMember(context.Context, string, string) (bool, error)
	AddMember(context.Context, string, string) error
	InsertTask(context.Context, store.Task) error
	GetTask(context.Context, string, string) (store.Task, error)
	UpdateTask(context.Context, string, string, store.TaskPatch) error
	DeleteTask(context.Context, string, string) error
	ListProjectTasks(context.Context, string) ([]store.Task, error)
	CountTasksByStatus(context.Context, string) ([]store.TaskStatusCount, error)
	CountTasksByPriority(context.Context, string) ([]store.TaskPriorityCount, error)
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions session.Store
	search   *search.Service
	mailer   *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions session.Store, searchSvc *search.Service, mailer *email.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchSvc,
		mailer:   mailer,
	}
}

// ── Identity & session ──

func (s *Service) Register(ctx context.Context, name, email, password string) (UserView, Session, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return UserView{}, Session{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name, email and password are required", nil)
	}

	hash, err := authpw.Hash(password)
	if err != nil {
		if errors.Is(err, authpw.ErrPasswordTooShort) {
			return UserView{}, Session{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		}
		return UserView{}, Session{}, err
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return UserView{}, Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return UserView{}, Session{}, err
	}

	user := store.User{
		ID:           util.NewID("user"),
		DisplayName:  name,
		Email:        email,
		PasswordHash: hash,
		Role:         string(policy.RoleMember),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return UserView{}, Session{}, err
	}

	created, err := s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return UserView{}, Session{}, err
	}
	sess, err := s.createSession(ctx, created)
	if err != nil {
		return UserView{}, Session{}, err
	}
	return userView(created), sess, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (UserView, Session, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserView{}, Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return UserView{}, Session{}, err
	}

	if err := authpw.Compare(user.PasswordHash, password); err != nil {
		if errors.Is(err, authpw.ErrNoPassword) {
			return UserView{}, Session{}, domainError(http.StatusUnauthorized, "PASSWORD_RESET_REQUIRED", "Account has no password set, please reset it", nil)
		}
		return UserView{}, Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}

	sess, err := s.createSession(ctx, user)
	if err != nil {
		return UserView{}, Session{}, err
	}
	return userView(user), sess, nil
}

func (s *Service) createSession(ctx context.Context, user store.User) (Session, error) {
	token := session.NewToken()
	expiresAt := time.Now().Add(s.cfg.SessionTTL)
	if err := s.sessions.Save(ctx, session.HashToken(token), user.ID, expiresAt); err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      policy.Normalize(user.Role),
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	userID, err := s.sessions.Lookup(ctx, session.HashToken(token))
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, session.ErrNotFound
		}
		return Session{}, err
	}
	return Session{
		Token:    token,
		UserID:   user.ID,
		UserName: user.DisplayName,
		Role:     policy.Normalize(user.Role),
	}, nil
}

func (s *Service) Logout(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := s.sessions.Delete(ctx, session.HashToken(token)); err != nil {
		log.Printf("logout: delete session: %v", err)
	}
}

func (s *Service) CurrentUser(ctx context.Context, sess Session) (UserView, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return UserView{}, err
	}
	return userView(user), nil
}

func (s *Service) ListUsers(ctx context.Context) ([]UserView, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]UserView, 0, len(users))
	for _, user := range users {
		items = append(items, userView(user))
	}
	return items, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (UserView, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	return userView(user), nil
}

// ── Discussion board ──

func (s *Service) CreateComment(ctx context.Context, sess Session, content string, parentID *string) (CommentView, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return CommentView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "content is required", nil)
	}

	if parentID != nil && strings.TrimSpace(*parentID) == "" {
		parentID = nil
	}
	if parentID != nil {
		if _, err := s.store.GetComment(ctx, *parentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return CommentView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Parent comment not found", nil)
			}
			return CommentView{}, err
		}
	}

	comment := store.Comment{
		ID:       util.NewID("comment"),
		AuthorID: sess.UserID,
		ParentID: parentID,
		Content:  content,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return CommentView{}, err
	}
	created, err := s.store.GetComment(ctx, comment.ID)
	if err != nil {
		return CommentView{}, err
	}
	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:         created.ID,
			Content:    created.Content,
			AuthorName: created.AuthorName,
		})
	}
	return commentView(created), nil
}

func (s *Service) LikeComment(ctx context.Context, commentID string) (int, error) {
	return s.store.IncrementCommentLikes(ctx, commentID)
}

func (s *Service) DeleteComment(ctx context.Context, sess Session, commentID string) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if !policy.CanDeleteComment(sess.Role, sess.UserID, comment.AuthorID) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author or an admin can delete a comment", nil)
	}
	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteComment(commentID)
	}
	return nil
}

// ListComments returns the top-level comments newest-first, each carrying its
// nested reply tree. Assembly is a flat two-pass walk, never recursion.
func (s *Service) ListComments(ctx context.Context) ([]*CommentView, error) {
	items, err := s.store.ListComments(ctx)
	if err != nil {
		return nil, err
	}
	return buildCommentTree(items), nil
}

func buildCommentTree(items []store.Comment) []*CommentView {
	nodes := make(map[string]*CommentView, len(items))
	parentOf := make(map[string]string, len(items))
	for i := range items {
		c := items[i]
		view := commentView(c)
		nodes[c.ID] = &view
		if c.ParentID != nil {
			parentOf[c.ID] = *c.ParentID
		}
	}

	// Depth is resolved by walking parent chains upward with memoization.
	depths := make(map[string]int, len(items))
	depthOf := func(id string) int {
		var chain []string
		cur := id
		for {
			if _, ok := depths[cur]; ok {
				break
			}
			parent, hasParent := parentOf[cur]
			if !hasParent {
				depths[cur] = 0
				break
			}
			if _, ok := nodes[parent]; !ok {
				depths[cur] = 0
				break
			}
			chain = append(chain, cur)
			cur = parent
		}
		d := depths[cur]
		for i := len(chain) - 1; i >= 0; i-- {
			d++
			depths[chain[i]] = d
		}
		return depths[id]
	}

	roots := make([]*CommentView, 0)
	for i := range items {
		c := items[i]
		node := nodes[c.ID]
		parentID, hasParent := parentOf[c.ID]
		if !hasParent {
			roots = append(roots, node)
			continue
		}
		if _, ok := nodes[parentID]; !ok {
			roots = append(roots, node)
			continue
		}
		for depthOf(parentID) >= maxReplyDepth {
			parentID = parentOf[parentID]
		}
		nodes[parentID].Replies = append(nodes[parentID].Replies, node)
	}
	return roots
}

// ── Projects & membership ──

func (s *Service) CreateProject(ctx context.Context, sess Session, name, description, status string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	if status == "" {
		status = "active"
	}
	if _, ok := allowedProjectStatuses[status]; !ok {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "status must be one of active, completed, archived", nil)
	}

	project := store.Project{
		ID:          util.NewID("proj"),
		Name:        name,
		Description: strings.TrimSpace(description),
		Status:      status,
		OwnerID:     sess.UserID,
	}
	if err := s.store.CreateProjectWithOwner(ctx, project); err != nil {
		return nil, err
	}

	created, err := s.store.GetProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	s.indexProject(created, members)
	return map[string]any{
		"project": projectView(created),
		"members": memberViews(members),
	}, nil
}

func (s *Service) ListProjects(ctx context.Context, sess Session) ([]ProjectView, error) {
	projects, err := s.store.ListProjectsForUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]ProjectView, 0, len(projects))
	for _, project := range projects {
		items = append(items, projectView(project))
	}
	return items, nil
}

func (s *Service) UpdateProject(ctx context.Context, sess Session, projectID string, in UpdateProjectInput) (ProjectView, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	if !policy.IsOwner(sess.UserID, project.OwnerID) {
		return ProjectView{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the project owner can update it", nil)
	}
	if in.Status != nil {
		if _, ok := allowedProjectStatuses[*in.Status]; !ok {
			return ProjectView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "status must be one of active, completed, archived", nil)
		}
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return ProjectView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name cannot be empty", nil)
	}

	patch := store.ProjectPatch{
		Name:        in.Name,
		Description: in.Description,
		Status:      in.Status,
	}
	if err := s.store.UpdateProject(ctx, projectID, patch); err != nil {
		return ProjectView{}, err
	}
	updated, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	if members, err := s.store.ListMembers(ctx, projectID); err == nil {
		s.indexProject(updated, members)
	}
	return projectView(updated), nil
}

func (s *Service) DeleteProject(ctx context.Context, sess Session, projectID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !policy.IsOwner(sess.UserID, project.OwnerID) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the project owner can delete it", nil)
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProject(projectID)
	}
	return nil
}

func (s *Service) InviteMember(ctx context.Context, sess Session, projectID, inviteEmail string) ([]MemberView, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !policy.IsOwner(sess.UserID, project.OwnerID) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the project owner can invite members", nil)
	}

	invitee, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(inviteEmail))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No user with that email", nil)
		}
		return nil, err
	}

	isMember, err := s.store.IsMember(ctx, projectID, invitee.ID)
	if err != nil {
		return nil, err
	}
	if isMember {
		return nil, domainError(http.StatusConflict, "ALREADY_MEMBER", "User is already a member", nil)
	}

	if err := s.store.AddMember(ctx, projectID, invitee.ID); err != nil {
		return nil, err
	}

	if s.mailer != nil && s.mailer.IsConfigured() {
		go func(to, userName, inviterName, projectName string) {
			if err := s.mailer.SendInviteEmail(to, userName, inviterName, projectName); err != nil {
				log.Printf("email: invite to %s: %v", to, err)
			}
		}(invitee.Email, invitee.DisplayName, sess.UserName, project.Name)
	}

	members, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s.indexProject(project, members)
	return memberViews(members), nil
}

func (s *Service) ListMembers(ctx context.Context, projectID string) ([]MemberView, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return memberViews(members), nil
}

// ── Task board ──

func (s *Service) CreateTask(ctx context.Context, sess Session, projectID string, in CreateTaskInput) (TaskView, error) {
	project, err := s.requireProjectAccess(ctx, sess, projectID)
	if err != nil {
		return TaskView{}, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return TaskView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title is required", nil)
	}
	priority := in.Priority
	if priority == "" {
		priority = "medium"
	}
	if _, ok := allowedTaskPriorities[priority]; !ok {
		return TaskView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "priority must be one of low, medium, high, urgent", nil)
	}
	status := in.Status
	if status == "" {
		status = "todo"
	}
	if _, ok := allowedTaskStatuses[status]; !ok {
		return TaskView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "status must be one of todo, in_progress, review, done", nil)
	}

	assigneeID := in.AssigneeID
	if assigneeID != nil && strings.TrimSpace(*assigneeID) == "" {
		assigneeID = nil
	}
	if assigneeID != nil {
		if _, err := s.store.GetUserByID(ctx, *assigneeID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return TaskView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Assignee not found", nil)
			}
			return TaskView{}, err
		}
	}

	task := store.Task{
		ID:          util.NewID("task"),
		ProjectID:   projectID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		AssigneeID:  assigneeID,
		Priority:    priority,
		Status:      status,
		DueDate:     parseDueDate(in.DueDate),
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return TaskView{}, err
	}
	created, err := s.store.GetTask(ctx, projectID, task.ID)
	if err != nil {
		return TaskView{}, err
	}
	s.indexTask(ctx, project, created)
	return taskView(created), nil
}

func (s *Service) UpdateTask(ctx context.Context, sess Session, projectID, taskID string, in UpdateTaskInput) (TaskView, error) {
	project, err := s.requireProjectAccess(ctx, sess, projectID)
	if err != nil {
		return TaskView{}, err
	}

	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return TaskView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title cannot be empty", nil)
	}
	if in.Priority != nil {
		if _, ok := allowedTaskPriorities[*in.Priority]; !ok {
			return TaskView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "priority must be one of low, medium, high, urgent", nil)
		}
	}
	if in.Status != nil {
		if _, ok := allowedTaskStatuses[*in.Status]; !ok {
			return TaskView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "status must be one of todo, in_progress, review, done", nil)
		}
	}

	patch := store.TaskPatch{
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Status:      in.Status,
	}
	if in.AssigneeID != nil {
		patch.AssigneeSet = true
		if trimmed := strings.TrimSpace(*in.AssigneeID); trimmed != "" {
			if _, err := s.store.GetUserByID(ctx, trimmed); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return TaskView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Assignee not found", nil)
				}
				return TaskView{}, err
			}
			patch.AssigneeID = &trimmed
		}
	}
	if in.DueDate != nil {
		// An empty or unparseable due date clears the field.
		patch.DueSet = true
		patch.DueDate = parseDueDate(*in.DueDate)
	}

	if err := s.store.UpdateTask(ctx, projectID, taskID, patch); err != nil {
		return TaskView{}, err
	}
	updated, err := s.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return TaskView{}, err
	}
	s.indexTask(ctx, project, updated)
	return taskView(updated), nil
}

// DeleteTask is owner-only while create and update are member-or-owner. The
// asymmetry is carried over from the original access rules deliberately.
func (s *Service) DeleteTask(ctx context.Context, sess Session, projectID, taskID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !policy.IsOwner(sess.UserID, project.OwnerID) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the project owner can delete tasks", nil)
	}
	if err := s.store.DeleteTask(ctx, projectID, taskID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	return nil
}

func (s *Service) ListProjectTasks(ctx context.Context, sess Session, projectID string) ([]TaskView, error) {
	if _, err := s.requireProjectAccess(ctx, sess, projectID); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListProjectTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, taskView(task))
	}
	return items, nil
}

// ProjectStats aggregates task counts by status and priority plus a
// completion rate, feeding the client's chart dashboard.
func (s *Service) ProjectStats(ctx context.Context, sess Session, projectID string) (map[string]any, error) {
	if _, err := s.requireProjectAccess(ctx, sess, projectID); err != nil {
		return nil, err
	}

	statusCounts, err := s.store.CountTasksByStatus(ctx, projectID)
	if err != nil {
		return nil, err
	}
	priorityCounts, err := s.store.CountTasksByPriority(ctx, projectID)
	if err != nil {
		return nil, err
	}

	byStatus := map[string]int{"todo": 0, "in_progress": 0, "review": 0, "done": 0}
	total := 0
	for _, c := range statusCounts {
		byStatus[c.Status] = c.Count
		total += c.Count
	}
	byPriority := map[string]int{"low": 0, "medium": 0, "high": 0, "urgent": 0}
	for _, c := range priorityCounts {
		byPriority[c.Priority] = c.Count
	}

	completionRate := 0.0
	if total > 0 {
		completionRate = float64(byStatus["done"]) / float64(total)
	}
	return map[string]any{
		"project_id":      projectID,
		"total":           total,
		"by_status":       byStatus,
		"by_priority":     byPriority,
		"completion_rate": completionRate,
	}, nil
}

func (s *Service) requireProjectAccess(ctx context.Context, sess Session, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	isMember, err := s.store.IsMember(ctx, projectID, sess.UserID)
	if err != nil {
		return store.Project{}, err
	}
	if !policy.CanActOnProject(sess.UserID, project.OwnerID, isMember) {
		return store.Project{}, domainError(http.StatusForbidden, "FORBIDDEN", "Project members only", nil)
	}
	return project, nil
}

// ── Search ──

func (s *Service) Search(sess Session, text, filterType string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(search.Query{
		Text:       text,
		FilterType: search.ResultType(filterType),
		UserID:     sess.UserID,
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *Service) indexProject(project store.Project, members []store.Member) {
	if s.search == nil {
		return
	}
	s.search.IndexProject(search.ProjectRecord{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Description,
		Status:      project.Status,
		MemberIDs:   memberIDs(members),
	})
}

func (s *Service) indexTask(ctx context.Context, project store.Project, task store.Task) {
	if s.search == nil {
		return
	}
	members, err := s.store.ListMembers(ctx, project.ID)
	if err != nil {
		return
	}
	s.search.IndexTask(search.TaskRecord{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		ProjectID:   task.ProjectID,
		Status:      task.Status,
		Priority:    task.Priority,
		MemberIDs:   memberIDs(members),
	})
}

// ── Health ──

func (s *Service) PingDB(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

// ── Helpers ──

func parseDueDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return &parsed
		}
	}
	// Unparseable input degrades to "no due date" rather than failing the write.
	return nil
}

func memberIDs(members []store.Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return ids
}

func userView(user store.User) UserView {
	return UserView{
		ID:        user.ID,
		Name:      user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
	}
}

func commentView(comment store.Comment) CommentView {
	return CommentView{
		ID:        comment.ID,
		AuthorID:  comment.AuthorID,
		Author:    comment.AuthorName,
		ParentID:  comment.ParentID,
		Content:   comment.Content,
		Likes:     comment.Likes,
		CreatedAt: comment.CreatedAt,
		Replies:   []*CommentView{},
	}
}

func projectView(project store.Project) ProjectView {
	return ProjectView{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Description,
		Status:      project.Status,
		OwnerID:     project.OwnerID,
		CreatedAt:   project.CreatedAt,
		UpdatedAt:   project.UpdatedAt,
	}
}

func memberViews(members []store.Member) []MemberView {
	items := make([]MemberView, 0, len(members))
	for _, m := range members {
		items = append(items, MemberView{
			ID:       m.UserID,
			Name:     m.DisplayName,
			Email:    m.Email,
			IsOwner:  m.IsOwner,
			JoinedAt: m.JoinedAt,
		})
	}
	return items
}

func taskView(task store.Task) TaskView {
	return TaskView{
		ID:          task.ID,
		ProjectID:   task.ProjectID,
		Title:       task.Title,
		Description: task.Description,
		AssigneeID:  task.AssigneeID,
		Priority:    task.Priority,
		Status:      task.Status,
		DueDate:     task.DueDate,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
}
