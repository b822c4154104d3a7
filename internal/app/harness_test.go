package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"teamboard/api/internal/config"
	"teamboard/api/internal/session"
	"teamboard/api/internal/store"
)

// memStore is an in-memory dataStore used by the handler tests.
type memStore struct {
	mu          sync.Mutex
	clock       time.Time
	users       map[string]store.User
	comments    map[string]store.Comment
	projects    map[string]store.Project
	memberships map[string]map[string]time.Time // projectID -> userID -> joinedAt
	tasks       map[string]store.Task
}

func newMemStore() *memStore {
	return &memStore{
		clock:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		users:       make(map[string]store.User),
		comments:    make(map[string]store.Comment),
		projects:    make(map[string]store.Project),
		memberships: make(map[string]map[string]time.Time),
		tasks:       make(map[string]store.Task),
	}
}

// tick returns a strictly increasing timestamp so ordering is deterministic.
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) ListUsers(_ context.Context) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.User, 0, len(m.users))
	for _, user := range m.users {
		items = append(items, user)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) InsertComment(_ context.Context, comment store.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment.CreatedAt = m.tick()
	if author, ok := m.users[comment.AuthorID]; ok {
		comment.AuthorName = author.DisplayName
	}
	m.comments[comment.ID] = comment
	return nil
}

func (m *memStore) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment, ok := m.comments[commentID]
	if !ok {
		return store.Comment{}, sql.ErrNoRows
	}
	return comment, nil
}

func (m *memStore) ListComments(_ context.Context) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Comment, 0, len(m.comments))
	for _, comment := range m.comments {
		items = append(items, comment)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) IncrementCommentLikes(_ context.Context, commentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment, ok := m.comments[commentID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	comment.Likes++
	m.comments[commentID] = comment
	return comment.Likes, nil
}

func (m *memStore) DeleteComment(_ context.Context, commentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[commentID]; !ok {
		return sql.ErrNoRows
	}
	// cascade the reply subtree the way the FK does
	doomed := map[string]bool{commentID: true}
	for changed := true; changed; {
		changed = false
		for id, comment := range m.comments {
			if doomed[id] || comment.ParentID == nil {
				continue
			}
			if doomed[*comment.ParentID] {
				doomed[id] = true
				changed = true
			}
		}
	}
	for id := range doomed {
		delete(m.comments, id)
	}
	return nil
}

func (m *memStore) CreateProjectWithOwner(_ context.Context, project store.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	project.CreatedAt = now
	project.UpdatedAt = now
	m.projects[project.ID] = project
	m.memberships[project.ID] = map[string]time.Time{project.OwnerID: now}
	return nil
}

func (m *memStore) GetProject(_ context.Context, projectID string) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (m *memStore) UpdateProject(_ context.Context, projectID string, patch store.ProjectPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return sql.ErrNoRows
	}
	if patch.Name != nil {
		project.Name = *patch.Name
	}
	if patch.Description != nil {
		project.Description = *patch.Description
	}
	if patch.Status != nil {
		project.Status = *patch.Status
	}
	project.UpdatedAt = m.tick()
	m.projects[projectID] = project
	return nil
}

func (m *memStore) DeleteProject(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[projectID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.projects, projectID)
	delete(m.memberships, projectID)
	for id, task := range m.tasks {
		if task.ProjectID == projectID {
			delete(m.tasks, id)
		}
	}
	return nil
}

func (m *memStore) ListProjectsForUser(_ context.Context, userID string) ([]store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	items := make([]store.Project, 0)
	for id, project := range m.projects {
		if project.OwnerID == userID {
			seen[id] = true
			items = append(items, project)
		}
	}
	for projectID, members := range m.memberships {
		if _, ok := members[userID]; ok && !seen[projectID] {
			items = append(items, m.projects[projectID])
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) ListMembers(_ context.Context, projectID string) ([]store.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project := m.projects[projectID]
	items := make([]store.Member, 0)
	for userID, joinedAt := range m.memberships[projectID] {
		user := m.users[userID]
		items = append(items, store.Member{
			UserID:      userID,
			DisplayName: user.DisplayName,
			Email:       user.Email,
			IsOwner:     userID == project.OwnerID,
			JoinedAt:    joinedAt,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].JoinedAt.Before(items[j].JoinedAt) })
	return items, nil
}

func (m *memStore) IsMember(_ context.Context, projectID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.memberships[projectID][userID]
	return ok, nil
}

func (m *memStore) AddMember(_ context.Context, projectID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.memberships[projectID] == nil {
		m.memberships[projectID] = make(map[string]time.Time)
	}
	m.memberships[projectID][userID] = m.tick()
	return nil
}

func (m *memStore) InsertTask(_ context.Context, task store.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	task.CreatedAt = now
	task.UpdatedAt = now
	m.tasks[task.ID] = task
	return nil
}

func (m *memStore) GetTask(_ context.Context, projectID, taskID string) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok || task.ProjectID != projectID {
		return store.Task{}, sql.ErrNoRows
	}
	return task, nil
}

func (m *memStore) UpdateTask(_ context.Context, projectID, taskID string, patch store.TaskPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok || task.ProjectID != projectID {
		return sql.ErrNoRows
	}
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.Status != nil {
		task.Status = *patch.Status
	}
	if patch.AssigneeSet {
		task.AssigneeID = patch.AssigneeID
	}
	if patch.DueSet {
		task.DueDate = patch.DueDate
	}
	task.UpdatedAt = m.tick()
	m.tasks[taskID] = task
	return nil
}

func (m *memStore) DeleteTask(_ context.Context, projectID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok || task.ProjectID != projectID {
		return sql.ErrNoRows
	}
	delete(m.tasks, taskID)
	return nil
}

func (m *memStore) ListProjectTasks(_ context.Context, projectID string) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Task, 0)
	for _, task := range m.tasks {
		if task.ProjectID == projectID {
			items = append(items, task)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) CountTasksByStatus(_ context.Context, projectID string) ([]store.TaskStatusCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, task := range m.tasks {
		if task.ProjectID == projectID {
			counts[task.Status]++
		}
	}
	items := make([]store.TaskStatusCount, 0, len(counts))
	for status, count := range counts {
		items = append(items, store.TaskStatusCount{Status: status, Count: count})
	}
	return items, nil
}

func (m *memStore) CountTasksByPriority(_ context.Context, projectID string) ([]store.TaskPriorityCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, task := range m.tasks {
		if task.ProjectID == projectID {
			counts[task.Priority]++
		}
	}
	items := make([]store.TaskPriorityCount, 0, len(counts))
	for priority, count := range counts {
		items = append(items, store.TaskPriorityCount{Priority: priority, Count: count})
	}
	return items, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

// memSessions is an in-memory session.Store.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]string
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]string)}
}

func (m *memSessions) Save(_ context.Context, tokenHash, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[tokenHash] = userID
	return nil
}

func (m *memSessions) Lookup(_ context.Context, tokenHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.sessions[tokenHash]
	if !ok {
		return "", session.ErrNotFound
	}
	return userID, nil
}

func (m *memSessions) Delete(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tokenHash)
	return nil
}

func (m *memSessions) Ping(context.Context) error { return nil }

func testConfig() config.Config {
	return config.Config{
		SessionCookie: "teamboard_session",
		SessionTTL:    time.Hour,
		CORSOrigin:    "*",
	}
}

func newTestServer() (*HTTPServer, *memStore) {
	ms := newMemStore()
	svc := &Service{
		cfg:      testConfig(),
		store:    ms,
		sessions: newMemSessions(),
	}
	return NewHTTPServer(svc, testConfig()), ms
}

// doJSON runs a request through the handler. A non-nil cookie carries the
// session.
func doJSON(t *testing.T, server *HTTPServer, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == "teamboard_session" && cookie.Value != "" {
			return cookie
		}
	}
	t.Fatalf("expected a session cookie, got %v", rr.Result().Cookies())
	return nil
}

func parseBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func registerUser(t *testing.T, server *HTTPServer, name, email, password string) *http.Cookie {
	t.Helper()
	rr := doJSON(t, server, http.MethodPost, "/api/auth/register",
		`{"name":"`+name+`","email":"`+email+`","password":"`+password+`"}`, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d body=%s", email, rr.Code, rr.Body.String())
	}
	return sessionCookie(t, rr)
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
}
