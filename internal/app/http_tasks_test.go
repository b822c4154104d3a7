package app

import (
	"net/http"
	"testing"
)

func currentUserID(t *testing.T, server *HTTPServer, cookie *http.Cookie) string {
	t.Helper()
	rr := doJSON(t, server, http.MethodGet, "/api/auth/me", "", cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rr.Code)
	}
	payload := parseBody(t, rr)
	user, _ := payload["user"].(map[string]any)
	id, _ := user["id"].(string)
	if id == "" {
		t.Fatalf("expected user id in %v", payload)
	}
	return id
}

func createTask(t *testing.T, server *HTTPServer, cookie *http.Cookie, projectID, body string) map[string]any {
	t.Helper()
	rr := doJSON(t, server, http.MethodPost, "/api/projects/"+projectID+"/tasks", body, cookie)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create task: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	task, _ := payload["task"].(map[string]any)
	if task["id"] == "" || task["id"] == nil {
		t.Fatalf("expected task id in %v", payload)
	}
	return task
}

func TestCreateTaskDefaultsAndValidation(t *testing.T) {
	server, _ := newTestServer()
	alice := registerUser(t, server, "Alice", "alice@x.com", "password1")
	projectID := createProject(t, server, alice, `{"name":"P1"}`)

	task := createTask(t, server, alice, projectID, `{"title":"T1"}`)
	if task["priority"] != "medium" || task["status"] != "todo" {
		t.Fatalf("expected default priority medium and status todo, got %v", task)
	}
	if task["assignee_id"] != nil {
		t.Fatalf("expected nil assignee, got %v", task["assignee_id"])
	}
	if task["due_date"] != nil {
		t.Fatalf("expected nil due date, got %v", task["due_date"])
	}

	rr := doJSON(t, server, http.MethodPost, "/api/projects/"+projectID+"/tasks", `{"title":"   "}`, alice)
	assertErrorCode(t, rr, http.StatusBadRequest, "VALIDATION_ERROR")

	rr = doJSON(t, server, http.MethodPost, "/api/projects/"+projectID+"/tasks",
		`{"title":"T","priority":"sky-high"}`, alice)
	assertErrorCode(t, rr, http.StatusBadRequest, "VALIDATION_ERROR")

	rr = doJSON(t, server, http.MethodPost, "/api/projects/"+projectID+"/tasks",
		`{"title":"T","status":"paused"}`, alice)
	assertErrorCode(t, rr, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestCreateTaskAliasRoute(t *testing.T) {
	server, _ := newTestServer()
	alice := registerUser(t, server, "Alice", "alice@x.com", "password1")
	projectID := createProject(t, server, alice, `{"name":"P1"}`)

	rr := doJSON(t, server, http.MethodPost, "/api/projects/"+projectID+"/tasks/create",
		`{"title":"via alias"}`, alice)
	if rr.Code != http.StatusCreated {
		t.Fatalf("alias route: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCreateTaskUnknownAssignee(t *testing.T) {
	server, _ := newTestServer()
	alice := registerUser(t, server, "Alice", "alice@x.com", "password1")
	projectID := createProject(t, server, alice, `{"name":"P1"}`)

	rr := doJSON(t, server, http.MethodPost, "/api/projects/"+projectID+"/tasks",
		`{"title":"T","assignee_id":"user_missing"}`, alice)
	assertErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")
}

func TestCreateTaskNonMemberForbidden(t *testing.T) {
	server, _ := newTestServer()
	alice := registerUser(t, server, "Alice", "alice@x.com", "password1")
	mallory := registerUser(t, server, "Mallory", "mallory@x.com", "password1")
	projectID := createProject(t, server, alice, `{"name":"P1"}`)

	rr := doJSON(t, server, http.MethodPost, "/api/projects/"+projectID+"/tasks",
		`{"title":"sneaky"}`, mallory)
	assertErrorCode(t, rr, http.StatusForbidden, "FORBIDDEN")

	rr = doJSON(t, server, http.MethodGet, "/api/projects/"+projectID+"/tasks", "", mallory)
	assertErrorCode(t, rr, http.StatusForbidden, "FORBIDDEN")
}

func TestUpdateTaskPatchesOnlySuppliedFields(t *testing.T) {
	server, _ := newTestServer()
	alice := registerUser(t, server, "Alice", "alice@x.com", "password1")
	aliceID := currentUserID(t, server, alice)
	projectID := createProject(t, server, alice, `{"name":"P1"}`)
	task := createTask(t, server, alice, projectID,
		`{"title":"T1","description":"keep","priority":"high","due_date":"2026-09-15"}`)
	taskID, _ := task["id"].(string)

	rr := doJSON(t, server, http.MethodPut, "/api/projects/"+projectID+"/tasks/"+taskID,
		`{"status":"in_progress","assignee_id":"`+aliceID+`"}`, alice)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	updated, _ := parseBody(t, rr)["task"].(map[string]any)
	if updated["status"] != "in_progress" {
		t.Fatalf("expected status in_progress, got %v", updated["status"])
	}
	if updated["assignee_id"] != aliceID {
		t.Fatalf("expected assignee %s, got %v", aliceID, updated["assignee_id"])
	}
	if updated["title"] != "T1" || updated["description"] != "keep" || updated["priority"] != "high" {
		t.Fatalf("unspecified fields must be unchanged, got %v", updated)
	}
	if updated["due_date"] == nil {
		t.Fatal("due date must survive a patch that does not mention it")
	}
}

func TestUpdateTaskClearsAssigneeAndDueDate(t *testing.T) {
	server, _ := newTestServer()
	alice := registerUser(t, server, "Alice", "alice@x.com", "password1")
	aliceID := currentUserID(t, server, alice)
	projectID := createProject(t, server, alice, `{"name":"P1"}`)
	task := createTask(t, server, alice, projectID,
		`{"title":"T1","assignee_id":"`+aliceID+`","due_date":"2026-09-15T12:00:00Z"}`)
	taskID, _ := task["id"].(string)
	if task["assignee_id"] != aliceID || task["due_date"] == nil {
		t.Fatalf("seed task missing assignee or due date: %v", task)
	}

	rr := doJSON(t, server, http.MethodPut, "/api/projects/"+projectID+"/tasks/"+taskID,
		`{"assignee_id":"","due_date":""}`, alice)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	updated, _ := parseBody(t, rr)["task"].(map[string]any)
	if updated["assignee_id"] != nil {
		t.Fatalf("empty assignee must clear the field, got %v", updated["assignee_id"])
	}
	if updated["due_date"] != nil {
		t.Fatalf("empty due date must clear the field, got %v", updated["due_date"])
	}
}

func TestUpdateUnknownTaskIsNotFound(t *testing.T) {
	server, _ := newTestServer()
	alice := registerUser(t, server, "Alice", "alice@x.com", "password1")
	projectID := createProject(t, server, alice, `{"name":"P1"}`)

	rr := doJSON(t, server, http.MethodPut, "/api/projects/"+projectID+"/tasks/task_missing",
		`{"status":"done"}`, alice)
	assertErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")
}

func TestListTasksNewestFirst(t *testing.T) {
	server, _ := newTestServer()
	alice := registerUser(t, server, "Alice", "alice@x.com", "password1")
	projectID := createProject(t, server, alice, `{"name":"P1"}`)
	createTask(t, server, alice, projectID, `{"title":"first"}`)
	createTask(t, server, alice, projectID, `{"title":"second"}`)

	rr := doJSON(t, server, http.MethodGet, "/api/projects/"+projectID+"/tasks", "", alice)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	tasks, _ := parseBody(t, rr)["tasks"].([]any)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	newest, _ := tasks[0].(map[string]any)
	if newest["title"] != "second" {
		t.Fatalf("expected newest task first, got %v", newest["title"])
	}
}

func TestProjectStats(t *testing.T) {
	server, _ := newTestServer()
	alice := registerUser(t, server, "Alice", "alice@x.com", "password1")
	projectID := createProject(t, server, alice, `{"name":"P1"}`)
	createTask(t, server, alice, projectID, `{"title":"a","status":"done","priority":"high"}`)
	createTask(t, server, alice, projectID, `{"title":"b","status":"done"}`)
	createTask(t, server, alice, projectID, `{"title":"c","status":"in_progress"}`)
	createTask(t, server, alice, projectID, `{"title":"d"}`)

	rr := doJSON(t, server, http.MethodGet, "/api/projects/"+projectID+"/stats", "", alice)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	stats := parseBody(t, rr)
	if stats["total"] != float64(4) {
		t.Fatalf("expected total 4, got %v", stats["total"])
	}
	byStatus, _ := stats["by_status"].(map[string]any)
	if byStatus["done"] != float64(2) || byStatus["in_progress"] != float64(1) || byStatus["todo"] != float64(1) {
		t.Fatalf("unexpected by_status: %v", byStatus)
	}
	if byStatus["review"] != float64(0) {
		t.Fatalf("empty buckets must be zero-filled, got %v", byStatus)
	}
	byPriority, _ := stats["by_priority"].(map[string]any)
	if byPriority["high"] != float64(1) || byPriority["medium"] != float64(3) {
		t.Fatalf("unexpected by_priority: %v", byPriority)
	}
	if rate, _ := stats["completion_rate"].(float64); rate != 0.5 {
		t.Fatalf("expected completion rate 0.5, got %v", stats["completion_rate"])
	}
}

// TestProjectLifecycle walks the whole flow: registration, a failed login,
// project creation, inviting a teammate, and the owner-only task delete.
func TestProjectLifecycle(t *testing.T) {
	server, _ := newTestServer()
	alice := registerUser(t, server, "Alice", "alice@x.com", "pw1secret")

	for i := 0; i < 2; i++ {
		rr := doJSON(t, server, http.MethodPost, "/api/auth/login",
			`{"email":"alice@x.com","password":"wrong"}`, nil)
		assertErrorCode(t, rr, http.StatusUnauthorized, "INVALID_CREDENTIALS")
	}
	// No lockout: the right password still works.
	rr := doJSON(t, server, http.MethodPost, "/api/auth/login",
		`{"email":"alice@x.com","password":"pw1secret"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login after failures: expected 200, got %d", rr.Code)
	}

	projectID := createProject(t, server, alice, `{"name":"P1"}`)

	rr = doJSON(t, server, http.MethodPost, "/api/projects/"+projectID+"/invite",
		`{"email":"bob@x.com"}`, alice)
	assertErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")

	bob := registerUser(t, server, "Bob", "bob@x.com", "pw2secret")
	rr = doJSON(t, server, http.MethodPost, "/api/projects/"+projectID+"/invite",
		`{"email":"bob@x.com"}`, alice)
	if rr.Code != http.StatusOK {
		t.Fatalf("invite: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	members, _ := parseBody(t, rr)["members"].([]any)
	if len(members) != 2 {
		t.Fatalf("expected alice and bob as members, got %d", len(members))
	}

	task := createTask(t, server, bob, projectID, `{"title":"T1"}`)
	taskID, _ := task["id"].(string)

	rr = doJSON(t, server, http.MethodDelete, "/api/projects/"+projectID+"/tasks/"+taskID, "", bob)
	assertErrorCode(t, rr, http.StatusForbidden, "FORBIDDEN")

	rr = doJSON(t, server, http.MethodDelete, "/api/projects/"+projectID+"/tasks/"+taskID, "", alice)
	if rr.Code != http.StatusOK {
		t.Fatalf("owner delete: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/projects/"+projectID+"/tasks", "", alice)
	tasks, _ := parseBody(t, rr)["tasks"].([]any)
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks after delete, got %d", len(tasks))
	}
}
