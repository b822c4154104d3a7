package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Comment struct {
	ID         string
	AuthorID   string
	AuthorName string
	ParentID   *string
	Content    string
	Likes      int
	CreatedAt  time.Time
}

type Project struct {
	ID          string
	Name        string
	Description string
	Status      string
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Member is a membership row joined with the user it grants access to.
type Member struct {
	UserID      string
	DisplayName string
	Email       string
	IsOwner     bool
	JoinedAt    time.Time
}

type Task struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	AssigneeID  *string
	Priority    string
	Status      string
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectPatch applies only its non-nil fields.
type ProjectPatch struct {
	Name        *string
	Description *string
	Status      *string
}

// TaskPatch applies only its non-nil fields. Assignee and due date can be
// cleared, so presence is tracked separately from the value.
type TaskPatch struct {
	Title       *string
	Description *string
	Priority    *string
	Status      *string
	AssigneeSet bool
	AssigneeID  *string
	DueSet      bool
	DueDate     *time.Time
}

type TaskStatusCount struct {
	Status string
	Count  int
}

type TaskPriorityCount struct {
	Priority string
	Count    int
}
