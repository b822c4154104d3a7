package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProject ResultType = "project"
	ResultTask    ResultType = "task"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"project_id,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// Query describes a search request. UserID scopes project and task hits
// to projects the user belongs to; comments are board-wide.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID string
	UserID          string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexProject(p ProjectRecord) error
	IndexTask(t TaskRecord) error
	IndexComment(c CommentRecord) error
	DeleteProject(id string) error
	DeleteTask(id string) error
	DeleteComment(id string) error
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	MemberIDs   []string `json:"memberIds"`
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ProjectID   string   `json:"projectId"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	MemberIDs   []string `json:"memberIds"`
}

// CommentRecord is the data we index for a board comment.
type CommentRecord struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	AuthorName string `json:"authorName"`
}
