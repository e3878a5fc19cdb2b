package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

// MemoryStore keeps jobs and books in process memory. It is used for local
// runs (STORE_DRIVER=memory) and unit tests. Records are deep-copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID][]byte
	books map[uuid.UUID]*models.Book

	// Error injection for tests.

	// SaveJobErr is returned by SaveJob when non-nil.
	SaveJobErr error
	// SaveBookErr is returned by SaveBook when non-nil.
	SaveBookErr error
	// ConflictsBeforeSave makes the next N SaveJob calls fail with a
	// version conflict, as if another writer got there first.
	ConflictsBeforeSave int

	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[uuid.UUID][]byte),
		books: make(map[uuid.UUID]*models.Book),
	}
}

func (m *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Version = 1
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	m.jobs[job.ID] = data
	return nil
}

func (m *MemoryStore) LoadJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (m *MemoryStore) SaveJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveJobErr != nil {
		return m.SaveJobErr
	}
	if m.ConflictsBeforeSave > 0 {
		m.ConflictsBeforeSave--
		return &models.ConcurrencyConflictError{JobID: job.ID.String(), Expected: job.Version}
	}

	data, ok := m.jobs[job.ID]
	if !ok {
		return models.ErrJobNotFound
	}
	var stored struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	if stored.Version != job.Version {
		return &models.ConcurrencyConflictError{JobID: job.ID.String(), Expected: job.Version}
	}

	next := *job
	next.Version++
	data, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	m.jobs[job.ID] = data
	job.Version = next.Version
	m.saves++
	return nil
}

// Saves returns the number of successful SaveJob calls.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *MemoryStore) ListActiveJobs(_ context.Context) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []uuid.UUID
	for id, data := range m.jobs {
		var j struct {
			Status models.JobStatus `json:"status"`
		}
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, err
		}
		if !j.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a].String() < ids[b].String() })
	return ids, nil
}

func (m *MemoryStore) SaveBook(_ context.Context, book *models.Book) (*models.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveBookErr != nil {
		return nil, m.SaveBookErr
	}
	for _, b := range m.books {
		if b.JobID == book.JobID && b.Version == book.Version {
			return copyBook(b), nil
		}
	}
	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}
	m.books[book.ID] = copyBook(book)
	return copyBook(book), nil
}

func (m *MemoryStore) GetBook(_ context.Context, id uuid.UUID) (*models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.books[id]
	if !ok {
		return nil, models.ErrBookNotFound
	}
	return copyBook(b), nil
}

func (m *MemoryStore) GetBookByJob(_ context.Context, jobID uuid.UUID) (*models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.Book
	for _, b := range m.books {
		if b.JobID == jobID && (latest == nil || b.Version > latest.Version) {
			latest = b
		}
	}
	if latest == nil || latest.Deleted {
		return nil, models.ErrBookNotFound
	}
	return copyBook(latest), nil
}

// QueryBooks lists the latest version of each book, newest first. Lineages
// whose latest version is a tombstone are left out.
func (m *MemoryStore) QueryBooks(_ context.Context, filter models.BookFilter) ([]models.BookSummary, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filter = filter.Normalize()
	latest := make(map[uuid.UUID]*models.Book)
	for _, b := range m.books {
		if cur, ok := latest[b.JobID]; !ok || b.Version > cur.Version {
			latest[b.JobID] = b
		}
	}

	var matched []*models.Book
	for _, b := range latest {
		if !b.Deleted && matchesFilter(b, filter) {
			matched = append(matched, b)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}

	summaries := make([]models.BookSummary, 0, end-start)
	for _, b := range matched[start:end] {
		summaries = append(summaries, b.ToSummary())
	}
	return summaries, total, nil
}

func matchesFilter(b *models.Book, f models.BookFilter) bool {
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(b.Title), q) && !strings.Contains(strings.ToLower(b.Summary), q) {
			return false
		}
	}
	if f.Author != "" && !strings.EqualFold(b.Author, f.Author) {
		return false
	}
	if f.Theme != "" {
		found := false
		for _, t := range b.Themes {
			if strings.EqualFold(t, f.Theme) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func copyBook(b *models.Book) *models.Book {
	data, _ := json.Marshal(b)
	var out models.Book
	_ = json.Unmarshal(data, &out)
	return &out
}
