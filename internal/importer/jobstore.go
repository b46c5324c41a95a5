package importer

import "sync"

// JobStore holds import job records. Update runs fn against the stored
// record atomically; a returned error leaves the record untouched.
type JobStore interface {
	Insert(job Job) error
	Get(id string) (Job, error)
	Update(id string, fn func(*Job) error) (Job, error)
	List() []Job
	Delete(id string) error
}

// MemoryStore keeps jobs in process memory. Jobs are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Insert(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := job.clone()
	s.jobs[job.ID] = &c
	return nil
}

func (s *MemoryStore) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j.clone(), nil
}

func (s *MemoryStore) Update(id string, fn func(*Job) error) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	next := cur.clone()
	if err := fn(&next); err != nil {
		return cur.clone(), err
	}
	s.jobs[id] = &next
	return next.clone(), nil
}

func (s *MemoryStore) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.clone())
	}
	return out
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}
