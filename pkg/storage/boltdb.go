package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/trellisproc/trellis/pkg/types"
)

var (
	// Bucket names
	bucketProcesses = []byte("processes")
	bucketServices  = []byte("services")
	bucketJobs      = []byte("jobs")
	bucketTokens    = []byte("tokens")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "trellis.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketProcesses,
			bucketServices,
			bucketJobs,
			bucketTokens,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Process operations
func (s *BoltStore) SaveProcess(process *types.Process) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcesses)
		data, err := json.Marshal(process)
		if err != nil {
			return err
		}
		return b.Put([]byte(types.EscapeKey(process.ID)), data)
	})
}

func (s *BoltStore) GetProcess(id string) (*types.Process, error) {
	var process types.Process
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcesses)
		data := b.Get([]byte(types.EscapeKey(id)))
		if data == nil {
			return fmt.Errorf("%w: %s", types.ErrProcessNotFound, id)
		}
		return json.Unmarshal(data, &process)
	})
	if err != nil {
		return nil, err
	}
	return &process, nil
}

// ListProcesses returns processes sorted by id. An empty visibility
// lists everything; otherwise only matching processes are returned.
func (s *BoltStore) ListProcesses(visibility types.Visibility) ([]*types.Process, error) {
	var processes []*types.Process
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcesses)
		return b.ForEach(func(k, v []byte) error {
			var process types.Process
			if err := json.Unmarshal(v, &process); err != nil {
				return err
			}
			if visibility != "" && process.Visibility != visibility {
				return nil
			}
			processes = append(processes, &process)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(processes, func(i, j int) bool { return processes[i].ID < processes[j].ID })
	return processes, nil
}

func (s *BoltStore) DeleteProcess(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcesses)
		key := []byte(types.EscapeKey(id))
		if b.Get(key) == nil {
			return fmt.Errorf("%w: %s", types.ErrProcessNotFound, id)
		}
		return b.Delete(key)
	})
}

// Service operations
func (s *BoltStore) SaveService(service *types.Service) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		data, err := json.Marshal(service)
		if err != nil {
			return err
		}
		return b.Put([]byte(types.EscapeKey(service.Name)), data)
	})
}

func (s *BoltStore) GetService(name string) (*types.Service, error) {
	var service types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		data := b.Get([]byte(types.EscapeKey(name)))
		if data == nil {
			return fmt.Errorf("%w: %s", types.ErrServiceNotFound, name)
		}
		return json.Unmarshal(data, &service)
	})
	if err != nil {
		return nil, err
	}
	return &service, nil
}

// GetServiceByURL scans for the service registered at url
func (s *BoltStore) GetServiceByURL(url string) (*types.Service, error) {
	var found *types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		return b.ForEach(func(k, v []byte) error {
			if found != nil {
				return nil
			}
			var service types.Service
			if err := json.Unmarshal(v, &service); err != nil {
				return err
			}
			if service.URL == url {
				found = &service
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrServiceNotFound, url)
	}
	return found, nil
}

func (s *BoltStore) ListServices() ([]*types.Service, error) {
	var services []*types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		return b.ForEach(func(k, v []byte) error {
			var service types.Service
			if err := json.Unmarshal(v, &service); err != nil {
				return err
			}
			services = append(services, &service)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

func (s *BoltStore) DeleteService(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		key := []byte(types.EscapeKey(name))
		if b.Get(key) == nil {
			return fmt.Errorf("%w: %s", types.ErrServiceNotFound, name)
		}
		return b.Delete(key)
	})
}

// Job operations
func (s *BoltStore) SaveJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) GetJob(id string) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindJobs returns the filtered page of jobs and the total number of
// matches before paging.
func (s *BoltStore) FindJobs(filter JobFilter) ([]*types.Job, int, error) {
	if filter.Sort == "" {
		filter.Sort = SortCreated
	}
	less, err := jobLess(filter.Sort)
	if err != nil {
		return nil, 0, err
	}

	var jobs []*types.Job
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if matchJob(&job, filter) {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(jobs, func(i, j int) bool {
		if less(jobs[i], jobs[j]) {
			return true
		}
		if less(jobs[j], jobs[i]) {
			return false
		}
		return jobs[i].ID < jobs[j].ID
	})

	total := len(jobs)
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	page := filter.Page
	if page < 0 {
		page = 0
	}
	start := page * limit
	if start >= total {
		return []*types.Job{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return jobs[start:end], total, nil
}

func matchJob(job *types.Job, filter JobFilter) bool {
	if filter.Process != "" && job.ProcessID != filter.Process {
		return false
	}
	if filter.Service != "" && job.Service != filter.Service {
		return false
	}
	if len(filter.Status) > 0 {
		ok := false
		for _, status := range filter.Status {
			if job.Status == status {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if filter.UserID != "" && job.UserID != filter.UserID {
		return false
	}
	if filter.Access != "" && job.Access != filter.Access {
		return false
	}
	if filter.NotificationEmail != "" && job.NotificationEmail != filter.NotificationEmail {
		return false
	}
	for _, tag := range filter.Tags {
		found := false
		for _, jt := range job.Tags {
			if jt == tag {
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

func jobLess(field string) (func(a, b *types.Job) bool, error) {
	switch field {
	case SortCreated:
		return func(a, b *types.Job) bool { return a.Created.Before(b.Created) }, nil
	case SortFinished:
		return func(a, b *types.Job) bool {
			// unfinished jobs sort first
			switch {
			case a.Finished == nil && b.Finished == nil:
				return false
			case a.Finished == nil:
				return true
			case b.Finished == nil:
				return false
			default:
				return a.Finished.Before(*b.Finished)
			}
		}, nil
	case SortStatus:
		return func(a, b *types.Job) bool { return a.Status < b.Status }, nil
	case SortProcess:
		return func(a, b *types.Job) bool { return a.ProcessID < b.ProcessID }, nil
	case SortService:
		return func(a, b *types.Job) bool { return a.Service < b.Service }, nil
	case SortUser:
		return func(a, b *types.Job) bool { return a.UserID < b.UserID }, nil
	default:
		return nil, fmt.Errorf("invalid job sort field: %s", field)
	}
}

func (s *BoltStore) DeleteJob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
		}
		return b.Delete([]byte(id))
	})
}

// ClearJobs drops every stored job. Intended for tests and migrations.
func (s *BoltStore) ClearJobs() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketJobs); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketJobs)
		return err
	})
}

// Token operations
func (s *BoltStore) SaveToken(token *types.AccessToken) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data, err := json.Marshal(token)
		if err != nil {
			return err
		}
		return b.Put([]byte(token.Token), data)
	})
}

func (s *BoltStore) GetToken(token string) (*types.AccessToken, error) {
	var at types.AccessToken
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data := b.Get([]byte(token))
		if data == nil {
			return fmt.Errorf("%w: %s", types.ErrAccessTokenNotFound, shortToken(token))
		}
		return json.Unmarshal(data, &at)
	})
	if err != nil {
		return nil, err
	}
	return &at, nil
}

func (s *BoltStore) DeleteToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.Delete([]byte(token))
	})
}

// PurgeExpiredTokens deletes every token past its expiry and reports how
// many were removed.
func (s *BoltStore) PurgeExpiredTokens() (int, error) {
	purged := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var at types.AccessToken
			if err := json.Unmarshal(v, &at); err != nil {
				return err
			}
			if at.Expired() {
				key := make([]byte, len(k))
				copy(key, k)
				expired = append(expired, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range expired {
			if err := b.Delete(key); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

// shortToken truncates a token for error messages so full credentials
// never end up in logs.
func shortToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "..." + strings.Repeat("*", 4)
}
