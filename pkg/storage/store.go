package storage

import (
	"github.com/trellisproc/trellis/pkg/types"
)

// Job listing sort fields
const (
	SortCreated  = "created"
	SortFinished = "finished"
	SortStatus   = "status"
	SortProcess  = "process"
	SortService  = "service"
	SortUser     = "user"
)

// JobFilter narrows and pages a job listing. Zero values mean "any".
type JobFilter struct {
	Process           string
	Service           string
	Status            []types.JobStatus
	UserID            string
	Tags              []string
	Access            types.Visibility
	NotificationEmail string

	Page  int
	Limit int
	Sort  string
}

// Store defines the interface for service state storage
// This will be implemented by BoltDB-backed storage
type Store interface {
	// Processes
	SaveProcess(process *types.Process) error
	GetProcess(id string) (*types.Process, error)
	ListProcesses(visibility types.Visibility) ([]*types.Process, error)
	DeleteProcess(id string) error

	// Remote provider services
	SaveService(service *types.Service) error
	GetService(name string) (*types.Service, error)
	GetServiceByURL(url string) (*types.Service, error)
	ListServices() ([]*types.Service, error)
	DeleteService(name string) error

	// Jobs
	SaveJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	FindJobs(filter JobFilter) ([]*types.Job, int, error)
	DeleteJob(id string) error
	ClearJobs() error

	// Access tokens
	SaveToken(token *types.AccessToken) error
	GetToken(token string) (*types.AccessToken, error)
	DeleteToken(token string) error
	PurgeExpiredTokens() (int, error)

	// Utility
	Close() error
}
