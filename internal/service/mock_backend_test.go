package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tolkhub/jobwatch/internal/backend"
	"github.com/tolkhub/jobwatch/internal/model"
	"github.com/tolkhub/jobwatch/internal/model/dto"
)

// MockBackend is a mock implementation of backend.Backend
type MockBackend struct {
	mock.Mock
}

var _ backend.Backend = (*MockBackend)(nil)

func (m *MockBackend) CreateJob(ctx context.Context, in backend.CreateJobInput) (*dto.CreateJobResponse, error) {
	args := m.Called(ctx, in)
	resp, _ := args.Get(0).(*dto.CreateJobResponse)
	return resp, args.Error(1)
}

func (m *MockBackend) CancelJob(ctx context.Context, jobID string) (*model.TranslationJob, error) {
	args := m.Called(ctx, jobID)
	job, _ := args.Get(0).(*model.TranslationJob)
	return job.Clone(), args.Error(1)
}

func (m *MockBackend) GetJob(ctx context.Context, jobID string) (*model.TranslationJob, error) {
	args := m.Called(ctx, jobID)
	job, _ := args.Get(0).(*model.TranslationJob)
	return job.Clone(), args.Error(1)
}

func (m *MockBackend) FindActiveJobs(ctx context.Context, projectID string) ([]*model.TranslationJob, error) {
	args := m.Called(ctx, projectID)
	jobs, _ := args.Get(0).([]*model.TranslationJob)
	return jobs, args.Error(1)
}

func (m *MockBackend) ListJobs(ctx context.Context, projectID string, q dto.JobListQuery) (*model.JobPage, error) {
	args := m.Called(ctx, projectID, q)
	page, _ := args.Get(0).(*model.JobPage)
	return page, args.Error(1)
}

func (m *MockBackend) ListItems(ctx context.Context, jobID string, q dto.ItemListQuery) (*model.ItemPage, error) {
	args := m.Called(ctx, jobID, q)
	page, _ := args.Get(0).(*model.ItemPage)
	return page, args.Error(1)
}

func (m *MockBackend) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	args := m.Called(ctx, projectID)
	p, _ := args.Get(0).(*model.Project)
	return p, args.Error(1)
}
