// Package testutil provides mock implementations for the collaborator
// interfaces of the mark-batch core library (pkg/batch). The mocks are built
// on testify/mock; configure expectations with .On(...).Return(...).
package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/stackvity/mark-batch/pkg/batch"
)

// MockConverter provides a mock implementation of the batch.Converter
// interface.
type MockConverter struct {
	mock.Mock
}

// Convert mocks the Convert method.
func (m *MockConverter) Convert(ctx context.Context, sourcePath string) (content []byte, err error) {
	args := m.Called(ctx, sourcePath)
	content, _ = args.Get(0).([]byte)
	err = args.Error(1)
	return
}

// MockPrompter provides a mock implementation of the batch.Prompter
// interface.
type MockPrompter struct {
	mock.Mock
}

// Ask mocks the Ask method.
func (m *MockPrompter) Ask(ctx context.Context, prompt batch.ConflictPrompt) (choice batch.ConflictPolicy, err error) {
	args := m.Called(ctx, prompt)
	choice, _ = args.Get(0).(batch.ConflictPolicy)
	err = args.Error(1)
	return
}

// MockHooks provides a mock implementation of the batch.Hooks interface.
// Hook methods are invoked concurrently from all workers; tests recording
// state on top of this mock must guard it themselves.
type MockHooks struct {
	mock.Mock
}

// OnFileDiscovered mocks the OnFileDiscovered method.
func (m *MockHooks) OnFileDiscovered(path string) error {
	args := m.Called(path)
	return args.Error(0)
}

// OnTaskProgress mocks the OnTaskProgress method.
func (m *MockHooks) OnTaskProgress(ev batch.TaskProgressEvent) error {
	args := m.Called(ev)
	return args.Error(0)
}

// OnTaskCompleted mocks the OnTaskCompleted method.
func (m *MockHooks) OnTaskCompleted(ev batch.TaskCompletedEvent) error {
	args := m.Called(ev)
	return args.Error(0)
}

// OnRunComplete mocks the OnRunComplete method.
func (m *MockHooks) OnRunComplete(result batch.Result) error {
	args := m.Called(result)
	return args.Error(0)
}
