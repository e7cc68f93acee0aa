package tasks

import (
	"context"

	"remoteobj/client"
)

// managerStub adapts a client.Stub for Manager to the Manager interface.
type managerStub struct {
	stub *client.Stub
}

// NewManagerStub returns a Manager whose methods are calls through stub,
// which must have been created for Manager.
func NewManagerStub(stub *client.Stub) Manager {
	return &managerStub{stub: stub}
}

func (m *managerStub) CreateTask(ctx context.Context, title, description string) (int, error) {
	return client.Invoke[int](ctx, m.stub, "CreateTask", title, description)
}

func (m *managerStub) AssignTask(ctx context.Context, id int, assignee string) error {
	return m.stub.Call(ctx, "AssignTask", nil, id, assignee)
}

func (m *managerStub) UpdateStatus(ctx context.Context, id int, status Status) error {
	return m.stub.Call(ctx, "UpdateStatus", nil, id, status)
}

func (m *managerStub) AssignedTasks(ctx context.Context, assignee string) ([]Task, error) {
	return client.Invoke[[]Task](ctx, m.stub, "AssignedTasks", assignee)
}
