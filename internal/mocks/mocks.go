package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"zenj-service/internal/engine"
	"zenj-service/internal/models"
	"zenj-service/internal/telemetry"
)

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) contact(args mock.Arguments) (models.Contact, error) {
	var c models.Contact
	if val := args.Get(0); val != nil {
		c = val.(models.Contact)
	}
	return c, args.Error(1)
}

func (m *DirectoryMock) user(args mock.Arguments) (models.User, error) {
	var u models.User
	if val := args.Get(0); val != nil {
		u = val.(models.User)
	}
	return u, args.Error(1)
}

func (m *DirectoryMock) CreateContact(ctx context.Context, actor string, spec models.ContactSpec) (models.Contact, error) {
	return m.contact(m.Called(ctx, actor, spec))
}

func (m *DirectoryMock) Contact(ctx context.Context, actor, id string) (models.Contact, error) {
	return m.contact(m.Called(ctx, actor, id))
}

func (m *DirectoryMock) ListVisible(ctx context.Context, actor string) ([]models.Contact, error) {
	args := m.Called(ctx, actor)
	var list []models.Contact
	if val := args.Get(0); val != nil {
		list = val.([]models.Contact)
	}
	return list, args.Error(1)
}

func (m *DirectoryMock) UpdateContact(ctx context.Context, actor, id string, patch models.ContactPatch) (models.Contact, error) {
	return m.contact(m.Called(ctx, actor, id, patch))
}

func (m *DirectoryMock) AddMember(ctx context.Context, actor, groupID, memberID string) (models.Contact, error) {
	return m.contact(m.Called(ctx, actor, groupID, memberID))
}

func (m *DirectoryMock) RemoveMember(ctx context.Context, actor, groupID, memberID string) (models.Contact, error) {
	return m.contact(m.Called(ctx, actor, groupID, memberID))
}

func (m *DirectoryMock) TransferOwnership(ctx context.Context, actor, groupID, newOwnerID string) (models.Contact, error) {
	return m.contact(m.Called(ctx, actor, groupID, newOwnerID))
}

func (m *DirectoryMock) GrantAdmin(ctx context.Context, actor, groupID, memberID string) (models.Contact, error) {
	return m.contact(m.Called(ctx, actor, groupID, memberID))
}

func (m *DirectoryMock) RevokeAdmin(ctx context.Context, actor, groupID, memberID string) (models.Contact, error) {
	return m.contact(m.Called(ctx, actor, groupID, memberID))
}

func (m *DirectoryMock) RegisterUser(ctx context.Context, id, name, phone string) (models.User, error) {
	return m.user(m.Called(ctx, id, name, phone))
}

func (m *DirectoryMock) User(ctx context.Context, id string) (models.User, error) {
	return m.user(m.Called(ctx, id))
}

func (m *DirectoryMock) UpdateProfile(ctx context.Context, actor string, patch models.ProfilePatch) (models.User, error) {
	return m.user(m.Called(ctx, actor, patch))
}

type EngineMock struct {
	mock.Mock
}

func (m *EngineMock) contact(args mock.Arguments) (models.Contact, error) {
	var c models.Contact
	if val := args.Get(0); val != nil {
		c = val.(models.Contact)
	}
	return c, args.Error(1)
}

func (m *EngineMock) message(args mock.Arguments) (models.Message, error) {
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *EngineMock) Select(ctx context.Context, actor, id string) (models.Contact, error) {
	return m.contact(m.Called(ctx, actor, id))
}

func (m *EngineMock) Unfocus(actor string) {
	m.Called(actor)
}

func (m *EngineMock) Block(ctx context.Context, actor, id string) (models.Contact, error) {
	return m.contact(m.Called(ctx, actor, id))
}

func (m *EngineMock) Unblock(ctx context.Context, actor, id string) (models.Contact, error) {
	return m.contact(m.Called(ctx, actor, id))
}

func (m *EngineMock) DeleteGroup(ctx context.Context, actor, groupID string) error {
	args := m.Called(ctx, actor, groupID)
	return args.Error(0)
}

func (m *EngineMock) Send(ctx context.Context, actor, conversationID string, out models.OutgoingMessage) (engine.Result, error) {
	args := m.Called(ctx, actor, conversationID, out)
	var res engine.Result
	if val := args.Get(0); val != nil {
		res = val.(engine.Result)
	}
	return res, args.Error(1)
}

func (m *EngineMock) SendAsync(ctx context.Context, actor, conversationID string, out models.OutgoingMessage) (models.Message, <-chan engine.TurnResult, error) {
	args := m.Called(ctx, actor, conversationID, out)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	var ch <-chan engine.TurnResult
	if val := args.Get(1); val != nil {
		ch = val.(<-chan engine.TurnResult)
	}
	return msg, ch, args.Error(2)
}

func (m *EngineMock) Read(ctx context.Context, actor, conversationID string, req models.PageRequest) (models.Page, error) {
	args := m.Called(ctx, actor, conversationID, req)
	var page models.Page
	if val := args.Get(0); val != nil {
		page = val.(models.Page)
	}
	return page, args.Error(1)
}

func (m *EngineMock) React(ctx context.Context, actor, messageID, emoji string) (models.Message, error) {
	return m.message(m.Called(ctx, actor, messageID, emoji))
}

func (m *EngineMock) MarkStatus(ctx context.Context, actor, messageID string, status models.DeliveryStatus) (models.Message, error) {
	return m.message(m.Called(ctx, actor, messageID, status))
}

func (m *EngineMock) State(ctx context.Context, actor, conversationID string) (engine.State, error) {
	args := m.Called(ctx, actor, conversationID)
	var st engine.State
	if val := args.Get(0); val != nil {
		st = val.(engine.State)
	}
	return st, args.Error(1)
}

type AuditorMock struct {
	mock.Mock
}

func (m *AuditorMock) Emit(ctx context.Context, entry telemetry.AuditEntry) {
	m.Called(ctx, entry)
}
