package whatsapp

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockSender is a testify mock of Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendText(ctx context.Context, to, text string) error {
	args := m.Called(ctx, to, text)
	return args.Error(0)
}
