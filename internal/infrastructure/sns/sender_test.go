package sns

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sns.PublishOutput)
	return out, args.Error(1)
}

func TestSendSMS_Transactional(t *testing.T) {
	m := &mockPublisher{}
	s := &Sender{client: m, senderID: "SUBCORE"}

	m.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return *in.PhoneNumber == "+919876543210" &&
			*in.Message == "Your code is 123456" &&
			*in.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue == "Transactional" &&
			*in.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue == "SUBCORE"
	})).Return(&sns.PublishOutput{}, nil)

	require.NoError(t, s.SendSMS(context.Background(), "+919876543210", "Your code is 123456"))
	m.AssertExpectations(t)
}

func TestSendSMS_WrapsError(t *testing.T) {
	m := &mockPublisher{}
	s := &Sender{client: m}
	boom := errors.New("throttled")
	m.On("Publish", mock.Anything, mock.Anything).Return(nil, boom)

	err := s.SendSMS(context.Background(), "+919876543210", "x")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "sns publish")
}

func TestSendSMS_NoSenderIDAttribute(t *testing.T) {
	m := &mockPublisher{}
	s := &Sender{client: m}
	m.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		_, ok := in.MessageAttributes["AWS.SNS.SMS.SenderID"]
		return !ok
	})).Return(&sns.PublishOutput{}, nil)

	require.NoError(t, s.SendSMS(context.Background(), "+15550100", "x"))
	m.AssertExpectations(t)
}
