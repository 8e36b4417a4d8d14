package snspush

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/BearBump/ParcelSync/internal/push"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSNS struct {
	mock.Mock
}

func (m *mockSNS) Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sns.PublishOutput)
	return out, args.Error(1)
}

func TestSender_Send(t *testing.T) {
	m := &mockSNS{}
	m.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		if aws.ToString(in.TargetArn) != "arn:endpoint/1" || aws.ToString(in.MessageStructure) != "json" {
			return false
		}
		var outer map[string]string
		if json.Unmarshal([]byte(aws.ToString(in.Message)), &outer) != nil {
			return false
		}
		var apns map[string]any
		if json.Unmarshal([]byte(outer["APNS"]), &apns) != nil {
			return false
		}
		return outer["default"] == "body" && apns["packageId"] == "p1"
	})).Return(&sns.PublishOutput{MessageId: aws.String("m1")}, nil).Once()

	s := newWithClient(m)
	err := s.Send(context.Background(), "arn:endpoint/1", push.Message{
		Title: "title", Body: "body", Data: map[string]string{"packageId": "p1"},
	})
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestSender_DisabledEndpointIsInvalidToken(t *testing.T) {
	m := &mockSNS{}
	m.On("Publish", mock.Anything, mock.Anything).
		Return(nil, &types.EndpointDisabledException{Message: aws.String("Endpoint is disabled")}).Once()

	err := newWithClient(m).Send(context.Background(), "arn:endpoint/2", push.Message{Title: "t", Body: "b"})
	require.ErrorIs(t, err, push.ErrInvalidToken)
}

func TestSender_OtherErrorsPassThrough(t *testing.T) {
	m := &mockSNS{}
	m.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

	err := newWithClient(m).Send(context.Background(), "arn:endpoint/3", push.Message{Title: "t", Body: "b"})
	require.Error(t, err)
	require.NotErrorIs(t, err, push.ErrInvalidToken)
}
