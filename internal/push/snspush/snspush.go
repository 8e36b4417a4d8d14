// Package snspush delivers pushes through AWS SNS mobile platform endpoints.
// A device token here is the endpoint ARN registered for the device.
package snspush

import (
	"context"
	"encoding/json"

	"github.com/BearBump/ParcelSync/internal/push"
	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/pkg/errors"
)

type publishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Sender struct {
	client publishAPI
}

// New loads the default AWS config; endpoint overrides a local SNS emulator.
func New(ctx context.Context, region, endpoint string) (*Sender, error) {
	var opts []func(*awscfg.LoadOptions) error
	if region != "" {
		opts = append(opts, awscfg.WithRegion(region))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Sender{client: client}, nil
}

func newWithClient(c publishAPI) *Sender {
	return &Sender{client: c}
}

type apsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type aps struct {
	Alert            apsAlert `json:"alert"`
	Sound            string   `json:"sound"`
	Badge            int      `json:"badge"`
	ContentAvailable int      `json:"content-available"`
}

// buildMessage собирает MessageStructure=json: отдельные тела для APNs и FCM.
func buildMessage(m push.Message) (string, error) {
	apns := map[string]any{
		"aps": aps{
			Alert:            apsAlert{Title: m.Title, Body: m.Body},
			Sound:            "default",
			Badge:            1,
			ContentAvailable: 1,
		},
	}
	for k, v := range m.Data {
		apns[k] = v
	}
	apnsJSON, err := json.Marshal(apns)
	if err != nil {
		return "", errors.Wrap(err, "marshal apns")
	}
	gcmJSON, err := json.Marshal(map[string]any{
		"notification": map[string]string{"title": m.Title, "body": m.Body},
		"data":         m.Data,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal gcm")
	}
	out, err := json.Marshal(map[string]string{
		"default":      m.Body,
		"APNS":         string(apnsJSON),
		"APNS_SANDBOX": string(apnsJSON),
		"GCM":          string(gcmJSON),
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal message")
	}
	return string(out), nil
}

func (s *Sender) Send(ctx context.Context, token string, m push.Message) error {
	body, err := buildMessage(m)
	if err != nil {
		return err
	}
	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(token),
		Message:          aws.String(body),
		MessageStructure: aws.String("json"),
	})
	if err == nil {
		return nil
	}

	var disabled *types.EndpointDisabledException
	var notFound *types.NotFoundException
	if errors.As(err, &disabled) || errors.As(err, &notFound) {
		return errors.Wrap(push.ErrInvalidToken, err.Error())
	}
	return errors.Wrap(err, "sns publish")
}
