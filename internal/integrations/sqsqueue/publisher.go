package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// sqsAPI is the minimal SQS interface required by Publisher.
type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends JSON documents to SQS queues.
type Publisher struct {
	api sqsAPI
}

// New creates a Publisher.
func New(api sqsAPI) (*Publisher, error) {
	if api == nil {
		return nil, errors.New("sqsqueue: api must not be nil")
	}
	return &Publisher{api: api}, nil
}

// Publish marshals v and sends it to queueURL. It returns the SQS message id.
func (p *Publisher) Publish(ctx context.Context, queueURL string, v any) (string, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return "", errors.New("sqsqueue: queue url is required")
	}
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("sqsqueue: marshal message: %w", err)
	}
	out, err := p.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", fmt.Errorf("sqsqueue: send message: %w", err)
	}
	if out == nil || out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}
