// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/eventkiosk/cardforge/internal/log"
)

// SQSQueue implements Queue on AWS SQS. With a FIFO queue and a single
// message group the broker guarantees ordering and handles the visibility
// window natively; this type is a thin adapter.
type SQSQueue struct {
	client     *sqs.Client
	url        string
	visibility time.Duration
	fifo       bool
}

// SQSConfig holds SQS connection configuration.
type SQSConfig struct {
	URL        string
	Region     string
	Visibility time.Duration
}

// NewSQSQueue builds a client from the default AWS credential chain.
func NewSQSQueue(ctx context.Context, cfg SQSConfig) (*SQSQueue, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	visibility := cfg.Visibility
	if visibility <= 0 {
		visibility = 90 * time.Second
	}
	q := &SQSQueue{
		client:     sqs.NewFromConfig(awsCfg),
		url:        cfg.URL,
		visibility: visibility,
		fifo:       strings.HasSuffix(cfg.URL, ".fifo"),
	}
	logger := log.WithComponent("queue")
	logger.Info().
		Str("queue_url", cfg.URL).
		Bool("fifo", q.fifo).
		Dur("visibility", visibility).
		Msg("using sqs queue")
	return q, nil
}

func (q *SQSQueue) Send(ctx context.Context, body []byte, groupID, dedupID string) (string, error) {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	}
	if q.fifo {
		if groupID == "" {
			groupID = "default"
		}
		input.MessageGroupId = aws.String(groupID)
		if dedupID != "" {
			input.MessageDeduplicationId = aws.String(dedupID)
		}
	}
	out, err := q.client.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("sqs send: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

func (q *SQSQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max < 1 {
		max = 1
	}
	if max > 10 {
		max = 10 // SQS batch ceiling
	}
	waitSec := int32(wait / time.Second)
	if waitSec > 20 {
		waitSec = 20
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     waitSec,
		VisibilityTimeout:   int32(q.visibility / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		receiveCount := 1
		if raw, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.Atoi(raw); err == nil {
				receiveCount = n
			}
		}
		msgs = append(msgs, Message{
			ID:            aws.ToString(m.MessageId),
			Body:          []byte(aws.ToString(m.Body)),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			ReceiveCount:  receiveCount,
		})
	}
	return msgs, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

func (q *SQSQueue) Ping(ctx context.Context) error {
	_, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.url),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	return err
}

func (q *SQSQueue) Close() error { return nil }

var _ Queue = (*SQSQueue)(nil)
