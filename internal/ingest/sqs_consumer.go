package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/dovetail-ai/attache/pkg/logging"
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSConsumer long-polls an SQS queue for inbound events and hands them to the
// ingestion service. Malformed messages are deleted so they cannot poison the
// queue; ingest failures leave the message for redelivery.
type SQSConsumer struct {
	client      sqsAPI
	queueURL    string
	service     *Service
	logger      *logging.Logger
	maxMessages int32
	waitSeconds int32
	wg          sync.WaitGroup
}

// NewSQSConsumer creates a consumer for the queue.
func NewSQSConsumer(client sqsAPI, queueURL string, service *Service, logger *logging.Logger) *SQSConsumer {
	if client == nil {
		panic("ingest: sqs client cannot be nil")
	}
	if queueURL == "" {
		panic("ingest: sqs queue url cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSConsumer{
		client:      client,
		queueURL:    queueURL,
		service:     service,
		logger:      logger.Component("sqs_consumer"),
		maxMessages: 10,
		waitSeconds: 20,
	}
}

// Start launches the receive loop in a goroutine. Cancel ctx and call Wait to
// stop.
func (c *SQSConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Wait blocks until the loop has fully stopped.
func (c *SQSConsumer) Wait() {
	c.wg.Wait()
}

func (c *SQSConsumer) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: c.maxMessages,
			WaitTimeSeconds:     c.waitSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("receive from queue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, msg := range out.Messages {
			c.handle(ctx, aws.ToString(msg.Body), aws.ToString(msg.ReceiptHandle))
		}
	}
}

func (c *SQSConsumer) handle(ctx context.Context, body, receiptHandle string) {
	var evt Event
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		c.logger.Warn("dropping malformed queue message", "error", err)
		c.delete(ctx, receiptHandle)
		return
	}

	if _, err := c.service.Ingest(ctx, evt); err != nil {
		c.logger.Error("ingest failed, message left for redelivery", "error", err, "event_id", evt.EventID)
		return
	}
	c.delete(ctx, receiptHandle)
}

func (c *SQSConsumer) delete(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		c.logger.Error("delete queue message failed", "error", err)
	}
}
