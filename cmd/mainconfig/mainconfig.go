package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/chat-engine/internal/config"
	"github.com/wolfman30/chat-engine/internal/conversation"
)

const memoryQueueBuffer = 1024

// LoadAWSConfig centralizes AWS SDK initialization so both binaries share the
// same LocalStack/production wiring.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}

	if endpoint := cfg.AWSEndpointOverride; endpoint != "" {
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				if service == sqs.ServiceID {
					return aws.Endpoint{
						URL:           endpoint,
						PartitionID:   "aws",
						SigningRegion: cfg.AWSRegion,
					}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			},
		)
	}

	return awsCfg, nil
}

// BuildInboundQueue returns the in-process queue when USE_MEMORY_QUEUE is set and the SQS
// queue at INBOUND_QUEUE_URL otherwise.
func BuildInboundQueue(ctx context.Context, cfg *appconfig.Config) (conversation.Queue, error) {
	if cfg.UseMemoryQueue {
		return conversation.NewMemoryQueue(memoryQueueBuffer), nil
	}
	if strings.TrimSpace(cfg.InboundQueueURL) == "" {
		return nil, fmt.Errorf("mainconfig: INBOUND_QUEUE_URL is required unless USE_MEMORY_QUEUE=true")
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("mainconfig: load aws config: %w", err)
	}
	return conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.InboundQueueURL), nil
}
