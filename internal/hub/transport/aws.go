package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"
)

var (
	AWSDefaultConfigLoader  = awsconfig.LoadDefaultConfig
	SNSTopicResolverFactory = sns.NewGenerateArnTopicResolver
	SNSPublisherFactory     = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	SNSSubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sns.NewSubscriber(cfg, sqsCfg, logger)
	}
)

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

func awsTransport(ctx context.Context, conf Config, logger watermill.LoggerAdapter) (Transport, error) {
	cfg, err := loadAWSConfig(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}

	publisher, err := newAWSPublisher(conf, logger, cfg)
	if err != nil {
		return Transport{}, err
	}
	subscriber, err := newAWSSubscriber(conf, logger, cfg)
	if err != nil {
		return Transport{}, err
	}
	return Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

func loadAWSConfig(ctx context.Context, conf Config, logger watermill.LoggerAdapter) (*aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if conf.GetAWSRegion() != "" {
		opts = append(opts, awsconfig.WithRegion(conf.GetAWSRegion()))
	}
	if conf.GetAWSAccessKeyID() != "" && conf.GetAWSSecretAccessKey() != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			staticCredentialsProvider(conf.GetAWSAccessKeyID(), conf.GetAWSSecretAccessKey())))
	}

	cfg, err := AWSDefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS default config", err, nil)
		return nil, err
	}
	// Ensure region is set even if the loader ignores options (e.g. in tests).
	if conf.GetAWSRegion() != "" {
		cfg.Region = conf.GetAWSRegion()
	}
	if conf.GetAWSEndpoint() != "" {
		cfg.BaseEndpoint = aws.String(conf.GetAWSEndpoint())
	}

	return &cfg, nil
}

func newAWSPublisher(conf Config, logger watermill.LoggerAdapter, cfg *aws.Config) (message.Publisher, error) {
	accountID, region := resolveAccountAndRegion(conf, logger, cfg.Region)

	topicResolver, err := SNSTopicResolverFactory(accountID, region)
	if err != nil {
		return nil, err
	}

	publisherConfig := sns.PublisherConfig{
		TopicResolver: topicResolver,
		AWSConfig:     *cfg,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}

	if conf.GetAWSEndpoint() != "" {
		endpoint := conf.GetAWSEndpoint()
		publisherConfig.OptFns = []func(*amazonsns.Options){
			func(o *amazonsns.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			},
		}
	}

	return SNSPublisherFactory(publisherConfig, logger)
}

func newAWSSubscriber(conf Config, logger watermill.LoggerAdapter, cfg *aws.Config) (message.Subscriber, error) {
	accountID, region := resolveAccountAndRegion(conf, logger, cfg.Region)

	topicResolver, err := SNSTopicResolverFactory(accountID, region)
	if err != nil {
		return nil, err
	}

	snsOpts, sqsOpts, err := endpointOverrides(conf)
	if err != nil {
		return nil, err
	}

	subscriberConfig := sns.SubscriberConfig{
		AWSConfig: aws.Config{
			Credentials: aws.AnonymousCredentials{},
		},
		OptFns:        snsOpts,
		TopicResolver: topicResolver,
		GenerateSqsQueueName: func(ctx context.Context, snsTopic sns.TopicArn) (string, error) {
			topic, err := sns.ExtractTopicNameFromTopicArn(snsTopic)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%v-messagehub", topic), nil
		},
	}

	return SNSSubscriberFactory(
		subscriberConfig,
		sqs.SubscriberConfig{
			AWSConfig: *cfg,
			OptFns:    sqsOpts,
		},
		logger,
	)
}

func endpointOverrides(conf Config) ([]func(*amazonsns.Options), []func(*amazonsqs.Options), error) {
	if conf.GetAWSEndpoint() == "" {
		return nil, nil, nil
	}

	parsedURL, err := url.Parse(conf.GetAWSEndpoint())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse AWS endpoint: %w", err)
	}

	snsOpts := []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsedURL},
		}),
	}
	sqsOpts := []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsedURL},
		}),
	}
	return snsOpts, sqsOpts, nil
}

func resolveAccountAndRegion(conf Config, logger watermill.LoggerAdapter, fallbackRegion string) (string, string) {
	accountID := strings.Trim(conf.GetAWSAccountID(), "\"' ")
	region := conf.GetAWSRegion()
	if region == "" {
		region = fallbackRegion
	}

	// LocalStack accepts the all-zero account id; fall back to it when the
	// configured id is missing or malformed and a custom endpoint is in use.
	if conf.GetAWSEndpoint() != "" && (accountID == "" || len(accountID) != awsAccountIDLength) {
		if accountID != "" {
			logger.Info("Invalid AWS account ID; falling back to LocalStack default", watermill.LogFields{"accountID": accountID})
		}
		accountID = localstackAccountID
	}

	return accountID, region
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}

func init() {
	DefaultRegistry.Register("aws", awsTransport)
}
