// Package app wires the AWS clients, stores and integrations shared by the
// Lambda entry points and the operator CLI.
package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/proactiveitadmin/gym-integrator/handler"
	"github.com/proactiveitadmin/gym-integrator/internal/config"
	"github.com/proactiveitadmin/gym-integrator/internal/dispatch"
	"github.com/proactiveitadmin/gym-integrator/internal/integrations/jira"
	"github.com/proactiveitadmin/gym-integrator/internal/integrations/openai"
	"github.com/proactiveitadmin/gym-integrator/internal/integrations/paramstore"
	"github.com/proactiveitadmin/gym-integrator/internal/integrations/perfectgym"
	"github.com/proactiveitadmin/gym-integrator/internal/integrations/s3faq"
	"github.com/proactiveitadmin/gym-integrator/internal/integrations/sqsqueue"
	"github.com/proactiveitadmin/gym-integrator/internal/kb"
	"github.com/proactiveitadmin/gym-integrator/internal/nlu"
	"github.com/proactiveitadmin/gym-integrator/internal/ratelimit"
	"github.com/proactiveitadmin/gym-integrator/internal/repository"
	"github.com/proactiveitadmin/gym-integrator/internal/templates"
	"github.com/proactiveitadmin/gym-integrator/internal/ticketing"
	"github.com/proactiveitadmin/gym-integrator/internal/usecase"
)

// App holds every component built from one Config.
type App struct {
	Config config.Config

	Conversations *repository.ConversationStore
	Messages      *repository.MessageStore
	Tenants       *repository.TenantStore
	Templates     *repository.TemplateStore
	Members       *repository.MemberIndex
	Counters      *repository.CounterStore

	Engine       *usecase.Engine
	Dispatcher   *dispatch.Dispatcher
	Router       *handler.Router
	Tickets      *handler.Tickets
	Housekeeping *handler.Housekeeping
}

// LoadAWS loads the default AWS configuration.
func LoadAWS(ctx context.Context) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
	}
	return awsCfg, nil
}

// New builds the full component graph. Constructors make no network calls;
// secrets are fetched on first use.
func New(cfg config.Config, awsCfg aws.Config) (*App, error) {
	endpoint := cfg.AWSEndpointURL
	ddb := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	ssmClient := awsssm.NewFromConfig(awsCfg, func(o *awsssm.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	s3Client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	sqsClient := awssqs.NewFromConfig(awsCfg, func(o *awssqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	a := &App{Config: cfg}
	var err error

	// ---- Stores ----
	if a.Conversations, err = repository.NewConversationStore(ddb, cfg.ConversationsTable); err != nil {
		return nil, fmt.Errorf("app: conversation store: %w", err)
	}
	if a.Messages, err = repository.NewMessageStore(ddb, cfg.MessagesTable); err != nil {
		return nil, fmt.Errorf("app: message store: %w", err)
	}
	if a.Tenants, err = repository.NewTenantStore(ddb, cfg.TenantsTable); err != nil {
		return nil, fmt.Errorf("app: tenant store: %w", err)
	}
	if a.Templates, err = repository.NewTemplateStore(ddb, cfg.TemplatesTable); err != nil {
		return nil, fmt.Errorf("app: template store: %w", err)
	}
	if a.Members, err = repository.NewMemberIndex(ddb, cfg.MembersIndexTable); err != nil {
		return nil, fmt.Errorf("app: members index: %w", err)
	}
	if a.Counters, err = repository.NewCounterStore(ddb, cfg.IntentsStatsTable); err != nil {
		return nil, fmt.Errorf("app: counter store: %w", err)
	}

	// ---- Integrations ----
	ssmParams, err := paramstore.New(ssmClient)
	if err != nil {
		return nil, fmt.Errorf("app: parameter store: %w", err)
	}
	params, err := paramstore.NewCache(ssmParams)
	if err != nil {
		return nil, fmt.Errorf("app: parameter cache: %w", err)
	}
	openaiClient, err := openai.NewClient(params, cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("app: openai client: %w", err)
	}
	classifier, err := nlu.NewClassifier(openaiClient, cfg.LLMModel)
	if err != nil {
		return nil, fmt.Errorf("app: classifier: %w", err)
	}
	gym, err := perfectgym.NewClient(cfg.PGBaseURL, params, cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("app: perfectgym client: %w", err)
	}
	jiraClient, err := jira.NewClient(cfg.JiraURL, cfg.JiraProjectKey, params, cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("app: jira client: %w", err)
	}
	faq, err := s3faq.New(s3Client, cfg.KBBucket)
	if err != nil {
		return nil, fmt.Errorf("app: faq store: %w", err)
	}
	publisher, err := sqsqueue.New(sqsClient)
	if err != nil {
		return nil, fmt.Errorf("app: sqs publisher: %w", err)
	}

	// ---- Routing ----
	resolver, err := templates.NewResolver(a.Templates, a.Tenants, cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("app: template resolver: %w", err)
	}
	builder, err := ticketing.NewBuilder(a.Messages, ticketing.DefaultHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("app: ticket builder: %w", err)
	}
	a.Engine, err = usecase.NewEngine(usecase.Deps{
		Conversations: a.Conversations,
		Templates:     resolver,
		Classifier:    classifier,
		KB:            kb.NewResolver(faq),
		Gym:           gym,
		Members:       a.Members,
		Tickets:       jiraClient,
		TicketBuilder: builder,
	}, usecase.Config{WhatsAppNumber: cfg.WhatsAppNumber})
	if err != nil {
		return nil, fmt.Errorf("app: engine: %w", err)
	}
	limiter, err := ratelimit.New(a.Counters, ratelimit.Config{
		BucketSeconds:      cfg.SpamBucketSeconds,
		MaxPerBucket:       cfg.SpamMaxPerBucket,
		TenantMaxPerBucket: cfg.SpamTenantMaxPerBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("app: rate limiter: %w", err)
	}
	a.Dispatcher, err = dispatch.New(publisher, dispatch.Queues{
		Outbound:    cfg.OutboundQueueURL,
		WebOutbound: cfg.WebOutboundQueueURL,
		Tickets:     cfg.TicketsQueueURL,
		Handover:    cfg.HandoverQueueURL,
	})
	if err != nil {
		return nil, fmt.Errorf("app: dispatcher: %w", err)
	}

	// ---- Handlers ----
	if a.Router, err = handler.NewRouter(a.Engine, a.Dispatcher, limiter, a.Messages, cfg.RouterConcurrency); err != nil {
		return nil, fmt.Errorf("app: router: %w", err)
	}
	if a.Tickets, err = handler.NewTickets(builder, jiraClient); err != nil {
		return nil, fmt.Errorf("app: ticket worker: %w", err)
	}
	if a.Housekeeping, err = handler.NewHousekeeping(a.Counters, cfg.StatsMaxAge); err != nil {
		return nil, fmt.Errorf("app: housekeeping: %w", err)
	}
	return a, nil
}
