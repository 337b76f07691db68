package app

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"github.com/proactiveitadmin/gym-integrator/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		LogLevel:               "info",
		AWSEndpointURL:         "http://localhost:4566",
		ParamPrefix:            "/gym-integrator",
		ConversationsTable:     "Conversations",
		MessagesTable:          "Messages",
		TenantsTable:           "Tenants",
		TemplatesTable:         "Templates",
		MembersIndexTable:      "MembersIndex",
		IntentsStatsTable:      "IntentsStats",
		JiraProjectKey:         "GI",
		LLMModel:               "gpt-4o-mini",
		DefaultLanguage:        "pl",
		SpamBucketSeconds:      60,
		SpamMaxPerBucket:       20,
		SpamTenantMaxPerBucket: 300,
		StatsMaxAge:            24 * time.Hour,
		RouterConcurrency:      4,
	}
}

func TestNew_BuildsComponentGraph(t *testing.T) {
	a, err := New(testConfig(), aws.Config{Region: "eu-central-1"})
	require.NoError(t, err)
	require.NotNil(t, a.Engine)
	require.NotNil(t, a.Dispatcher)
	require.NotNil(t, a.Router)
	require.NotNil(t, a.Tickets)
	require.NotNil(t, a.Housekeeping)
	require.Equal(t, "Conversations", a.Conversations.TableName())
	require.Equal(t, "IntentsStats", a.Counters.TableName())
}

func TestNew_PropagatesErrors(t *testing.T) {
	cfg := testConfig()
	cfg.MessagesTable = ""
	_, err := New(cfg, aws.Config{})
	require.ErrorContains(t, err, "app: message store")

	cfg = testConfig()
	cfg.LLMModel = " "
	_, err = New(cfg, aws.Config{})
	require.ErrorContains(t, err, "app: classifier")

	cfg = testConfig()
	cfg.StatsMaxAge = 0
	_, err = New(cfg, aws.Config{})
	require.ErrorContains(t, err, "app: housekeeping")
}
