package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/padaria-campaigns/internal/config"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
	"github.com/unclebandit/padaria-campaigns/internal/model"
)

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		BaseURL:           "http://gateway.local",
		APIKey:            "secret",
		InstancePrefix:    "padaria_",
		ConnectionTimeout: 10000,
		TextTimeout:       30000,
		MediaTimeout:      60000,
	}
}

func TestProvider_ForTenant(t *testing.T) {
	p := NewProvider(testGatewayConfig(), nil, logger.NewNoOpLogger())

	sender, err := p.ForTenant(&model.Tenant{ID: 1, Slug: "centro"})
	require.NoError(t, err)

	client, ok := sender.(*EvolutionClient)
	require.True(t, ok)
	assert.Equal(t, "padaria_centro", client.Instance())
	assert.Equal(t, 30*time.Second, client.timeouts.Text)
}

func TestProvider_NotConfigured(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.APIKey = ""
	p := NewProvider(cfg, nil, logger.NewNoOpLogger())

	_, err := p.ForTenant(&model.Tenant{ID: 1, Slug: "centro"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestProvider_TenantWithoutSlug(t *testing.T) {
	p := NewProvider(testGatewayConfig(), nil, logger.NewNoOpLogger())
	_, err := p.ForTenant(&model.Tenant{ID: 1})
	assert.ErrorIs(t, err, ErrNoInstance)
}

func TestProvider_SharesLimiterPerInstance(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.MaxMessagesPerMinute = 60
	p := NewProvider(cfg, nil, logger.NewNoOpLogger())

	a, err := p.ForTenant(&model.Tenant{Slug: "centro"})
	require.NoError(t, err)
	b, err := p.ForTenant(&model.Tenant{Slug: "centro"})
	require.NoError(t, err)
	other, err := p.ForTenant(&model.Tenant{Slug: "norte"})
	require.NoError(t, err)

	assert.Same(t, a.(*EvolutionClient).limiter, b.(*EvolutionClient).limiter)
	assert.NotSame(t, a.(*EvolutionClient).limiter, other.(*EvolutionClient).limiter)

	// Burst of one: the first send passes, the second must wait about a second.
	require.NoError(t, a.Wait(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, b.Wait(ctx))
}

func TestProvider_NoThrottleByDefault(t *testing.T) {
	p := NewProvider(testGatewayConfig(), nil, logger.NewNoOpLogger())
	s, err := p.ForTenant(&model.Tenant{Slug: "centro"})
	require.NoError(t, err)
	assert.Nil(t, s.(*EvolutionClient).limiter)
}
