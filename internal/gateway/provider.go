package gateway

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/unclebandit/padaria-campaigns/internal/config"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
	"github.com/unclebandit/padaria-campaigns/internal/model"
)

var (
	ErrNotConfigured = errors.New("WhatsApp gateway is not configured")
	ErrNoInstance    = errors.New("tenant has no gateway instance")
)

// Factory hands out a Sender per tenant.
type Factory interface {
	ForTenant(t *model.Tenant) (Sender, error)
}

// Provider builds EvolutionClients that share one HTTP client and one throttle per instance.
type Provider struct {
	httpClient *http.Client
	cfg        config.GatewayConfig
	timeouts   Timeouts
	log        logger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewProvider(cfg config.GatewayConfig, httpClient *http.Client, log logger.Logger) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Provider{
		httpClient: httpClient,
		cfg:        cfg,
		timeouts: Timeouts{
			Connection: config.GetDuration(cfg.ConnectionTimeout),
			Text:       config.GetDuration(cfg.TextTimeout),
			Media:      config.GetDuration(cfg.MediaTimeout),
		},
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
}

// InstanceName is the gateway instance of a tenant, e.g. padaria_centro.
func (p *Provider) InstanceName(t *model.Tenant) string {
	return p.cfg.InstancePrefix + t.Slug
}

func (p *Provider) ForTenant(t *model.Tenant) (Sender, error) {
	if p.cfg.BaseURL == "" || p.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if t == nil || t.Slug == "" {
		return nil, ErrNoInstance
	}
	instance := p.InstanceName(t)
	return NewEvolutionClient(p.httpClient, p.cfg.BaseURL, p.cfg.APIKey, instance, p.timeouts, p.limiter(instance), p.log), nil
}

// limiter returns the shared ceiling for instance, or nil when throttling is off.
func (p *Provider) limiter(instance string) *rate.Limiter {
	if p.cfg.MaxMessagesPerMinute <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if lim, ok := p.limiters[instance]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(p.cfg.MaxMessagesPerMinute)), 1)
	p.limiters[instance] = lim
	return lim
}

var _ Factory = (*Provider)(nil)
