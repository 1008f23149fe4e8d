package ngrok

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.ngrok.com/ngrok/v2"

	"abplayer/internal/config"
)

var ErrMissingToken = errors.New("ngrok auth token not set; use NGROK_AUTHTOKEN or [ngrok] auth_token")

const oauthPolicy = `
on_http_request:
  - actions:
      - type: oauth
        config:
          provider: %s
`

// Service publishes the preview server so remote clients can audition
// pairs. A nil *Service is a disabled tunnel and every method is a no-op.
type Service struct {
	cfg    *config.NgrokConfig
	agent  ngrok.Agent
	logger *logrus.Logger

	mu        sync.RWMutex
	forwarder ngrok.EndpointForwarder
}

// NewService returns nil, nil when the tunnel is disabled.
func NewService(cfg *config.NgrokConfig, logger *logrus.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.AuthToken == "" {
		return nil, ErrMissingToken
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	agent, err := ngrok.NewAgent(ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		return nil, fmt.Errorf("failed to create ngrok agent: %w", err)
	}
	return &Service{cfg: cfg, agent: agent, logger: logger}, nil
}

// EndpointOptions maps the tunnel config onto endpoint options.
func EndpointOptions(cfg *config.NgrokConfig) []ngrok.EndpointOption {
	var opts []ngrok.EndpointOption
	if cfg.Domain != "" {
		opts = append(opts, ngrok.WithURL(cfg.Domain))
	}
	if policy := TrafficPolicy(cfg); policy != "" {
		opts = append(opts, ngrok.WithTrafficPolicy(policy))
	}
	return opts
}

// TrafficPolicy is the OAuth gate placed in front of the previews, or ""
// when anyone with the URL may listen.
func TrafficPolicy(cfg *config.NgrokConfig) string {
	if !cfg.EnableAuth {
		return ""
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "google"
	}
	return fmt.Sprintf(oauthPolicy, provider)
}

// StartTunnel forwards the public endpoint to upstream.
func (s *Service) StartTunnel(ctx context.Context, upstream string) error {
	if s == nil {
		return nil
	}
	fwd, err := s.agent.Forward(ctx, ngrok.WithUpstream(upstream), EndpointOptions(s.cfg)...)
	if err != nil {
		return fmt.Errorf("failed to open ngrok tunnel: %w", err)
	}

	s.mu.Lock()
	s.forwarder = fwd
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"public_url": fwd.URL().String(),
		"upstream":   upstream,
		"oauth":      s.cfg.EnableAuth,
	}).Info("Previews published")
	return nil
}

// GetPublicURL is "" until the tunnel is up.
func (s *Service) GetPublicURL() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.forwarder == nil {
		return ""
	}
	return s.forwarder.URL().String()
}

// Stop closes the tunnel if one is open.
func (s *Service) Stop() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	fwd := s.forwarder
	s.forwarder = nil
	s.mu.Unlock()
	if fwd == nil {
		return nil
	}
	s.logger.Info("Closing ngrok tunnel")
	return fwd.Close()
}
