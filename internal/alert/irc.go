package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/lrstanley/girc"

	"github.com/mvail/frontdesk/internal/config"
	"github.com/mvail/frontdesk/internal/logging"
)

// IRCNotifier posts alerts to a staff IRC channel.
type IRCNotifier struct {
	cfg    config.IRCAlertConfig
	client *girc.Client
	log    *logging.Logger

	mu      sync.RWMutex
	running bool
}

// NewIRC creates an IRC notifier from configuration.
func NewIRC(cfg config.IRCAlertConfig, log *logging.Logger) *IRCNotifier {
	return &IRCNotifier{cfg: cfg, log: log.Sub("alert")}
}

// Start connects to the IRC server and joins the staff channel. It
// blocks until the context is cancelled or the connection fails.
func (n *IRCNotifier) Start(ctx context.Context) error {
	port := n.cfg.Port
	if port == 0 {
		if n.cfg.UseTLS {
			port = 6697
		} else {
			port = 6667
		}
	}

	gircCfg := girc.Config{
		Server:  n.cfg.Server,
		Port:    port,
		Nick:    n.cfg.Nick,
		User:    n.cfg.Nick,
		Name:    "Frontdesk Alerts",
		SSL:     n.cfg.UseTLS,
		Version: "Frontdesk/1.0",
	}
	if n.cfg.UseTLS {
		gircCfg.TLSConfig = &tls.Config{ServerName: n.cfg.Server}
	}

	n.client = girc.New(gircCfg)
	n.client.Handlers.Add(girc.CONNECTED, func(c *girc.Client, e girc.Event) {
		c.Cmd.Join(n.cfg.Channel)
		n.log.Info().Str("channel", n.cfg.Channel).Msg("joined alert channel")
	})

	n.mu.Lock()
	n.running = true
	n.mu.Unlock()

	n.log.Info().
		Str("server", n.cfg.Server).
		Int("port", port).
		Str("nick", n.cfg.Nick).
		Msg("connecting to IRC")

	errCh := make(chan error, 1)
	go func() {
		errCh <- n.client.Connect()
	}()

	select {
	case err := <-errCh:
		n.mu.Lock()
		n.running = false
		n.mu.Unlock()
		if err != nil {
			return fmt.Errorf("irc connection: %w", err)
		}
		return nil
	case <-ctx.Done():
		n.client.Close()
		n.mu.Lock()
		n.running = false
		n.mu.Unlock()
		return nil
	}
}

// Notify posts one alert line to the staff channel. Dropped with a log
// entry when the connection is down.
func (n *IRCNotifier) Notify(ctx context.Context, subject, detail string) {
	n.mu.RLock()
	connected := n.running && n.client != nil && n.client.IsConnected()
	n.mu.RUnlock()

	if !connected {
		n.log.Warn().Str("subject", subject).Msg("alert dropped, irc not connected")
		return
	}
	n.client.Cmd.Message(n.cfg.Channel, fmt.Sprintf("[%s] %s", subject, detail))
}
