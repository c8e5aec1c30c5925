package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/stellarlinkco/remindme/internal/bus"
	"github.com/stellarlinkco/remindme/internal/config"
	"github.com/stellarlinkco/remindme/internal/logging"
)

// ManagerOptions customises channel construction.
type ManagerOptions struct {
	// Commands is the menu advertised by transports that support one.
	Commands []Command
	// BotFactory overrides the Telegram client (tests).
	BotFactory BotFactory
}

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	logger   *log.Logger
}

func NewChannelManager(cfg *config.Config, b *bus.MessageBus, opts ManagerOptions) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
		logger:   logging.Component(nil, "channel-mgr"),
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannelWithFactory(cfg.Telegram, b, opts.BotFactory)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		ch.SetCommands(opts.Commands)
		m.Register(ch)
	}

	if cfg.WebUI.Enabled {
		ch, err := NewWebUIChannel(cfg.WebUI, b)
		if err != nil {
			return nil, fmt.Errorf("init webui channel: %w", err)
		}
		m.Register(ch)
	}

	return m, nil
}

// Register adds a channel and routes its outbound messages to it.
func (m *ChannelManager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.logger.Error("send failed", "channel", ch.Name(), "chat", msg.ChatID, "err", err)
		}
	})
}

func (m *ChannelManager) Get(name string) (Channel, bool) {
	ch, ok := m.channels[name]
	return ch, ok
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			m.logger.Info("starting", "channel", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		m.logger.Info("stopping", "channel", name)
		if err := ch.Stop(); err != nil {
			m.logger.Error("stop failed", "channel", name, "err", err)
		}
	}
	return nil
}

// EnabledChannels returns the registered channel names in sorted order.
func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
