// Package gateway wires the transports, the conversation handler and the
// reminder scheduler into one running service.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/stellarlinkco/remindme/internal/bus"
	"github.com/stellarlinkco/remindme/internal/channel"
	"github.com/stellarlinkco/remindme/internal/config"
	"github.com/stellarlinkco/remindme/internal/cron"
	"github.com/stellarlinkco/remindme/internal/dialog"
	"github.com/stellarlinkco/remindme/internal/logging"
	"github.com/stellarlinkco/remindme/internal/reminder"
	"github.com/stellarlinkco/remindme/internal/session"
	"github.com/stellarlinkco/remindme/internal/store"
	"github.com/stellarlinkco/remindme/internal/todo"
)

// ReminderJobName is the cron job that triggers the daily deadline sweep.
const ReminderJobName = "reminder-sweep"

// Options for creating a Gateway
type Options struct {
	SignalChan    chan os.Signal // for testing signal handling
	Store         store.Store    // overrides cfg.Storage
	BotFactory    channel.BotFactory
	CronStorePath string
	Now           func() time.Time
	Logger        *log.Logger
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	store      store.Store
	sessions   session.Store
	dialog     *dialog.Handler
	sweeper    *reminder.Sweeper
	cron       *cron.Service
	channels   *channel.ChannelManager
	dispatch   *dispatcher
	loc        *time.Location
	now        func() time.Time
	logger     *log.Logger
	signalChan chan os.Signal
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	loc, err := cfg.Reminders.Location()
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:        cfg,
		loc:        loc,
		now:        opts.Now,
		logger:     logging.Component(opts.Logger, "gateway"),
		signalChan: opts.SignalChan,
	}
	if g.now == nil {
		g.now = time.Now
	}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	g.store = opts.Store
	if g.store == nil {
		st, err := store.Open(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		g.store = st
	}

	g.sessions = session.NewMemoryStore()
	g.dialog = dialog.NewHandler(g.store, g.store, g.sessions, dialog.Options{
		NotifyInfo: dialog.DefaultNotifyInfo(cfg.Reminders.Schedule),
		Logger:     opts.Logger,
	})
	g.sweeper = reminder.NewSweeper(g.store, opts.Logger)

	cronPath := opts.CronStorePath
	if cronPath == "" {
		cronPath = config.CronStorePath()
	}
	g.cron = cron.NewService(cronPath, loc, opts.Logger)
	g.cron.OnJob = g.onJob

	commands := make([]channel.Command, 0, len(dialog.BotCommands))
	for _, c := range dialog.BotCommands {
		commands = append(commands, channel.Command{Name: c.Command, Description: c.Description})
	}
	chMgr, err := channel.NewChannelManager(cfg, g.bus, channel.ManagerOptions{
		Commands:   commands,
		BotFactory: opts.BotFactory,
	})
	if err != nil {
		_ = g.store.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.dispatch = newDispatcher(cfg.Gateway.Workers, config.DefaultBufSize, g.handleInbound)

	return g, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		_ = g.Shutdown()
		return fmt.Errorf("start channels: %w", err)
	}
	g.logger.Info("channels started", "channels", g.channels.EnabledChannels())

	if err := g.startReminders(ctx); err != nil {
		g.logger.Warn("reminders disabled", "err", err)
	}

	g.dispatch.start(ctx)
	go g.processLoop(ctx)

	g.logger.Info("running", "workers", len(g.dispatch.queues))

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	g.logger.Info("shutting down...")
	cancel()
	g.dispatch.wait()
	return g.Shutdown()
}

func (g *Gateway) startReminders(ctx context.Context) error {
	if err := g.cron.Load(); err != nil {
		g.logger.Warn("cron jobs not loaded", "err", err)
	}
	if g.cfg.Reminders.Enabled {
		_, err := g.cron.EnsureJob(ReminderJobName,
			cron.Schedule{Kind: cron.KindCron, Expr: g.cfg.Reminders.Schedule},
			cron.Payload{Kind: cron.PayloadReminderSweep, Channel: g.cfg.Reminders.Channel})
		if err != nil {
			return fmt.Errorf("ensure reminder job: %w", err)
		}
	} else if job, ok := g.cron.FindJob(ReminderJobName); ok {
		if _, err := g.cron.EnableJob(job.ID, false); err != nil {
			return err
		}
	}
	return g.cron.Start(ctx)
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.logger.Debug("inbound", "channel", msg.Channel, "chat", msg.ChatID, "text", truncate(msg.Content, 80))
			if err := g.dispatch.submit(ctx, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	chatID, err := msg.NumericChatID()
	if err != nil {
		g.logger.Warn("dropping message with non-numeric chat id", "channel", msg.Channel, "chat", msg.ChatID)
		return
	}
	profile := todo.Profile{
		FirstName: msg.Meta(bus.MetaFirstName),
		LastName:  msg.Meta(bus.MetaLastName),
		UserName:  msg.Meta(bus.MetaUserName),
	}

	replies, err := g.dialog.HandleMessage(ctx, chatID, msg.Content, profile)
	if err != nil {
		g.logger.Error("handle message", "channel", msg.Channel, "chat", chatID, "err", err)
	}
	for _, r := range replies {
		out := bus.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   strconv.FormatInt(r.ChatID, 10),
			Content:  r.Text,
			Keyboard: r.Keyboard,
		}
		if err := g.bus.PublishOutbound(ctx, out); err != nil {
			g.logger.Warn("reply dropped", "chat", chatID, "err", err)
			return
		}
	}
}

func (g *Gateway) onJob(ctx context.Context, job cron.CronJob) (string, error) {
	switch job.Payload.Kind {
	case cron.PayloadReminderSweep:
		channelName := job.Payload.Channel
		if channelName == "" {
			channelName = g.cfg.Reminders.Channel
		}
		r, err := g.RunReminderSweep(ctx, g.now(), channelName)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("due=%d delivered=%d failed=%d", r.Due, r.Delivered, r.Failed), nil
	default:
		return "", fmt.Errorf("unknown job payload %q", job.Payload.Kind)
	}
}

// RunReminderSweep sends today's reminders through the named channel. Each
// reminder carries the keyboard matching the recipient's current session.
func (g *Gateway) RunReminderSweep(ctx context.Context, now time.Time, channelName string) (reminder.Report, error) {
	ch, ok := g.channels.Get(channelName)
	if !ok {
		return reminder.Report{}, fmt.Errorf("reminder channel %q is not enabled", channelName)
	}
	today := now.In(g.loc)
	return g.sweeper.Run(ctx, today, func(ctx context.Context, n reminder.Notification) error {
		kb, err := g.dialog.Keyboard(ctx, n.ChatID)
		if err != nil {
			return err
		}
		return ch.Send(bus.OutboundMessage{
			Channel:  channelName,
			ChatID:   strconv.FormatInt(n.ChatID, 10),
			Content:  n.Text,
			Keyboard: kb,
		})
	})
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	var err error
	if g.store != nil {
		if cerr := g.store.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close store: %w", cerr))
		}
	}
	g.logger.Info("shutdown complete")
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
