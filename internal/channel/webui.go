package channel

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/stellarlinkco/remindme/internal/bus"
	"github.com/stellarlinkco/remindme/internal/config"
)

//go:embed static
var staticFiles embed.FS

const webUIChannelName = "webui"

type wsMessage struct {
	Type     string     `json:"type"`
	Content  string     `json:"content,omitempty"`
	Keyboard [][]string `json:"keyboard,omitempty"`
}

type wsClient struct {
	conn   *websocket.Conn
	id     string
	chatID string
}

// WebUIChannel is a browser chat console. Each websocket connection speaks
// for one chat id, taken from the ?chat= query parameter.
type WebUIChannel struct {
	BaseChannel
	host        string
	port        int
	defaultChat int64
	server      *http.Server
	clients     sync.Map
	nextID      atomic.Int64
	ctx         context.Context
}

// NewWebUIChannel refuses a non-loopback host without an allow list: any
// caller could otherwise pick any chat id.
func NewWebUIChannel(cfg config.WebUIConfig, b *bus.MessageBus) (*WebUIChannel, error) {
	host := cfg.Host
	if host == "" {
		host = config.DefaultWebUIHost
	}
	if !isLoopback(host) && len(cfg.AllowFrom) == 0 {
		return nil, fmt.Errorf("webui host %q is not loopback: set webui.allowFrom", host)
	}
	port := cfg.Port
	if port == 0 {
		port = config.DefaultWebUIPort
	}
	chat := cfg.ChatID
	if chat == 0 {
		chat = config.DefaultWebUIChatID
	}
	return &WebUIChannel{
		BaseChannel: NewBaseChannel(webUIChannelName, b, cfg.AllowFrom),
		host:        host,
		port:        port,
		defaultChat: chat,
		ctx:         context.Background(),
	}, nil
}

// Handler serves the console page and the websocket endpoint.
func (w *WebUIChannel) Handler() (http.Handler, error) {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("embed static fs: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", w.handleWS)
	return mux, nil
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	handler, err := w.Handler()
	if err != nil {
		return err
	}
	w.ctx = ctx

	ln, err := net.Listen("tcp", net.JoinHostPort(w.host, strconv.Itoa(w.port)))
	if err != nil {
		return fmt.Errorf("listen webui: %w", err)
	}
	w.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		w.logger.Info("listening", "addr", ln.Addr().String())
		if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("server error", "err", err)
		}
	}()

	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (w *WebUIChannel) chatFor(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("chat")
	if raw == "" {
		return strconv.FormatInt(w.defaultChat, 10), nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", fmt.Errorf("chat must be an integer: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	chatID, err := w.chatFor(r)
	if err != nil {
		http.Error(wr, err.Error(), http.StatusBadRequest)
		return
	}
	if !w.IsAllowed(chatID) {
		w.logger.Warn("rejected connection", "chat", chatID)
		http.Error(wr, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		w.logger.Error("websocket accept", "err", err)
		return
	}

	clientID := fmt.Sprintf("webui-%d", w.nextID.Add(1))
	w.clients.Store(clientID, &wsClient{conn: conn, id: clientID, chatID: chatID})
	w.logger.Info("client connected", "client", clientID, "chat", chatID)

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		w.logger.Info("client disconnected", "client", clientID)
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "message" || msg.Content == "" {
			continue
		}

		err = w.bus.PublishInbound(w.ctx, bus.InboundMessage{
			Channel:   webUIChannelName,
			SenderID:  chatID,
			ChatID:    chatID,
			Content:   msg.Content,
			Timestamp: time.Now(),
			Metadata: map[string]any{
				bus.MetaFirstName: "Web",
				bus.MetaUserName:  clientID,
			},
		})
		if err != nil {
			return
		}
	}
}

// Send writes the message to every connection of the target chat. A chat
// with no open connection drops the message.
func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	data, err := json.Marshal(wsMessage{
		Type:     "message",
		Content:  msg.Content,
		Keyboard: msg.Keyboard,
	})
	if err != nil {
		return err
	}

	var errs []error
	delivered := 0
	w.clients.Range(func(_, value any) bool {
		c := value.(*wsClient)
		if c.chatID != msg.ChatID {
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.id, err))
			return true
		}
		delivered++
		return true
	})
	if delivered == 0 && len(errs) == 0 {
		w.logger.Debug("no client for chat, message dropped", "chat", msg.ChatID)
	}
	return errors.Join(errs...)
}

func (w *WebUIChannel) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			w.logger.Error("shutdown", "err", err)
		}
	}
	w.clients.Range(func(_, value any) bool {
		value.(*wsClient).conn.CloseNow()
		return true
	})
	w.logger.Info("stopped")
	return nil
}
