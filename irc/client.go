package irc

import (
	"bufio"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/onnwee/kick-bridge/telemetry"
)

// Client is one accepted connection. The connection handle is owned here for
// its whole lifetime; nothing outside the package touches it.
type Client struct {
	id     string
	server *Server
	conn   net.Conn
	nick   string

	// joined channels, guarded by server.mu together with the channel index
	channels map[string]struct{}

	writeMu sync.Mutex
	cleanup sync.Once
}

func (s *Server) newClient(conn net.Conn) *Client {
	c := &Client{
		id:       uuid.New().String(),
		server:   s,
		conn:     conn,
		nick:     "anon",
		channels: make(map[string]struct{}),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	telemetry.SetConnectedClients(len(s.clients))
	s.mu.Unlock()

	if telemetry.ClientsAccepted != nil {
		telemetry.ClientsAccepted.Inc()
	}
	slog.Info("client connected", slog.String("client", c.id), slog.String("remote", conn.RemoteAddr().String()), slog.String("component", "irc"))
	return c
}

// readLoop parses newline-terminated commands until the connection ends.
// Whatever ends it (orderly close or transport error), teardown runs once.
func (c *Client) readLoop() {
	defer c.close()

	if c.server.cfg.Welcome != "" {
		for _, line := range strings.Split(strings.ReplaceAll(c.server.cfg.Welcome, "\r\n", "\n"), "\n") {
			c.writeLine(line)
		}
	}

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		c.handleLine(line)
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("client read error", slog.String("client", c.id), slog.Any("err", err), slog.String("component", "irc"))
	}
}

func (c *Client) handleLine(line string) {
	verb, param, _ := strings.Cut(line, " ")
	verb = strings.ToUpper(verb)
	param = strings.TrimSpace(param)

	switch verb {
	case "JOIN":
		c.handleJoin(param)
	case "PART":
		c.handlePart(param)
	case "CHANNELS":
		c.handleChannels()
	case "PRIVMSG":
		// Local chat is not published back to the remote source.
		slog.Info("privmsg ignored", slog.String("client", c.id), slog.String("nick", c.nick), slog.String("component", "irc"))
	case "NICK":
		if param != "" {
			c.nick = param
		}
	case "CAP", "USER", "PASS", "PING", "PONG":
		// handshake noise from stock IRC clients
	default:
		if telemetry.ProtocolErrors != nil {
			telemetry.ProtocolErrors.Inc()
		}
		c.writeLine("ERROR :Unknown command " + verb)
	}
}

func (c *Client) handleJoin(param string) {
	channel := NormalizeChannel(param)
	if channel == "" {
		if telemetry.ProtocolErrors != nil {
			telemetry.ProtocolErrors.Inc()
		}
		c.writeLine("ERROR :JOIN requires a channel")
		return
	}

	first, err := c.server.join(c, channel)
	if err != nil {
		c.writeLine("ERROR :Cannot join #" + channel + ", " + err.Error())
		return
	}
	c.writeLine("Joining #" + channel + " ...")
	if first {
		c.server.emitActive(channel)
	}
	c.writeLine("Joined #" + channel + " !")
}

func (c *Client) handlePart(param string) {
	channel := NormalizeChannel(param)
	if channel == "" {
		if telemetry.ProtocolErrors != nil {
			telemetry.ProtocolErrors.Inc()
		}
		c.writeLine("ERROR :PART requires a channel")
		return
	}

	c.writeLine("Parting #" + channel + " ...")
	if c.server.part(c, channel) {
		c.server.emitEmpty(channel)
	}
	c.writeLine("Parted #" + channel + " !")
}

func (c *Client) handleChannels() {
	c.server.mu.Lock()
	names := make([]string, 0, len(c.channels))
	for channel := range c.channels {
		names = append(names, "#"+channel)
	}
	c.server.mu.Unlock()

	if len(names) == 0 {
		c.writeLine("No channels joined")
		return
	}
	sort.Strings(names)
	c.writeLine("Channels: " + strings.Join(names, " "))
}

// writeLine sends one complete line. The mutex keeps fan-out writes and
// command replies from interleaving inside a line.
func (c *Client) writeLine(line string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		slog.Debug("client write failed", slog.String("client", c.id), slog.Any("err", err), slog.String("component", "irc"))
	}
}

// close tears the connection down and unwinds membership exactly once,
// whether triggered by EOF, a transport error, or server shutdown.
func (c *Client) close() {
	c.cleanup.Do(func() {
		_ = c.conn.Close()
		emptied := c.server.removeClient(c)
		for _, channel := range emptied {
			c.server.emitEmpty(channel)
		}
		slog.Info("client disconnected", slog.String("client", c.id), slog.String("nick", c.nick), slog.String("component", "irc"))
	})
}
