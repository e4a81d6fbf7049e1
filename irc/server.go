// Package irc exposes the local line-protocol server clients connect to. It
// owns per-client channel membership and the channel→members index, and
// notifies the bridge when a channel gains its first member or loses its last.
package irc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/onnwee/kick-bridge/telemetry"
)

type Config struct {
	Addr        string
	MaxChannels int
	Welcome     string
}

// Server accepts client connections and routes their commands. The channel
// index and client list are guarded by one mutex; per-client socket writes
// are serialized separately so fan-out lines never interleave with replies.
type Server struct {
	cfg Config

	onActive func(channel string)
	onEmpty  func(channel string)

	mu       sync.Mutex
	ln       net.Listener
	clients  map[*Client]struct{}
	channels map[string]map[*Client]struct{}
}

func NewServer(cfg Config) *Server {
	return &Server{
		cfg:      cfg,
		clients:  make(map[*Client]struct{}),
		channels: make(map[string]map[*Client]struct{}),
	}
}

// OnChannelActive registers the callback fired when a channel gains its first
// member. Must be set before Serve.
func (s *Server) OnChannelActive(fn func(channel string)) { s.onActive = fn }

// OnChannelEmpty registers the callback fired when a channel loses its last
// member. Must be set before Serve.
func (s *Server) OnChannelEmpty(fn func(channel string)) { s.onEmpty = fn }

// Listen binds the configured address. A bind failure is the one fatal
// startup error the process has.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	slog.Info("listening", slog.String("addr", ln.Addr().String()), slog.String("component", "irc"))
	return nil
}

// Addr returns the bound listener address (useful with ":0" in tests).
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}
		c := s.newClient(conn)
		go c.readLoop()
	}
}

// FanOut writes a chat line attributing message to sender to every member of
// channel. Delivery to a channel with no members is a silent no-op; that race
// is expected when the last member parts while an event is in flight.
func (s *Server) FanOut(channel, sender, message string) {
	name := NormalizeChannel(channel)

	s.mu.Lock()
	members := make([]*Client, 0, len(s.channels[name]))
	for c := range s.channels[name] {
		members = append(members, c)
	}
	s.mu.Unlock()

	if len(members) == 0 {
		return
	}
	line := fmt.Sprintf(":%s PRIVMSG #%s :%s", sender, name, message)
	for _, c := range members {
		c.writeLine(line)
	}
}

// ClientCount reports how many clients are connected.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Channels returns member counts per active channel.
func (s *Server) Channels() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.channels))
	for name, members := range s.channels {
		out[name] = len(members)
	}
	return out
}

// NormalizeChannel strips a leading '#' and lowercases the name so "#XQC",
// "xqc" and "#xqc" all index the same channel.
func NormalizeChannel(name string) string {
	return strings.ToLower(strings.TrimPrefix(name, "#"))
}

// join adds c to channel and reports whether it became active (first member).
func (s *Server) join(c *Client, channel string) (first bool, err error) {
	s.mu.Lock()
	if _, ok := c.channels[channel]; ok {
		// Re-joining a joined channel is harmless.
		s.mu.Unlock()
		return false, nil
	}
	if len(c.channels) >= s.cfg.MaxChannels {
		s.mu.Unlock()
		return false, fmt.Errorf("channel limit %d reached", s.cfg.MaxChannels)
	}
	c.channels[channel] = struct{}{}
	members, ok := s.channels[channel]
	if !ok {
		members = make(map[*Client]struct{})
		s.channels[channel] = members
		first = true
	}
	members[c] = struct{}{}
	// Published under the lock so racing updates cannot land out of order.
	telemetry.SetActiveChannels(len(s.channels))
	s.mu.Unlock()
	return first, nil
}

// part removes c from channel and reports whether the channel emptied.
func (s *Server) part(c *Client, channel string) (emptied bool) {
	s.mu.Lock()
	delete(c.channels, channel)
	if members, ok := s.channels[channel]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(s.channels, channel)
			emptied = true
		}
	}
	telemetry.SetActiveChannels(len(s.channels))
	s.mu.Unlock()
	return emptied
}

// removeClient drops c from every channel and the client list, returning the
// channels that emptied as a result. Runs exactly once per connection.
func (s *Server) removeClient(c *Client) (emptied []string) {
	s.mu.Lock()
	delete(s.clients, c)
	for channel := range c.channels {
		delete(c.channels, channel)
		if members, ok := s.channels[channel]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(s.channels, channel)
				emptied = append(emptied, channel)
			}
		}
	}
	telemetry.SetConnectedClients(len(s.clients))
	telemetry.SetActiveChannels(len(s.channels))
	s.mu.Unlock()

	sort.Strings(emptied)
	return emptied
}

func (s *Server) emitActive(channel string) {
	if s.onActive != nil {
		s.onActive(channel)
	}
}

func (s *Server) emitEmpty(channel string) {
	if s.onEmpty != nil {
		s.onEmpty(channel)
	}
}
