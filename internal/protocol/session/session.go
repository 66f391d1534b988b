package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/danmuck/cuebridge/internal/logging"
	"github.com/danmuck/cuebridge/internal/protocol"
)

var (
	ErrNotAuthenticated     = errors.New("session: not authenticated")
	ErrAlreadyAuthenticated = errors.New("session: already authenticated")
	ErrAccessDenied         = errors.New("session: access denied")
	ErrHostRequired         = errors.New("session: host required")
	ErrInvalidPort          = errors.New("session: invalid port")
)

// Sender delivers requests and blocks for their correlated replies.
type Sender interface {
	SendAndWait(ctx context.Context, reqs ...protocol.Request) ([]protocol.ReplyOK, error)
}

// State is the handshake lifecycle of one Session.
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateAuthenticated
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Session is the identity of one remote workspace. The workspace id is
// written once, by a successful handshake, and only read afterwards.
type Session struct {
	dict *protocol.Dictionary
	host string
	port int

	mu          sync.RWMutex
	state       State
	workspaceID string
	permissions []string
	denied      error
}

func New(dict *protocol.Dictionary, host string, port int) (*Session, error) {
	if strings.TrimSpace(host) == "" {
		return nil, ErrHostRequired
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if dict == nil {
		dict = protocol.DefaultDictionary()
	}
	return &Session{dict: dict, host: strings.TrimSpace(host), port: port}, nil
}

func (s *Session) Dictionary() *protocol.Dictionary {
	return s.dict
}

func (s *Session) Host() string {
	return s.host
}

func (s *Session) Port() int {
	return s.port
}

// EngineAddr is the engine's host:port.
func (s *Session) EngineAddr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Authenticated() bool {
	return s.State() == StateAuthenticated
}

// WorkspaceID returns the engine-issued id once the handshake succeeded.
func (s *Session) WorkspaceID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspaceID, s.state == StateAuthenticated
}

func (s *Session) Permissions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.permissions))
	copy(out, s.permissions)
	return out
}

// Authenticate runs the connect handshake through sender. Access denial is
// terminal for this Session; transport failures and timeouts leave it idle so
// the caller may retry.
func (s *Session) Authenticate(ctx context.Context, sender Sender, password string) (string, error) {
	if err := s.begin(); err != nil {
		return "", err
	}

	connect, err := s.connectMessage(password)
	if err != nil {
		s.reset()
		return "", err
	}
	replies, err := sender.SendAndWait(ctx, protocol.Request{Message: connect, ExpectReply: true})
	if err != nil {
		var cred *protocol.CredentialError
		if errors.As(err, &cred) {
			return "", s.deny(cred.Address, cred.Data)
		}
		s.reset()
		return "", err
	}
	if len(replies) == 0 {
		s.reset()
		return "", fmt.Errorf("%w: no connect reply", protocol.ErrMalformedReply)
	}

	reply := replies[0]
	permissions, ok := ParsePermissions(reply.Data)
	if !ok {
		return "", s.deny(reply.Source(), reply.Data)
	}
	workspaceID := strings.TrimSpace(reply.WorkspaceID)
	if workspaceID == "" {
		return "", s.deny(reply.Source(), "missing workspace_id")
	}

	s.mu.Lock()
	s.state = StateAuthenticated
	s.workspaceID = workspaceID
	s.permissions = permissions
	s.mu.Unlock()

	logging.Infof(
		"session.Session.Authenticate ok engine=%q workspace_id=%q permissions=%q",
		s.EngineAddr(),
		workspaceID,
		strings.Join(permissions, ","),
	)
	return workspaceID, nil
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateAuthenticating, StateAuthenticated:
		return fmt.Errorf("%w: state=%s", ErrAlreadyAuthenticated, s.state)
	case StateDenied:
		return s.denied
	}
	s.state = StateAuthenticating
	return nil
}

func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAuthenticating {
		s.state = StateIdle
	}
}

func (s *Session) deny(address, data string) error {
	err := &protocol.CredentialError{Err: ErrAccessDenied, Address: address, Data: data}
	s.mu.Lock()
	s.state = StateDenied
	s.denied = err
	s.mu.Unlock()
	logging.Warnf("session.Session.Authenticate denied engine=%q address=%q", s.EngineAddr(), address)
	return err
}

func (s *Session) connectMessage(password string) (protocol.Message, error) {
	address, err := s.dict.Resolve(protocol.SymbolConnect)
	if err != nil {
		return protocol.Message{}, err
	}
	if password == "" {
		return protocol.NewMessage(address)
	}
	return protocol.NewMessage(address, password)
}

// ParsePermissions splits the connect reply's colon-delimited data. At least
// two non-empty segments are required; "ok:view|edit|control" yields
// [view edit control].
func ParsePermissions(data string) ([]string, bool) {
	segments := make([]string, 0, 2)
	for _, segment := range strings.Split(data, ":") {
		if segment = strings.TrimSpace(segment); segment != "" {
			segments = append(segments, segment)
		}
	}
	if len(segments) < 2 {
		return nil, false
	}
	permissions := make([]string, 0, len(segments))
	for _, segment := range segments[1:] {
		for _, p := range strings.Split(segment, "|") {
			if p = strings.TrimSpace(p); p != "" {
				permissions = append(permissions, p)
			}
		}
	}
	return permissions, true
}

// Root is the workspace root address, e.g. "/workspace/<id>".
func (s *Session) Root() (string, error) {
	id, ok := s.WorkspaceID()
	if !ok {
		return "", ErrNotAuthenticated
	}
	workspace, err := s.dict.Resolve(protocol.SymbolWorkspace)
	if err != nil {
		return "", err
	}
	return workspace + "/" + id, nil
}

// TargetAddress scopes relative to the authenticated workspace. An empty
// relative path yields the workspace root.
func (s *Session) TargetAddress(relative string) (string, error) {
	root, err := s.Root()
	if err != nil {
		return "", err
	}
	if relative == "" {
		return root, nil
	}
	if err := protocol.ValidateAddress(relative); err != nil {
		return "", err
	}
	return root + relative, nil
}

// IsTargetAddress reports whether address lives under the current workspace.
func (s *Session) IsTargetAddress(address string) bool {
	root, err := s.Root()
	if err != nil {
		return false
	}
	return address == root || strings.HasPrefix(address, root+"/")
}

// StripTarget is the inverse of TargetAddress.
func (s *Session) StripTarget(address string) (string, bool) {
	root, err := s.Root()
	if err != nil {
		return "", false
	}
	if address == root {
		return "", true
	}
	if !strings.HasPrefix(address, root+"/") {
		return "", false
	}
	return strings.TrimPrefix(address, root), true
}
