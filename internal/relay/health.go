package relay

import "github.com/danmuck/cuebridge/internal/transport"

// Health is the relay status served on /healthz.
type Health struct {
	Authenticated bool     `json:"authenticated"`
	WorkspaceID   string   `json:"workspace_id,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	Engine        string   `json:"engine"`
	Pending       int      `json:"pending"`
	Clients       int      `json:"clients"`
}

type clientCounter interface {
	Clients() int
}

func (r *Relay) Health() Health {
	id, ok := r.session.WorkspaceID()
	h := Health{
		Authenticated: ok,
		WorkspaceID:   id,
		Permissions:   r.session.Permissions(),
		Engine:        r.session.EngineAddr(),
		Pending:       r.corr.Pending(),
	}
	if ch, found := r.channel(transport.SideClient); found {
		if counter, isCounter := ch.(clientCounter); isCounter {
			h.Clients = counter.Clients()
		}
	}
	return h
}
