package cues

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/cuebridge/internal/correlator"
	"github.com/danmuck/cuebridge/internal/logging"
	"github.com/danmuck/cuebridge/internal/protocol"
)

// Sender is the relay's send path as seen by cue producers.
type Sender interface {
	Send(ctx context.Context, reqs ...protocol.Request) (*correlator.Call, error)
}

// Pusher sends cues one batch per cue, in file order.
type Pusher struct {
	sender Sender
	dict   *protocol.Dictionary
}

func NewPusher(sender Sender, dict *protocol.Dictionary) *Pusher {
	if dict == nil {
		dict = protocol.DefaultDictionary()
	}
	return &Pusher{sender: sender, dict: dict}
}

// PushResult counts what a push did.
type PushResult struct {
	Created int
	Updated int
	Skipped int
}

// Push sends every cue and stores the engine id on cues it created. It stops
// at the first failed batch; cues before it keep their new ids so the caller
// can save partial progress.
func (p *Pusher) Push(ctx context.Context, list []Cue) (PushResult, error) {
	var result PushResult
	for i := range list {
		list[i] = list[i].WithDefaults()
		cue := &list[i]
		reqs, err := cue.Actions(p.dict)
		if err != nil {
			return result, fmt.Errorf("cues[%d]: %w", i, err)
		}
		if len(reqs) == 0 {
			result.Skipped++
			continue
		}

		call, err := p.sender.Send(ctx, reqs...)
		if err != nil {
			return result, fmt.Errorf("cues[%d] send: %w", i, err)
		}
		replies, err := call.Wait(ctx)
		if err != nil {
			return result, fmt.Errorf("cues[%d] %q: %w", i, cue.Name, err)
		}

		if !cue.IsNew() {
			result.Updated++
			continue
		}
		if len(replies) == 0 || strings.TrimSpace(replies[0].Data) == "" {
			return result, fmt.Errorf("cues[%d] %q: %w: /new reply carried no id", i, cue.Name, protocol.ErrMalformedReply)
		}
		cue.ID = strings.TrimSpace(replies[0].Data)
		result.Created++
		logging.Infof("cues.Pusher.Push created number=%q name=%q id=%q", cue.Number, cue.Name, cue.ID)
	}
	logging.Infof("cues.Pusher.Push done created=%d updated=%d skipped=%d", result.Created, result.Updated, result.Skipped)
	return result, nil
}

// Pull requests the workspace cue lists and flattens them into a
// number -> uniqueID mapping.
func (p *Pusher) Pull(ctx context.Context) (map[string]string, error) {
	address, err := p.dict.Resolve(protocol.SymbolCueLists)
	if err != nil {
		return nil, err
	}
	msg, err := protocol.NewMessage(address)
	if err != nil {
		return nil, err
	}
	call, err := p.sender.Send(ctx, protocol.Request{Message: msg, ExpectReply: true, Scoped: true})
	if err != nil {
		return nil, err
	}
	replies, err := call.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if len(replies) == 0 {
		return nil, fmt.Errorf("%w: no cue list reply", protocol.ErrMalformedReply)
	}
	return MappingFromReply(replies[0])
}
