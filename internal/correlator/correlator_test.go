package correlator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/cuebridge/internal/protocol"
	"github.com/danmuck/cuebridge/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replyMessage(t *testing.T, address, status, data string) protocol.Message {
	t.Helper()
	text, err := protocol.EncodeReplyText(status, address, "W1", data)
	require.NoError(t, err)
	return protocol.MustMessage(address, text)
}

func wildcard(address string) Expectation {
	return Expectation{Pattern: protocol.WildcardPattern("/reply" + address)}
}

func TestRegisterWithoutExpectationsResolvesImmediately(t *testing.T) {
	testlog.Start(t)
	c := New(Config{Timeout: time.Hour})

	call, err := c.Register()
	require.NoError(t, err)
	require.True(t, call.Resolved())

	replies, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.Empty(t, replies)
	assert.Equal(t, 0, c.Pending())
}

func TestCallResolvesAfterExactlyNReplies(t *testing.T) {
	testlog.Start(t)
	c := New(Config{Timeout: time.Hour})
	call, err := c.Register(wildcard("/a"), wildcard("/b"), wildcard("/c"))
	require.NoError(t, err)
	require.Equal(t, 3, c.Pending())

	require.True(t, c.Observe(replyMessage(t, "/reply/b", protocol.StatusOK, "B")))
	require.False(t, call.Resolved())
	require.True(t, c.Observe(replyMessage(t, "/reply/a/sub", protocol.StatusOK, "A")))
	require.False(t, call.Resolved())
	require.True(t, c.Observe(replyMessage(t, "/reply/c", protocol.StatusOK, "C")))
	require.True(t, call.Resolved())

	replies, err := call.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, replies, 3)
	// arrival order, not registration order
	assert.Equal(t, []string{"B", "A", "C"}, []string{replies[0].Data, replies[1].Data, replies[2].Data})
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, 0, c.Calls())
}

func TestExpectationCountAboveOne(t *testing.T) {
	testlog.Start(t)
	c := New(Config{Timeout: time.Hour})
	call, err := c.Register(Expectation{Pattern: protocol.WildcardPattern("/reply/cueLists"), Count: 2})
	require.NoError(t, err)

	require.True(t, c.Observe(replyMessage(t, "/reply/cueLists", protocol.StatusOK, "1")))
	require.False(t, call.Resolved())
	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].Received)
	assert.Equal(t, 2, snap[0].Expected)

	require.True(t, c.Observe(replyMessage(t, "/reply/cueLists", protocol.StatusOK, "2")))
	require.True(t, call.Resolved())
	require.False(t, c.Observe(replyMessage(t, "/reply/cueLists", protocol.StatusOK, "3")), "received must never exceed expected")

	_, err = c.Register(Expectation{Pattern: protocol.WildcardPattern("/reply/x"), Count: -1})
	require.ErrorIs(t, err, ErrInvalidCount)
}

func TestOneReplyForMixedBatch(t *testing.T) {
	testlog.Start(t)
	c := New(Config{Timeout: time.Hour})
	// only the first of two messages expects a reply
	call, err := c.Register(wildcard("/workspace/W1/new"))
	require.NoError(t, err)

	require.True(t, c.Observe(replyMessage(t, "/reply/workspace/W1/new", protocol.StatusOK, "CUE-1")))
	replies, err := call.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "CUE-1", replies[0].Data)
}

func TestDeniedReplyRevokesWholeBatch(t *testing.T) {
	testlog.Start(t)
	c := New(Config{Timeout: time.Hour})
	call, err := c.Register(wildcard("/new"), wildcard("/cue/selected/name"))
	require.NoError(t, err)

	require.True(t, c.Observe(replyMessage(t, "/reply/new", protocol.StatusDenied, "")))
	require.True(t, call.Resolved())

	_, err = call.Wait(context.Background())
	require.ErrorIs(t, err, ErrAccessRevoked)
	var cred *protocol.CredentialError
	require.True(t, errors.As(err, &cred))
	assert.Equal(t, "/reply/new", cred.Address)
	assert.Equal(t, 0, c.Pending(), "sibling expectations must be purged")
	assert.False(t, c.Observe(replyMessage(t, "/reply/cue/selected/name", protocol.StatusOK, "x")))
}

func TestErrorReplyFailsSend(t *testing.T) {
	testlog.Start(t)
	c := New(Config{Timeout: time.Hour})
	call, err := c.Register(wildcard("/new"))
	require.NoError(t, err)

	require.True(t, c.Observe(replyMessage(t, "/reply/new", protocol.StatusError, "unknown cue type")))
	_, err = call.Wait(context.Background())
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "unknown cue type")
}

func TestMalformedReplyFailsSend(t *testing.T) {
	testlog.Start(t)
	c := New(Config{Timeout: time.Hour})
	call, err := c.Register(wildcard("/new"))
	require.NoError(t, err)

	require.True(t, c.Observe(protocol.MustMessage("/reply/new", "{not json")))
	_, err = call.Wait(context.Background())
	require.ErrorIs(t, err, ErrSendFailed)
}

func TestTimeoutThenLateReplyIgnored(t *testing.T) {
	testlog.Start(t)
	var resolved atomic.Int32
	c := New(Config{
		Timeout:   20 * time.Millisecond,
		OnResolve: func(*Call) { resolved.Add(1) },
	})
	call, err := c.Register(wildcard("/new"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = call.Wait(ctx)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, c.Pending())

	require.NotPanics(t, func() {
		assert.False(t, c.Observe(replyMessage(t, "/reply/new", protocol.StatusOK, "late")))
	})
	_, err = call.Result()
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(1), resolved.Load())
}

func TestUnmatchedReplyNotConsumed(t *testing.T) {
	testlog.Start(t)
	c := New(Config{Timeout: time.Hour})
	_, err := c.Register(wildcard("/workspace/W1/new"))
	require.NoError(t, err)

	assert.False(t, c.Observe(replyMessage(t, "/reply/workspace/W2/new", protocol.StatusOK, "x")))
	assert.False(t, c.Observe(replyMessage(t, "/reply/workspace/W1/newer", protocol.StatusOK, "x")))
	assert.False(t, c.Matches("/reply/workspace/W1/newer"))
	assert.True(t, c.Matches("/reply/workspace/W1/new/extra"))
	assert.Equal(t, 1, c.Pending())
}

func TestFailAndClose(t *testing.T) {
	testlog.Start(t)
	c := New(Config{Timeout: time.Hour})
	first, err := c.Register(wildcard("/a"))
	require.NoError(t, err)
	second, err := c.Register(wildcard("/b"))
	require.NoError(t, err)

	boom := errors.New("relay: transport error")
	c.Fail(first, boom)
	_, err = first.Wait(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, c.Pending())

	c.Close()
	_, err = second.Wait(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	_, err = c.Register(wildcard("/c"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestWaitHonorsContext(t *testing.T) {
	testlog.Start(t)
	c := New(Config{Timeout: time.Hour})
	call, err := c.Register(wildcard("/a"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = call.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, call.Resolved(), "ctx cancellation must not resolve the call")
	assert.Equal(t, 1, c.Pending())
}

func TestOverlappingPatternsMostSpecificWins(t *testing.T) {
	testlog.Start(t)
	c := New(Config{Timeout: time.Hour})
	wide, err := c.Register(Expectation{Pattern: protocol.WildcardPattern("/reply/workspace/W1")})
	require.NoError(t, err)
	narrow, err := c.Register(Expectation{Pattern: protocol.WildcardPattern("/reply/workspace/W1/cue")})
	require.NoError(t, err)

	require.True(t, c.Observe(replyMessage(t, "/reply/workspace/W1/cue/name", protocol.StatusOK, "n")))
	assert.True(t, narrow.Resolved())
	assert.False(t, wide.Resolved(), "one reply must satisfy exactly one expectation")

	require.True(t, c.Observe(replyMessage(t, "/reply/workspace/W1/cue/name", protocol.StatusOK, "w")))
	assert.True(t, wide.Resolved())
}

// Property: for random sets of overlapping patterns, every reply is consumed
// by exactly one expectation, and that expectation is the most specific
// active match (oldest on ties).
func TestOverlappingPatternsProperty(t *testing.T) {
	testlog.Start(t)
	segments := []string{"workspace", "W1", "cue", "name"}
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		c := New(Config{Timeout: time.Hour})
		type registered struct {
			pattern protocol.MatchPattern
			call    *Call
		}
		var regs []registered
		for i := 0; i < 1+rng.Intn(6); i++ {
			depth := 1 + rng.Intn(len(segments))
			address := "/reply"
			for _, seg := range segments[:depth] {
				address += "/" + seg
			}
			pattern := protocol.WildcardPattern(address)
			if rng.Intn(3) == 0 {
				pattern = protocol.ExactPattern(address)
			}
			call, err := c.Register(Expectation{Pattern: pattern})
			require.NoError(t, err)
			regs = append(regs, registered{pattern: pattern, call: call})
		}

		for shot := 0; shot < 8; shot++ {
			depth := 1 + rng.Intn(len(segments))
			address := "/reply"
			for _, seg := range segments[:depth] {
				address += "/" + seg
			}

			want := -1
			for i, reg := range regs {
				if reg.call.Resolved() || !reg.pattern.Matches(address) {
					continue
				}
				if want == -1 || reg.pattern.MoreSpecificThan(regs[want].pattern) {
					want = i
				}
			}
			before := make([]bool, len(regs))
			for i, reg := range regs {
				before[i] = reg.call.Resolved()
			}

			consumed := c.Observe(replyMessage(t, address, protocol.StatusOK, fmt.Sprint(shot)))
			require.Equal(t, want != -1, consumed, "round=%d address=%s", round, address)

			changed := 0
			for i, reg := range regs {
				if reg.call.Resolved() != before[i] {
					changed++
					require.Equal(t, want, i, "round=%d address=%s resolved the wrong expectation", round, address)
				}
			}
			if consumed {
				require.Equal(t, 1, changed, "round=%d address=%s", round, address)
			} else {
				require.Equal(t, 0, changed)
			}
		}
	}
}
