package chat

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatcher_Open_GreetsOnlyNewSession(t *testing.T) {
	req := require.New(t)
	r := newRelay()
	existing := r.connect(t)
	r.dispatcher.Dispatch(existing, chatFrame(t, "Alice", "hi"))
	drain(t, existing)

	s := newTestSession(8)
	r.dispatcher.Open(s)

	envs := drain(t, s)
	req.Equal([]MessageType{TypeSystem, TypeOnlineCount}, types(envs))
	req.Equal(welcomeText, envs[0].Text)
	req.Equal(1, *envs[1].Count)
	req.NotZero(envs[0].Timestamp)

	req.Empty(drain(t, existing))
	req.Equal(StateUnbound, s.State())
}

func TestDispatcher_ThreeSessionScenario(t *testing.T) {
	req := require.New(t)
	r := newRelay()
	a, b, c := r.connect(t), r.connect(t), r.connect(t)

	msg := chatFrame(t, "Alice", "hi")
	r.dispatcher.Dispatch(a, msg)

	for _, s := range []*Session{a, b, c} {
		frames := drainRaw(s)
		req.Len(frames, 3)

		envs := decode(t, frames)
		req.Equal(TypeSystem, envs[0].Type)
		req.Equal("Alice joined the chat", envs[0].Text)
		req.Equal(TypeOnlineCount, envs[1].Type)
		req.Equal(1, *envs[1].Count)

		// The chat frame is echoed verbatim, sender included.
		req.Equal(msg, frames[2])
	}
	req.Equal(StateBound, a.State())

	// B leaves without ever speaking: nothing is broadcast.
	r.dispatcher.Close(b)

	req.Empty(drainRaw(a))
	req.Empty(drainRaw(c))
	req.Equal(1, r.registry.OnlineCount())
	req.Equal(2, r.registry.Len())
}

func TestDispatcher_InvalidChatMessage_Dropped(t *testing.T) {
	cases := map[string][]byte{
		"empty text":       chatFrame(t, "Alice", ""),
		"empty username":   chatFrame(t, "", "hi"),
		"missing text":     []byte(`{"type":"chat-message","username":"Alice"}`),
		"missing username": []byte(`{"type":"chat-message","text":"hi"}`),
		"numeric username": []byte(`{"type":"chat-message","username":42,"text":"hi"}`),
		"object text":      []byte(`{"type":"chat-message","username":"Alice","text":{"a":1}}`),
		"null username":    []byte(`{"type":"chat-message","username":null,"text":"hi"}`),
	}

	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			r := newRelay()
			a, b := r.connect(t), r.connect(t)

			r.dispatcher.Dispatch(a, msg)

			require.Empty(t, drain(t, a))
			require.Empty(t, drain(t, b))
			require.Zero(t, r.registry.OnlineCount())
			require.Equal(t, StateUnbound, a.State())
		})
	}
}

func TestDispatcher_InvalidTyping_Dropped(t *testing.T) {
	cases := map[string][]byte{
		"missing isTyping": []byte(`{"type":"typing","username":"Alice"}`),
		"null isTyping":    []byte(`{"type":"typing","username":"Alice","isTyping":null}`),
		"empty username":   typingFrame(t, "", true),
		"string isTyping":  []byte(`{"type":"typing","username":"Alice","isTyping":"yes"}`),
		"numeric isTyping": []byte(`{"type":"typing","username":"Alice","isTyping":1}`),
		"numeric username": []byte(`{"type":"typing","username":42,"isTyping":true}`),
	}

	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			r := newRelay()
			a, b := r.connect(t), r.connect(t)

			r.dispatcher.Dispatch(a, msg)

			require.Empty(t, drain(t, a))
			require.Empty(t, drain(t, b))
			require.Zero(t, r.registry.OnlineCount())
		})
	}
}

func TestDispatcher_Typing_NotEchoedToSender(t *testing.T) {
	req := require.New(t)
	r := newRelay()
	a, b, c := r.connect(t), r.connect(t), r.connect(t)

	msg := typingFrame(t, "Alice", true)
	r.dispatcher.Dispatch(a, msg)

	// The first typing event binds the session and announces the join to everyone.
	req.Equal([]MessageType{TypeSystem, TypeOnlineCount}, types(drain(t, a)))
	for _, s := range []*Session{b, c} {
		frames := drainRaw(s)
		req.Len(frames, 3)
		req.Equal(msg, frames[2])
	}

	// Later typing events only reach the others.
	stop := typingFrame(t, "Alice", false)
	r.dispatcher.Dispatch(a, stop)

	req.Empty(drainRaw(a))
	req.Equal([][]byte{stop}, drainRaw(b))
	req.Equal([][]byte{stop}, drainRaw(c))
}

func TestDispatcher_JoinAnnouncedOnce(t *testing.T) {
	req := require.New(t)
	r := newRelay()
	a, b := r.connect(t), r.connect(t)

	r.dispatcher.Dispatch(a, typingFrame(t, "Alice", true))
	r.dispatcher.Dispatch(a, chatFrame(t, "Alice", "one"))
	r.dispatcher.Dispatch(a, chatFrame(t, "Alice", "two"))
	r.dispatcher.Dispatch(a, typingFrame(t, "Alice", false))

	envs := drain(t, b)
	req.Equal([]MessageType{
		TypeSystem, TypeOnlineCount,
		TypeTyping, TypeChatMessage, TypeChatMessage, TypeTyping,
	}, types(envs))
	req.Equal(1, r.registry.OnlineCount())
}

func TestDispatcher_RenameIsSilent(t *testing.T) {
	req := require.New(t)
	r := newRelay()
	a, b := r.connect(t), r.connect(t)

	r.dispatcher.Dispatch(a, chatFrame(t, "Alice", "hi"))
	drain(t, b)

	r.dispatcher.Dispatch(a, chatFrame(t, "Alicia", "new name"))
	req.Equal([]MessageType{TypeChatMessage}, types(drain(t, b)))

	identity, _ := r.registry.identityOf(a)
	req.Equal("Alicia", identity)

	// The leave notice uses the latest name.
	r.dispatcher.Close(a)
	envs := drain(t, b)
	req.Equal("Alicia left the chat", envs[0].Text)
}

func TestDispatcher_MalformedFrame(t *testing.T) {
	for _, msg := range []string{"{not json", "", `"hello"`, `[1,2]`, `42`} {
		t.Run(msg, func(t *testing.T) {
			r := newRelay()
			a, b := r.connect(t), r.connect(t)

			r.dispatcher.Dispatch(a, []byte(msg))

			envs := drain(t, a)
			require.Len(t, envs, 1)
			require.Equal(t, TypeError, envs[0].Type)
			require.Equal(t, "Failed to process message", envs[0].Text)

			require.Empty(t, drain(t, b))
			require.Equal(t, 2, r.registry.Len())
			require.Zero(t, r.registry.OnlineCount())
		})
	}
}

func TestDispatcher_UnknownType_Ignored(t *testing.T) {
	r := newRelay()
	a, b := r.connect(t), r.connect(t)

	r.dispatcher.Dispatch(a, []byte(`{"type":"system","username":"Alice","text":"spoof"}`))
	r.dispatcher.Dispatch(a, []byte(`{"username":"Alice","text":"no type"}`))
	r.dispatcher.Dispatch(a, []byte(`null`))
	r.dispatcher.Dispatch(a, []byte(`{"type":42,"username":"Alice","text":"hi"}`))

	require.Empty(t, drain(t, a))
	require.Empty(t, drain(t, b))
	require.Zero(t, r.registry.OnlineCount())
}

func TestDispatcher_Close_Bound(t *testing.T) {
	req := require.New(t)
	r := newRelay()
	a, b := r.connect(t), r.connect(t)
	r.dispatcher.Dispatch(a, chatFrame(t, "Alice", "hi"))
	r.dispatcher.Dispatch(b, chatFrame(t, "Bob", "hey"))
	drain(t, a)
	drain(t, b)

	r.dispatcher.Close(a)

	envs := drain(t, b)
	req.Equal([]MessageType{TypeSystem, TypeOnlineCount}, types(envs))
	req.Equal("Alice left the chat", envs[0].Text)
	req.Equal(1, *envs[1].Count)

	// Closing again does nothing.
	r.dispatcher.Close(a)
	req.Empty(drain(t, b))
}

func TestDispatcher_Close_Unbound(t *testing.T) {
	r := newRelay()
	a, b := r.connect(t), r.connect(t)

	r.dispatcher.Close(a)

	require.Empty(t, drain(t, b))
	require.Equal(t, 1, r.registry.Len())
}

func TestDispatcher_OnlineCountMatchesBoundSessions(t *testing.T) {
	r := newRelay()
	rng := rand.New(rand.NewSource(42))

	var live []*Session
	bound := make(map[*Session]bool)

	for step := 0; step < 500; step++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(live) == 0:
			s := newTestSession(1024)
			r.dispatcher.Open(s)
			live = append(live, s)

		case op == 1:
			s := live[rng.Intn(len(live))]
			if rng.Intn(2) == 0 {
				r.dispatcher.Dispatch(s, chatFrame(t, fmt.Sprintf("user-%d", step), "hi"))
			} else {
				r.dispatcher.Dispatch(s, typingFrame(t, fmt.Sprintf("user-%d", step), true))
			}
			bound[s] = true

		default:
			i := rng.Intn(len(live))
			s := live[i]
			r.dispatcher.Close(s)
			delete(bound, s)
			live = append(live[:i], live[i+1:]...)
		}

		for _, s := range live {
			drainRaw(s)
		}

		require.Equal(t, len(bound), r.registry.OnlineCount(), "step %d", step)
		require.Equal(t, len(live), r.registry.Len(), "step %d", step)
	}
}

func TestDispatcher_ConcurrentSessions(t *testing.T) {
	r := newRelay()
	const sessions = 20

	all := make([]*Session, sessions)
	for i := range all {
		all[i] = newTestSession(4096)
		r.dispatcher.Open(all[i])
	}

	var wg sync.WaitGroup
	for i, s := range all {
		i, s := i, s
		name := fmt.Sprintf("user-%d", i)
		typing, msg := typingFrame(t, name, true), chatFrame(t, name, "hello")

		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				r.dispatcher.Dispatch(s, typing)
				r.dispatcher.Dispatch(s, msg)
			}
			if i%2 == 0 {
				r.dispatcher.Close(s)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, sessions/2, r.registry.OnlineCount())
	require.Equal(t, sessions/2, r.registry.Len())
}

func TestDispatcher_ChatMessage_ExtraFieldsRelayed(t *testing.T) {
	r := newRelay()
	a, b := r.connect(t), r.connect(t)

	msg := []byte(`{"type":"chat-message","username":"Alice","text":"hi","isTyping":"yes","timestamp":"soon"}`)
	r.dispatcher.Dispatch(a, msg)

	frames := drainRaw(b)
	require.Len(t, frames, 3)
	require.Equal(t, msg, frames[2])
}

func TestDispatcher_Open_GreetingPrecedesBroadcasts(t *testing.T) {
	r := newRelay()
	speaker := r.connect(t)
	msg := chatFrame(t, "Alice", "hello")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.dispatcher.Dispatch(speaker, msg)
			}
		}
	}()

	joiners := make([]*Session, 200)
	for i := range joiners {
		joiners[i] = newTestSession(4096)
		r.dispatcher.Open(joiners[i])
	}
	close(stop)
	wg.Wait()

	for i, s := range joiners {
		envs := drain(t, s)
		require.GreaterOrEqual(t, len(envs), 2, "session %d", i)
		require.Equal(t, TypeSystem, envs[0].Type, "session %d", i)
		require.Equal(t, welcomeText, envs[0].Text, "session %d", i)
		require.Equal(t, TypeOnlineCount, envs[1].Type, "session %d", i)
	}
}
