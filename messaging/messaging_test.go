package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	apperrors "orders-service/common/errors"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	subject   string
	sent      Packet
	reply     []byte
	err       error
	published map[string][]byte
}

func (f *fakeConn) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	f.subject = subj
	if err := json.Unmarshal(data, &f.sent); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &nats.Msg{Subject: subj, Data: f.reply}, nil
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.published == nil {
		f.published = map[string][]byte{}
	}
	f.published[subj] = data
	return nil
}

func newTestClient(conn *fakeConn) *Client {
	return NewClient(conn, time.Second, zap.NewNop())
}

func TestPatternFor(t *testing.T) {
	assert.JSONEq(t, `"create.payment.session"`, string(PatternFor("create.payment.session")))
	assert.JSONEq(t, `{"cmd":"validate-product"}`, string(PatternFor(`{"cmd":"validate-product"}`)))
	assert.JSONEq(t, `"{not json"`, string(PatternFor("{not json")))
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "createOrder", SubjectFor(json.RawMessage(`"createOrder"`)))
	assert.Equal(t, `{"cmd":"validate-product"}`, SubjectFor(json.RawMessage(`{ "cmd": "validate-product" }`)))
}

func TestRequest_DecodesResponse(t *testing.T) {
	conn := &fakeConn{reply: []byte(`{"id":"x","response":[{"id":"p1","name":"A"}],"isDisposed":true}`)}
	c := newTestClient(conn)

	var out []map[string]string
	err := c.Request(context.Background(), `{"cmd":"validate-product"}`, []string{"p1"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "A", out[0]["name"])
	assert.Equal(t, `{"cmd":"validate-product"}`, conn.subject)
	assert.NotEmpty(t, conn.sent.ID)
	assert.JSONEq(t, `["p1"]`, string(conn.sent.Data))
	assert.JSONEq(t, `{"cmd":"validate-product"}`, string(conn.sent.Pattern))
}

func TestRequest_ForwardsRemoteError(t *testing.T) {
	conn := &fakeConn{reply: []byte(`{"err":{"message":"Some products were not found","status":400},"isDisposed":true}`)}
	c := newTestClient(conn)

	err := c.Request(context.Background(), "validate", []string{"p9"}, &[]string{})

	appErr := apperrors.From(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.KindUpstream, appErr.Kind)
	assert.Equal(t, 400, appErr.Status)
	assert.Equal(t, "Some products were not found", appErr.Message)
	assert.JSONEq(t, `{"message":"Some products were not found","status":400}`, string(appErr.Upstream))
}

func TestRequest_StringRemoteError(t *testing.T) {
	conn := &fakeConn{reply: []byte(`{"err":"boom","isDisposed":true}`)}
	c := newTestClient(conn)

	appErr := apperrors.From(c.Request(context.Background(), "s", nil, nil))
	assert.Equal(t, "boom", appErr.Message)
	assert.Equal(t, 502, appErr.Status)
}

func TestRequest_Timeout(t *testing.T) {
	c := newTestClient(&fakeConn{err: nats.ErrTimeout})

	err := c.Request(context.Background(), "create.payment.session", map[string]string{}, nil)
	assert.Equal(t, apperrors.KindTimeout, apperrors.KindOf(err))

	c = newTestClient(&fakeConn{err: context.DeadlineExceeded})
	err = c.Request(context.Background(), "create.payment.session", map[string]string{}, nil)
	assert.Equal(t, apperrors.KindTimeout, apperrors.KindOf(err))
}

func TestRequest_NoResponders(t *testing.T) {
	c := newTestClient(&fakeConn{err: nats.ErrNoResponders})

	appErr := apperrors.From(c.Request(context.Background(), "create.payment.session", nil, nil))
	assert.Equal(t, apperrors.KindUpstream, appErr.Kind)
	assert.Equal(t, 503, appErr.Status)
}

func TestRequest_InvalidReply(t *testing.T) {
	c := newTestClient(&fakeConn{reply: []byte(`not json`)})
	assert.Equal(t, apperrors.KindUpstream, apperrors.KindOf(c.Request(context.Background(), "s", nil, nil)))

	c = newTestClient(&fakeConn{reply: []byte(`{"isDisposed":true}`)})
	var out []string
	assert.Equal(t, apperrors.KindUpstream, apperrors.KindOf(c.Request(context.Background(), "s", nil, &out)))
}

func TestEmit(t *testing.T) {
	conn := &fakeConn{}
	c := newTestClient(conn)

	require.NoError(t, c.Emit("order.created", map[string]string{"orderId": "1"}))

	var p Packet
	require.NoError(t, json.Unmarshal(conn.published["order.created"], &p))
	assert.Empty(t, p.ID)
	assert.JSONEq(t, `{"orderId":"1"}`, string(p.Data))
}

func newTestServer() *Server {
	return NewServer(nil, ServerConfig{Queue: "orders-service", MaxInFlight: 4, HandlerTimeout: time.Second}, nil, zap.NewNop())
}

func decodeReply(t *testing.T, b []byte) Reply {
	t.Helper()
	var r Reply
	require.NoError(t, json.Unmarshal(b, &r))
	return r
}

func TestProcess_Success(t *testing.T) {
	s := newTestServer()

	reply := decodeReply(t, s.process("findOneOrder", []byte(`{"pattern":"findOneOrder","data":"abc","id":"42"}`),
		func(ctx context.Context, data json.RawMessage) (interface{}, error) {
			var id string
			require.NoError(t, json.Unmarshal(data, &id))
			return map[string]string{"id": id}, nil
		}))

	assert.Equal(t, "42", reply.ID)
	assert.True(t, reply.IsDisposed)
	assert.Empty(t, reply.Err)
	assert.JSONEq(t, `{"id":"abc"}`, string(reply.Response))
}

func TestProcess_TypedError(t *testing.T) {
	s := newTestServer()

	reply := decodeReply(t, s.process("findOneOrder", []byte(`{"pattern":"findOneOrder","data":"abc","id":"1"}`),
		func(ctx context.Context, data json.RawMessage) (interface{}, error) {
			return nil, apperrors.NotFound("Order id: abc not found")
		}))

	assert.JSONEq(t, `{"kind":"NOT_FOUND","message":"Order id: abc not found","status":404}`, string(reply.Err))
	assert.Empty(t, reply.Response)
}

func TestProcess_UntypedErrorIsHidden(t *testing.T) {
	s := newTestServer()

	reply := decodeReply(t, s.process("x", []byte(`{"pattern":"x","data":null,"id":"1"}`),
		func(ctx context.Context, data json.RawMessage) (interface{}, error) {
			return nil, errors.New("pq: relation does not exist")
		}))

	assert.NotContains(t, string(reply.Err), "relation")
	assert.Contains(t, string(reply.Err), `"kind":"INTERNAL"`)
}

func TestProcess_PanicBecomesDefect(t *testing.T) {
	s := newTestServer()

	reply := decodeReply(t, s.process("createOrder", []byte(`{"pattern":"createOrder","data":{},"id":"1"}`),
		func(ctx context.Context, data json.RawMessage) (interface{}, error) {
			panic("nil map")
		}))

	assert.Contains(t, string(reply.Err), `"kind":"DEFECT"`)
}

func TestProcess_MalformedPacket(t *testing.T) {
	s := newTestServer()

	reply := decodeReply(t, s.process("x", []byte(`garbage`), func(ctx context.Context, data json.RawMessage) (interface{}, error) {
		t.Fatal("handler must not run")
		return nil, nil
	}))
	assert.Contains(t, string(reply.Err), `"kind":"VALIDATION"`)
}

func TestProcessEvent_RecoversPanic(t *testing.T) {
	s := newTestServer()

	called := false
	assert.NotPanics(t, func() {
		s.processEvent("payment.succeeded", []byte(`{"pattern":"payment.succeeded","data":{"orderId":"1"}}`),
			func(ctx context.Context, data json.RawMessage) {
				called = true
				assert.JSONEq(t, `{"orderId":"1"}`, string(data))
				panic("boom")
			})
	})
	assert.True(t, called)
}

func TestShutdown_NoSubscriptions(t *testing.T) {
	s := newTestServer()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}

func TestShutdown_DropsMessagesAdmittedAfterClose(t *testing.T) {
	s := NewServer(nil, ServerConfig{Queue: "orders-service", MaxInFlight: 1, HandlerTimeout: time.Second}, nil, zap.NewNop())

	release := make(chan struct{})
	s.deliver(&nats.Msg{}, func(*nats.Msg) { <-release })

	var lateRan atomic.Bool
	waiting := make(chan struct{})
	go func() {
		defer close(waiting)
		s.deliver(&nats.Msg{}, func(*nats.Msg) { lateRan.Store(true) })
	}()

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stopped <- s.Shutdown(ctx)
	}()

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.closing
	}, time.Second, 5*time.Millisecond)
	close(release)

	require.NoError(t, <-stopped)
	<-waiting
	assert.False(t, lateRan.Load(), "a message admitted after shutdown must not run")
}
