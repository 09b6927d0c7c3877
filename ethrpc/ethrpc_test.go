package ethrpc

import (
	"context"
	"errors"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"webthree-rpc/codec"
	"webthree-rpc/eth"
	"webthree-rpc/message"
	"webthree-rpc/mux"
	"webthree-rpc/protocol"
	"webthree-rpc/server"
	"webthree-rpc/transport"
)

func TestPayloadMinSizes(t *testing.T) {
	zero := map[message.Type]any{
		message.TypeSubmitTransaction: &TransactArgs{},
		message.TypeCreateContract:    &CreateArgs{},
		message.TypeInjectRaw:         &InjectArgs{},
		message.TypeFlushTransactions: &Empty{},
		message.TypeCallTransaction:   &TransactArgs{},
		message.TypeBalanceAt:         &AccountArgs{},
		message.TypeCountAt:           &AccountArgs{},
		message.TypeStateAt:           &StateArgs{},
		message.TypeCodeAt:            &AccountArgs{},
		message.TypeStorageAt:         &AccountArgs{},
		message.TypeMessages:          &eth.MessageFilter{},
		message.TypePeers:             &Empty{},
		message.TypePeerCount:         &Empty{},
		message.TypeConnectToPeer:     &ConnectArgs{},
		message.TypePing:              &PingArgs{},
		message.TypeError:             &message.RemoteError{},
	}

	cdc := &codec.RLPCodec{}
	for typ, args := range zero {
		data, err := cdc.Encode(args)
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if len(data) != message.MinPayloadSize(typ) {
			t.Errorf("%s: zero payload is %d bytes, min size is %d", typ, len(data), message.MinPayloadSize(typ))
		}
	}
}

type harness struct {
	backend *eth.Memory
	client  *Client
	eth     *transport.Correlator
	conn    *transport.Conn
	alice   common.Hash
	aliceAt common.Address
}

// newHarness serves a funded Memory backend on loopback and connects a
// Client to it.
func newHarness(t *testing.T) *harness {
	t.Helper()

	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	aliceAt := crypto.PubkeyToAddress(priv.PublicKey)
	backend := eth.NewMemory(big.NewInt(1337), types.GenesisAlloc{
		aliceAt: {Balance: big.NewInt(1_000_000)},
	})

	svr := server.NewServer()
	ethSvc, err := NewEthereumService(backend)
	if err != nil {
		t.Fatal(err)
	}
	ctlSvc, err := NewControlService(backend)
	if err != nil {
		t.Fatal(err)
	}
	if err := svr.Register(ethSvc); err != nil {
		t.Fatal(err)
	}
	if err := svr.Register(ctlSvc); err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(ln, "", nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	nc, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	m := mux.New(protocol.DefaultLimits())
	conn := transport.NewConn(nc, m)
	cdc := &codec.RLPCodec{}
	ethCorr := transport.NewCorrelator(message.ServiceEthereum, conn, cdc)
	ctlCorr := transport.NewCorrelator(message.ServiceControl, conn, cdc)
	if err := m.RegisterResolver(message.ServiceEthereum, ethCorr); err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterResolver(message.ServiceControl, ctlCorr); err != nil {
		t.Fatal(err)
	}
	go conn.Serve()
	t.Cleanup(func() { conn.Close() })

	return &harness{
		backend: backend,
		client:  NewClient(ethCorr.Invoke, ctlCorr.Invoke, cdc),
		eth:     ethCorr,
		conn:    conn,
		alice:   common.BytesToHash(crypto.FromECDSA(priv)),
		aliceAt: aliceAt,
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestBalanceQueryEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	balance, err := h.client.BalanceAt(ctx, h.aliceAt, eth.Latest)
	if err != nil {
		t.Fatal(err)
	}
	if balance.Int64() != 1_000_000 {
		t.Fatalf("balance = %s", balance)
	}
	if h.eth.Pending() != 0 {
		t.Fatalf("pending table not empty: %d", h.eth.Pending())
	}
}

func TestTransactFlushAndQuery(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b0")

	if err := h.client.Transact(ctx, h.alice, big.NewInt(400), bob, nil, 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := h.client.FlushTransactions(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := h.client.BalanceAt(ctx, bob, eth.Latest)
	if err != nil {
		t.Fatal(err)
	}
	if got.Int64() != 400 {
		t.Fatalf("bob balance = %s", got)
	}
	n, err := h.client.CountAt(ctx, h.aliceAt, eth.Latest)
	if err != nil || n != 1 {
		t.Fatalf("alice nonce = %d, %v", n, err)
	}

	msgs, err := h.client.Messages(ctx, eth.MessageFilter{To: []common.Address{bob}})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Value.Int64() != 400 || msgs[0].From != h.aliceAt {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestCreateContractAndCode(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)
	code := []byte{0x60, 0x2a}

	addr, err := h.client.CreateContract(ctx, h.alice, big.NewInt(5), code, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := crypto.CreateAddress(h.aliceAt, 0); addr != want {
		t.Fatalf("address %s, want %s", addr, want)
	}
	got, err := h.client.CodeAt(ctx, addr, eth.Pending)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(code) {
		t.Fatalf("code = %x", got)
	}

	_, err = h.client.Call(ctx, h.alice, nil, addr, nil, 0, nil)
	if !errors.Is(err, eth.ErrExecutionUnsupported) {
		t.Fatalf("expect ErrExecutionUnsupported, got %v", err)
	}
}

func TestStorageOverTheWire(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)
	addr := common.HexToAddress("0x00000000000000000000000000000000000005a0")
	h.backend.SetStorage(addr, big.NewInt(7), big.NewInt(70))
	h.backend.SetStorage(addr, big.NewInt(1), big.NewInt(10))

	slots, err := h.client.StorageAt(ctx, addr, eth.Pending)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 2 || slots[0].Key.Int64() != 1 || slots[1].Value.Int64() != 70 {
		t.Fatalf("slots = %+v", slots)
	}
	v, err := h.client.StateAt(ctx, addr, big.NewInt(7), eth.Pending)
	if err != nil || v.Int64() != 70 {
		t.Fatalf("state = %v, %v", v, err)
	}
}

func TestDomainErrorRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	_, err := h.client.BalanceAt(ctx, h.aliceAt, 99)
	if !errors.Is(err, eth.ErrUnknownBlock) {
		t.Fatalf("expect ErrUnknownBlock, got %v", err)
	}
	var remote *message.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expect *message.RemoteError, got %T", err)
	}

	// the connection survives domain failures
	if _, err := h.client.PeerCount(ctx); err != nil {
		t.Fatalf("connection unusable after domain error: %v", err)
	}
}

func TestControlService(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	if err := h.client.Ping(ctx, 77); err != nil {
		t.Fatal(err)
	}
	if err := h.client.ConnectToPeer(ctx, "10.0.0.5", 30303); err != nil {
		t.Fatal(err)
	}
	if err := h.client.ConnectToPeer(ctx, "", 0); !errors.Is(err, eth.ErrInvalidPeer) {
		t.Fatalf("expect ErrInvalidPeer, got %v", err)
	}

	peers, err := h.client.Peers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 || peers[0].Port != 30303 {
		t.Fatalf("peers = %+v", peers)
	}
}

func TestMalformedAndUnknownRequests(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	// valid size, not a valid RLP list for AccountArgs
	garbage := make([]byte, message.MinPayloadSize(message.TypeBalanceAt))
	for i := range garbage {
		garbage[i] = 0xff
	}
	_, err := h.eth.Invoke(ctx, &message.Message{Type: message.TypeBalanceAt, Payload: garbage})
	if message.CodeOf(err) != message.CodeMalformedRequest {
		t.Fatalf("expect CodeMalformedRequest, got %v", err)
	}

	// ConnectToPeer belongs to the control service
	_, err = h.eth.Invoke(ctx, &message.Message{Type: message.TypeConnectToPeer, Payload: []byte{0xc2, 0x80, 0x80}})
	if message.CodeOf(err) != message.CodeUnknownType {
		t.Fatalf("expect CodeUnknownType, got %v", err)
	}
}
