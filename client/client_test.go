package client

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"webthree-rpc/eth"
	"webthree-rpc/ethrpc"
	"webthree-rpc/loadbalance"
	"webthree-rpc/registry"
	"webthree-rpc/server"
	"webthree-rpc/transport"
)

var rich = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// startServer serves a Memory backend on loopback and publishes it in reg.
func startServer(t *testing.T, reg registry.Registry, balance int64) (*server.Server, string) {
	t.Helper()
	backend := eth.NewMemory(big.NewInt(1337), types.GenesisAlloc{
		rich: {Balance: big.NewInt(balance)},
	})
	svr := server.NewServer()
	ethSvc, err := ethrpc.NewEthereumService(backend)
	if err != nil {
		t.Fatal(err)
	}
	ctlSvc, err := ethrpc.NewControlService(backend)
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
	addr := ln.Addr().String()
	go svr.ServeListener(ln, addr, reg)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	if reg != nil {
		waitFor(t, func() bool {
			instances, _ := reg.Discover(context.Background(), ethrpc.EthereumServiceName)
			for _, inst := range instances {
				if inst.Addr == addr {
					return true
				}
			}
			return false
		})
	}
	return svr, addr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func quietOptions() Options {
	opts := DefaultOptions()
	opts.Heartbeat = 0
	return opts
}

func TestClientDiscoverAndCall(t *testing.T) {
	reg := registry.NewStaticRegistry()
	startServer(t, reg, 500)

	c := NewClient(reg, nil, ethrpc.EthereumServiceName, quietOptions())
	defer c.Close()
	ctx := testContext(t)

	// 并发调用共享同一个多路复用连接
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			api, err := c.Eth(ctx)
			if err != nil {
				errs <- err
				return
			}
			balance, err := api.BalanceAt(ctx, rich, eth.Latest)
			if err != nil {
				errs <- err
				return
			}
			if balance.Int64() != 500 {
				errs <- errors.New("unexpected balance " + balance.String())
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	if n := c.Sessions(); n != 1 {
		t.Fatalf("expect 1 shared session, got %d", n)
	}
	s, err := c.Session(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.Pending() != 0 {
		t.Fatalf("expect no pending requests, got %d", s.Pending())
	}
}

func TestClientNoInstances(t *testing.T) {
	c := NewClient(registry.NewStaticRegistry(), nil, ethrpc.EthereumServiceName, quietOptions())
	defer c.Close()

	if _, err := c.Eth(testContext(t)); !errors.Is(err, loadbalance.ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}

func TestSessionDroppedWhenInstanceLeaves(t *testing.T) {
	reg := registry.NewStaticRegistry()
	_, addr := startServer(t, reg, 1)

	c := NewClient(reg, nil, ethrpc.EthereumServiceName, quietOptions())
	defer c.Close()
	ctx := testContext(t)

	s, err := c.Session(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Deregister(ctx, ethrpc.EthereumServiceName, addr); err != nil {
		t.Fatal(err)
	}

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session not closed after its instance left the registry")
	}
	if !errors.Is(s.Err(), transport.ErrConnectionClosed) {
		t.Fatalf("expect ErrConnectionClosed, got %v", s.Err())
	}
	if c.Sessions() != 0 {
		t.Fatalf("expect no sessions, got %d", c.Sessions())
	}
}

func TestClientFailover(t *testing.T) {
	reg := registry.NewStaticRegistry()
	first, _ := startServer(t, reg, 10)
	startServer(t, reg, 20)

	c := NewClient(reg, &loadbalance.RoundRobinBalancer{}, ethrpc.EthereumServiceName, quietOptions())
	defer c.Close()
	ctx := testContext(t)

	seen := map[int64]bool{}
	for i := 0; i < 4; i++ {
		api, err := c.Eth(ctx)
		if err != nil {
			t.Fatal(err)
		}
		balance, err := api.BalanceAt(ctx, rich, eth.Latest)
		if err != nil {
			t.Fatal(err)
		}
		seen[balance.Int64()] = true
	}
	if !seen[10] || !seen[20] {
		t.Fatalf("round robin should reach both servers, saw %v", seen)
	}

	// Shutdown deregisters the first server; its session is dropped
	if err := first.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return c.Sessions() == 1 })

	for i := 0; i < 4; i++ {
		api, err := c.Eth(ctx)
		if err != nil {
			t.Fatal(err)
		}
		balance, err := api.BalanceAt(ctx, rich, eth.Latest)
		if err != nil {
			t.Fatal(err)
		}
		if balance.Int64() != 20 {
			t.Fatalf("expect the surviving server, got balance %s", balance)
		}
	}
}

func TestHeartbeatClosesUnresponsiveSession(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	// peer reads everything and never answers
	go io.Copy(io.Discard, remote)

	opts := DefaultOptions()
	opts.Heartbeat = 20 * time.Millisecond
	s := NewSession(local, opts)

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("heartbeat did not close an unresponsive session")
	}
	if !errors.Is(s.Err(), transport.ErrConnectionClosed) {
		t.Fatalf("expect ErrConnectionClosed, got %v", s.Err())
	}
}

func TestHeartbeatKeepsHealthySession(t *testing.T) {
	_, addr := startServer(t, nil, 1)

	opts := DefaultOptions()
	opts.Heartbeat = 20 * time.Millisecond
	s, err := Dial(testContext(t), addr, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	time.Sleep(150 * time.Millisecond)
	select {
	case <-s.Done():
		t.Fatalf("healthy session closed: %v", s.Err())
	default:
	}
	if _, err := s.Eth().PeerCount(testContext(t)); err != nil {
		t.Fatal(err)
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := Dial(testContext(t), addr, quietOptions()); err == nil {
		t.Fatal("expect dial error")
	}
}

func TestClientClosed(t *testing.T) {
	reg := registry.NewStaticRegistry()
	startServer(t, reg, 1)

	c := NewClient(reg, nil, ethrpc.EthereumServiceName, quietOptions())
	ctx := testContext(t)
	s, err := c.Session(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	<-s.Done()
	if _, err := c.Eth(ctx); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expect ErrClientClosed, got %v", err)
	}
}
