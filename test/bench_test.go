package test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"webthree-rpc/client"
	"webthree-rpc/codec"
	"webthree-rpc/eth"
	"webthree-rpc/ethrpc"
	"webthree-rpc/loadbalance"
	"webthree-rpc/registry"
)

// ---- Setup 公共函数 ----

func setupNodeAndClient(b *testing.B) (*node, *client.Client) {
	reg := registry.NewStaticRegistry()
	n := startNode(b, reg)

	opts := client.DefaultOptions()
	opts.Heartbeat = 0
	cli := client.NewClient(reg, &loadbalance.RoundRobinBalancer{}, ethrpc.EthereumServiceName, opts)
	b.Cleanup(func() { cli.Close() })
	return n, cli
}

// ---- Benchmark ----

// 场景1: 单 goroutine 串行调用
func BenchmarkSerialCall(b *testing.B) {
	n, cli := setupNodeAndClient(b)
	ctx := context.Background()
	api, err := cli.Eth(ctx)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := api.BalanceAt(ctx, n.account, eth.Latest); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景2: 多 goroutine 并发调用，共享同一个多路复用连接
func BenchmarkConcurrentCall(b *testing.B) {
	n, cli := setupNodeAndClient(b)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			api, err := cli.Eth(ctx)
			if err != nil {
				b.Error(err)
				return
			}
			if _, err := api.BalanceAt(ctx, n.account, eth.Latest); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// 场景3: 编解码对比
var benchArgs = &ethrpc.TransactArgs{
	Secret:   common.HexToHash("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"),
	Value:    big.NewInt(1_000_000),
	Dest:     common.HexToAddress("0x0000000000000000000000000000000000000b0b"),
	Data:     make([]byte, 256),
	Gas:      eth.DefaultGas,
	GasPrice: big.NewInt(1),
}

func benchmarkCodec(b *testing.B, cdc codec.Codec) {
	for i := 0; i < b.N; i++ {
		data, err := cdc.Encode(benchArgs)
		if err != nil {
			b.Fatal(err)
		}
		var out ethrpc.TransactArgs
		if err := cdc.Decode(data, &out); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodecRLP(b *testing.B) {
	benchmarkCodec(b, &codec.RLPCodec{})
}

func BenchmarkCodecJSON(b *testing.B) {
	benchmarkCodec(b, &codec.JSONCodec{})
}
