package ethrpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"webthree-rpc/codec"
	"webthree-rpc/eth"
	"webthree-rpc/message"
	"webthree-rpc/middleware"
)

// Client implements eth.Interface and eth.PeerConnector over a connection.
// Each operation encodes its args, invokes the handler of its service and
// decodes the reply; the handlers normally end in a transport.Correlator.
type Client struct {
	eth     middleware.HandlerFunc
	control middleware.HandlerFunc
	codec   codec.Codec
}

var (
	_ eth.Interface     = (*Client)(nil)
	_ eth.PeerConnector = (*Client)(nil)
)

func NewClient(ethInvoke, controlInvoke middleware.HandlerFunc, cdc codec.Codec) *Client {
	return &Client{eth: ethInvoke, control: controlInvoke, codec: cdc}
}

func (c *Client) call(ctx context.Context, svc message.ServiceID, typ message.Type, args, reply any) error {
	invoke := c.eth
	if svc == message.ServiceControl {
		invoke = c.control
	}
	if invoke == nil {
		return fmt.Errorf("ethrpc: no handler for service %s", svc)
	}

	payload, err := c.codec.Encode(args)
	if err != nil {
		return fmt.Errorf("ethrpc: encode %s: %w", typ, err)
	}
	resp, err := invoke(ctx, &message.Message{Service: svc, Type: typ, Payload: payload})
	if err != nil {
		return err
	}
	if err := c.codec.Decode(resp.Payload, reply); err != nil {
		return fmt.Errorf("ethrpc: decode %s: %w", resp.Type, err)
	}
	return nil
}

func gasOrDefault(gas uint64, price *big.Int) (uint64, *big.Int) {
	if gas == 0 {
		gas = eth.DefaultGas
	}
	if price == nil {
		price = eth.DefaultGasPrice
	}
	return gas, price
}

func (c *Client) Transact(ctx context.Context, secret common.Hash, value *big.Int, dest common.Address, data []byte, gas uint64, gasPrice *big.Int) error {
	gas, gasPrice = gasOrDefault(gas, gasPrice)
	args := &TransactArgs{Secret: secret, Value: value, Dest: dest, Data: data, Gas: gas, GasPrice: gasPrice}
	return c.call(ctx, message.ServiceEthereum, message.TypeSubmitTransaction, args, &Empty{})
}

func (c *Client) CreateContract(ctx context.Context, secret common.Hash, endowment *big.Int, init []byte, gas uint64, gasPrice *big.Int) (common.Address, error) {
	gas, gasPrice = gasOrDefault(gas, gasPrice)
	args := &CreateArgs{Secret: secret, Endowment: endowment, Init: init, Gas: gas, GasPrice: gasPrice}
	var reply AddressReply
	if err := c.call(ctx, message.ServiceEthereum, message.TypeCreateContract, args, &reply); err != nil {
		return common.Address{}, err
	}
	return reply.Address, nil
}

func (c *Client) Inject(ctx context.Context, rlp []byte) error {
	return c.call(ctx, message.ServiceEthereum, message.TypeInjectRaw, &InjectArgs{RLP: rlp}, &Empty{})
}

func (c *Client) FlushTransactions(ctx context.Context) error {
	return c.call(ctx, message.ServiceEthereum, message.TypeFlushTransactions, &Empty{}, &Empty{})
}

func (c *Client) Call(ctx context.Context, secret common.Hash, value *big.Int, dest common.Address, data []byte, gas uint64, gasPrice *big.Int) ([]byte, error) {
	gas, gasPrice = gasOrDefault(gas, gasPrice)
	args := &TransactArgs{Secret: secret, Value: value, Dest: dest, Data: data, Gas: gas, GasPrice: gasPrice}
	var reply BytesReply
	if err := c.call(ctx, message.ServiceEthereum, message.TypeCallTransaction, args, &reply); err != nil {
		return nil, err
	}
	return reply.Data, nil
}

func (c *Client) BalanceAt(ctx context.Context, addr common.Address, block eth.BlockNumber) (*big.Int, error) {
	var reply BigReply
	if err := c.call(ctx, message.ServiceEthereum, message.TypeBalanceAt, &AccountArgs{Address: addr, Block: block}, &reply); err != nil {
		return nil, err
	}
	return nonNil(reply.Value), nil
}

func (c *Client) CountAt(ctx context.Context, addr common.Address, block eth.BlockNumber) (uint64, error) {
	var reply CountReply
	if err := c.call(ctx, message.ServiceEthereum, message.TypeCountAt, &AccountArgs{Address: addr, Block: block}, &reply); err != nil {
		return 0, err
	}
	return reply.Count, nil
}

func (c *Client) StateAt(ctx context.Context, addr common.Address, key *big.Int, block eth.BlockNumber) (*big.Int, error) {
	var reply BigReply
	if err := c.call(ctx, message.ServiceEthereum, message.TypeStateAt, &StateArgs{Address: addr, Key: key, Block: block}, &reply); err != nil {
		return nil, err
	}
	return nonNil(reply.Value), nil
}

func (c *Client) CodeAt(ctx context.Context, addr common.Address, block eth.BlockNumber) ([]byte, error) {
	var reply BytesReply
	if err := c.call(ctx, message.ServiceEthereum, message.TypeCodeAt, &AccountArgs{Address: addr, Block: block}, &reply); err != nil {
		return nil, err
	}
	return reply.Data, nil
}

func (c *Client) StorageAt(ctx context.Context, addr common.Address, block eth.BlockNumber) ([]eth.StorageSlot, error) {
	var reply StorageReply
	if err := c.call(ctx, message.ServiceEthereum, message.TypeStorageAt, &AccountArgs{Address: addr, Block: block}, &reply); err != nil {
		return nil, err
	}
	return reply.Slots, nil
}

func (c *Client) Messages(ctx context.Context, filter eth.MessageFilter) ([]eth.PastMessage, error) {
	var reply MessagesReply
	if err := c.call(ctx, message.ServiceEthereum, message.TypeMessages, &filter, &reply); err != nil {
		return nil, err
	}
	return reply.Messages, nil
}

func (c *Client) Peers(ctx context.Context) ([]eth.PeerInfo, error) {
	var reply PeersReply
	if err := c.call(ctx, message.ServiceEthereum, message.TypePeers, &Empty{}, &reply); err != nil {
		return nil, err
	}
	return reply.Peers, nil
}

func (c *Client) PeerCount(ctx context.Context) (uint64, error) {
	var reply CountReply
	if err := c.call(ctx, message.ServiceEthereum, message.TypePeerCount, &Empty{}, &reply); err != nil {
		return 0, err
	}
	return reply.Count, nil
}

func (c *Client) ConnectToPeer(ctx context.Context, host string, port uint16) error {
	return c.call(ctx, message.ServiceControl, message.TypeConnectToPeer, &ConnectArgs{Host: host, Port: port}, &Empty{})
}

// Ping round-trips nonce through the control service.
func (c *Client) Ping(ctx context.Context, nonce uint64) error {
	var reply PingReply
	if err := c.call(ctx, message.ServiceControl, message.TypePing, &PingArgs{Nonce: nonce}, &reply); err != nil {
		return err
	}
	if reply.Nonce != nonce {
		return fmt.Errorf("ethrpc: ping nonce %d answered with %d", nonce, reply.Nonce)
	}
	return nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
