package ethrpc

import (
	"context"

	"webthree-rpc/eth"
	"webthree-rpc/message"
	"webthree-rpc/server"
)

const (
	EthereumServiceName = "eth"
	ControlServiceName  = "control"
)

var ethereumMethods = map[message.Type]string{
	message.TypeSubmitTransaction: "SubmitTransaction",
	message.TypeCreateContract:    "CreateContract",
	message.TypeInjectRaw:         "InjectRaw",
	message.TypeFlushTransactions: "FlushTransactions",
	message.TypeCallTransaction:   "CallTransaction",
	message.TypeBalanceAt:         "BalanceAt",
	message.TypeCountAt:           "CountAt",
	message.TypeStateAt:           "StateAt",
	message.TypeCodeAt:            "CodeAt",
	message.TypeStorageAt:         "StorageAt",
	message.TypeMessages:          "Messages",
	message.TypePeers:             "Peers",
	message.TypePeerCount:         "PeerCount",
}

var controlMethods = map[message.Type]string{
	message.TypeConnectToPeer: "ConnectToPeer",
	message.TypePing:          "Ping",
}

// EthereumService answers eth requests from backend.
type EthereumService struct {
	backend eth.Interface
}

func NewEthereumService(backend eth.Interface) (*server.Service, error) {
	return server.NewService(message.ServiceEthereum, EthereumServiceName, &EthereumService{backend: backend}, ethereumMethods)
}

func (s *EthereumService) SubmitTransaction(ctx context.Context, args *TransactArgs, reply *Empty) error {
	return s.backend.Transact(ctx, args.Secret, args.Value, args.Dest, args.Data, args.Gas, args.GasPrice)
}

func (s *EthereumService) CreateContract(ctx context.Context, args *CreateArgs, reply *AddressReply) error {
	addr, err := s.backend.CreateContract(ctx, args.Secret, args.Endowment, args.Init, args.Gas, args.GasPrice)
	reply.Address = addr
	return err
}

func (s *EthereumService) InjectRaw(ctx context.Context, args *InjectArgs, reply *Empty) error {
	return s.backend.Inject(ctx, args.RLP)
}

func (s *EthereumService) FlushTransactions(ctx context.Context, args *Empty, reply *Empty) error {
	return s.backend.FlushTransactions(ctx)
}

func (s *EthereumService) CallTransaction(ctx context.Context, args *TransactArgs, reply *BytesReply) error {
	out, err := s.backend.Call(ctx, args.Secret, args.Value, args.Dest, args.Data, args.Gas, args.GasPrice)
	reply.Data = out
	return err
}

func (s *EthereumService) BalanceAt(ctx context.Context, args *AccountArgs, reply *BigReply) error {
	v, err := s.backend.BalanceAt(ctx, args.Address, args.Block)
	reply.Value = v
	return err
}

func (s *EthereumService) CountAt(ctx context.Context, args *AccountArgs, reply *CountReply) error {
	n, err := s.backend.CountAt(ctx, args.Address, args.Block)
	reply.Count = n
	return err
}

func (s *EthereumService) StateAt(ctx context.Context, args *StateArgs, reply *BigReply) error {
	v, err := s.backend.StateAt(ctx, args.Address, args.Key, args.Block)
	reply.Value = v
	return err
}

func (s *EthereumService) CodeAt(ctx context.Context, args *AccountArgs, reply *BytesReply) error {
	code, err := s.backend.CodeAt(ctx, args.Address, args.Block)
	reply.Data = code
	return err
}

func (s *EthereumService) StorageAt(ctx context.Context, args *AccountArgs, reply *StorageReply) error {
	slots, err := s.backend.StorageAt(ctx, args.Address, args.Block)
	reply.Slots = slots
	return err
}

func (s *EthereumService) Messages(ctx context.Context, args *eth.MessageFilter, reply *MessagesReply) error {
	msgs, err := s.backend.Messages(ctx, *args)
	reply.Messages = msgs
	return err
}

func (s *EthereumService) Peers(ctx context.Context, args *Empty, reply *PeersReply) error {
	peers, err := s.backend.Peers(ctx)
	reply.Peers = peers
	return err
}

func (s *EthereumService) PeerCount(ctx context.Context, args *Empty, reply *CountReply) error {
	n, err := s.backend.PeerCount(ctx)
	reply.Count = n
	return err
}

// ControlService answers connection-level requests: peer dialing and
// keep-alive pings.
type ControlService struct {
	connector eth.PeerConnector
}

// NewControlService builds the control service. A nil connector answers
// ConnectToPeer with CodeUnavailable.
func NewControlService(connector eth.PeerConnector) (*server.Service, error) {
	return server.NewService(message.ServiceControl, ControlServiceName, &ControlService{connector: connector}, controlMethods)
}

func (s *ControlService) ConnectToPeer(ctx context.Context, args *ConnectArgs, reply *Empty) error {
	if s.connector == nil {
		return &message.RemoteError{Code: message.CodeUnavailable, Message: "control: peer connections disabled"}
	}
	return s.connector.ConnectToPeer(ctx, args.Host, args.Port)
}

func (s *ControlService) Ping(ctx context.Context, args *PingArgs, reply *PingReply) error {
	reply.Nonce = args.Nonce
	return nil
}
