package main

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"webthree-rpc/eth"
	"webthree-rpc/ethrpc"
)

var (
	blockFlag = &cli.StringFlag{Name: "block", Aliases: []string{"b"}, Value: "latest", Usage: "latest, pending or a block number"}

	secretFlag   = &cli.StringFlag{Name: "secret", Usage: "sender private key (0x hex)", EnvVars: []string{"ETHRPC_SECRET"}, Required: true}
	valueFlag    = &cli.StringFlag{Name: "value", Usage: "wei to transfer"}
	dataFlag     = &cli.StringFlag{Name: "data", Usage: "call data (0x hex)"}
	gasFlag      = &cli.Uint64Flag{Name: "gas", Usage: "gas limit, 0 uses the default"}
	gasPriceFlag = &cli.StringFlag{Name: "gas-price", Usage: "gas price in wei, empty uses the default"}
)

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name: "balance", Usage: "balance of an account", ArgsUsage: "<address>",
			Flags: []cli.Flag{blockFlag},
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				addr, block, err := accountArgs(c)
				if err != nil {
					return err
				}
				v, err := api.BalanceAt(c.Context, addr, block)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, v)
				return nil
			}),
		},
		{
			Name: "count", Usage: "transaction count (nonce) of an account", ArgsUsage: "<address>",
			Flags: []cli.Flag{blockFlag},
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				addr, block, err := accountArgs(c)
				if err != nil {
					return err
				}
				n, err := api.CountAt(c.Context, addr, block)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, n)
				return nil
			}),
		},
		{
			Name: "state", Usage: "one storage slot of an account", ArgsUsage: "<address> <key>",
			Flags: []cli.Flag{blockFlag},
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				addr, block, err := accountArgs(c)
				if err != nil {
					return err
				}
				key, err := parseBig(c.Args().Get(1))
				if err != nil {
					return err
				}
				v, err := api.StateAt(c.Context, addr, key, block)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, v)
				return nil
			}),
		},
		{
			Name: "code", Usage: "code of an account", ArgsUsage: "<address>",
			Flags: []cli.Flag{blockFlag},
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				addr, block, err := accountArgs(c)
				if err != nil {
					return err
				}
				code, err := api.CodeAt(c.Context, addr, block)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, hexutil.Encode(code))
				return nil
			}),
		},
		{
			Name: "storage", Usage: "all storage slots of an account", ArgsUsage: "<address>",
			Flags: []cli.Flag{blockFlag},
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				addr, block, err := accountArgs(c)
				if err != nil {
					return err
				}
				slots, err := api.StorageAt(c.Context, addr, block)
				if err != nil {
					return err
				}
				for _, s := range slots {
					fmt.Fprintf(c.App.Writer, "%s = %s\n", s.Key, s.Value)
				}
				return nil
			}),
		},
		{
			Name: "transact", Usage: "queue a transaction signed by --secret", ArgsUsage: "<to>",
			Flags: []cli.Flag{secretFlag, valueFlag, dataFlag, gasFlag, gasPriceFlag},
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				tx, err := txArgs(c)
				if err != nil {
					return err
				}
				to, err := parseAddress(c.Args().First())
				if err != nil {
					return err
				}
				return api.Transact(c.Context, tx.secret, tx.value, to, tx.data, tx.gas, tx.gasPrice)
			}),
		},
		{
			Name: "create", Usage: "create a contract with --data as init code",
			Flags: []cli.Flag{secretFlag, valueFlag, dataFlag, gasFlag, gasPriceFlag},
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				tx, err := txArgs(c)
				if err != nil {
					return err
				}
				addr, err := api.CreateContract(c.Context, tx.secret, tx.value, tx.data, tx.gas, tx.gasPrice)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, addr.Hex())
				return nil
			}),
		},
		{
			Name: "call", Usage: "execute without committing and print the output", ArgsUsage: "<to>",
			Flags: []cli.Flag{secretFlag, valueFlag, dataFlag, gasFlag, gasPriceFlag},
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				tx, err := txArgs(c)
				if err != nil {
					return err
				}
				to, err := parseAddress(c.Args().First())
				if err != nil {
					return err
				}
				out, err := api.Call(c.Context, tx.secret, tx.value, to, tx.data, tx.gas, tx.gasPrice)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, hexutil.Encode(out))
				return nil
			}),
		},
		{
			Name: "inject", Usage: "queue a signed raw transaction", ArgsUsage: "<0x rlp>",
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				raw, err := parseBytes(c.Args().First())
				if err != nil {
					return err
				}
				return api.Inject(c.Context, raw)
			}),
		},
		{
			Name: "flush", Usage: "seal pending transactions into a block",
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				return api.FlushTransactions(c.Context)
			}),
		},
		{
			Name: "messages", Usage: "past messages matching a filter",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{Name: "from", Usage: "sender address, repeatable"},
				&cli.StringSliceFlag{Name: "to", Usage: "recipient address, repeatable"},
				&cli.Uint64Flag{Name: "earliest", Usage: "first block"},
				&cli.Uint64Flag{Name: "latest", Usage: "last block, 0 is the head"},
			},
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				from, err := parseAddresses(c.StringSlice("from"))
				if err != nil {
					return err
				}
				to, err := parseAddresses(c.StringSlice("to"))
				if err != nil {
					return err
				}
				msgs, err := api.Messages(c.Context, eth.MessageFilter{
					From: from, To: to, Earliest: c.Uint64("earliest"), Latest: c.Uint64("latest"),
				})
				if err != nil {
					return err
				}
				for _, m := range msgs {
					fmt.Fprintf(c.App.Writer, "#%d %s %s -> %s value=%s created=%t\n",
						m.Block, m.TxHash.Hex(), m.From.Hex(), m.To.Hex(), m.Value, m.Created)
				}
				return nil
			}),
		},
		{
			Name: "peers", Usage: "connected peers",
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				peers, err := api.Peers(c.Context)
				if err != nil {
					return err
				}
				for _, p := range peers {
					fmt.Fprintf(c.App.Writer, "%s since %s\n", p.ID, time.Unix(int64(p.Connected), 0).UTC().Format(time.RFC3339))
				}
				return nil
			}),
		},
		{
			Name: "peercount", Usage: "number of connected peers",
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				n, err := api.PeerCount(c.Context)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, n)
				return nil
			}),
		},
		{
			Name: "connect", Usage: "ask the server to connect to a peer", ArgsUsage: "<host> <port>",
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				port, err := strconv.ParseUint(c.Args().Get(1), 10, 16)
				if err != nil {
					return fmt.Errorf("%w: port %q", errUsage, c.Args().Get(1))
				}
				return api.ConnectToPeer(c.Context, c.Args().First(), uint16(port))
			}),
		},
		{
			Name: "ping", Usage: "round trip through the control service",
			Action: withEth(func(c *cli.Context, api *ethrpc.Client) error {
				start := time.Now()
				if err := api.Ping(c.Context, uint64(start.UnixNano())); err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, time.Since(start))
				return nil
			}),
		},
	}
}

func accountArgs(c *cli.Context) (addr common.Address, block eth.BlockNumber, err error) {
	a, err := parseAddress(c.Args().First())
	if err != nil {
		return addr, 0, err
	}
	block, err = parseBlock(c.String("block"))
	return a, block, err
}

type txFlags struct {
	secret   common.Hash
	value    *big.Int
	data     []byte
	gas      uint64
	gasPrice *big.Int
}

func txArgs(c *cli.Context) (tx txFlags, err error) {
	if tx.secret, err = parseSecret(c.String("secret")); err != nil {
		return tx, err
	}
	if tx.value, err = parseBig(c.String("value")); err != nil {
		return tx, err
	}
	if tx.data, err = parseBytes(c.String("data")); err != nil {
		return tx, err
	}
	tx.gas = c.Uint64("gas")
	if c.String("gas-price") != "" {
		if tx.gasPrice, err = parseBig(c.String("gas-price")); err != nil {
			return tx, err
		}
	}
	return tx, nil
}
