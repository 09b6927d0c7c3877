// Package config loads daemon and client settings from TOML or YAML files.
// Keys present in the file overlay the defaults; unknown keys are rejected.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"gopkg.in/yaml.v3"

	"webthree-rpc/codec"
	"webthree-rpc/loadbalance"
	"webthree-rpc/logging"
	"webthree-rpc/protocol"
)

var (
	ErrUnknownFormat = errors.New("config: unknown file format")
	ErrInvalid       = errors.New("config: invalid")
)

// Duration reads "1.5s" style values from either format.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type RegistryConfig struct {
	Endpoints   []string `toml:"endpoints" yaml:"endpoints"`
	DialTimeout Duration `toml:"dial_timeout" yaml:"dial_timeout"`
	TTL         int64    `toml:"ttl" yaml:"ttl"` // seconds
	Weight      int      `toml:"weight" yaml:"weight"`
	Version     string   `toml:"version" yaml:"version"`
}

// Enabled reports whether an etcd registry is configured.
func (r RegistryConfig) Enabled() bool {
	return len(r.Endpoints) > 0
}

type ServerConfig struct {
	Listen          string   `toml:"listen" yaml:"listen"`
	Advertise       string   `toml:"advertise" yaml:"advertise"`
	MetricsAddr     string   `toml:"metrics_addr" yaml:"metrics_addr"`
	Codec           string   `toml:"codec" yaml:"codec"`
	MaxPayloadSize  int      `toml:"max_payload_size" yaml:"max_payload_size"`
	RequestTimeout  Duration `toml:"request_timeout" yaml:"request_timeout"`
	RateLimit       float64  `toml:"rate_limit" yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst       int      `toml:"rate_burst" yaml:"rate_burst"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`

	ChainID int64             `toml:"chain_id" yaml:"chain_id"`
	Genesis map[string]string `toml:"genesis" yaml:"genesis"` // address -> balance in wei

	Registry RegistryConfig `toml:"registry" yaml:"registry"`
	Log      logging.Config `toml:"log" yaml:"log"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:          ":30310",
		MetricsAddr:     ":9310",
		Codec:           "rlp",
		MaxPayloadSize:  protocol.DefaultMaxSize,
		RequestTimeout:  Duration(10 * time.Second),
		RateBurst:       100,
		ShutdownTimeout: Duration(5 * time.Second),
		ChainID:         1337,
		Registry: RegistryConfig{
			DialTimeout: Duration(5 * time.Second),
			TTL:         10,
			Weight:      10,
		},
		Log: logging.DefaultConfig("ethrpcd"),
	}
}

type ClientConfig struct {
	Service     string         `toml:"service" yaml:"service"`
	Addrs       []string       `toml:"addrs" yaml:"addrs"` // static instances, used without a registry
	Registry    RegistryConfig `toml:"registry" yaml:"registry"`
	Balancer    string         `toml:"balancer" yaml:"balancer"`
	BalanceKey  string         `toml:"balance_key" yaml:"balance_key"`
	Codec       string         `toml:"codec" yaml:"codec"`
	DialTimeout Duration       `toml:"dial_timeout" yaml:"dial_timeout"`
	CallTimeout Duration       `toml:"call_timeout" yaml:"call_timeout"`
	Heartbeat   Duration       `toml:"heartbeat" yaml:"heartbeat"`
	MaxRetries  int            `toml:"max_retries" yaml:"max_retries"`
	RetryDelay  Duration       `toml:"retry_delay" yaml:"retry_delay"`
	Log         logging.Config `toml:"log" yaml:"log"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Service:     "eth",
		Addrs:       []string{"127.0.0.1:30310"},
		Balancer:    "round_robin",
		Codec:       "rlp",
		DialTimeout: Duration(5 * time.Second),
		CallTimeout: Duration(10 * time.Second),
		Heartbeat:   Duration(30 * time.Second),
		MaxRetries:  2,
		RetryDelay:  Duration(100 * time.Millisecond),
		Registry: RegistryConfig{
			DialTimeout: Duration(5 * time.Second),
		},
		Log: logging.Config{Level: "warn", Console: true, App: "ethrpc"},
	}
}

// LoadServerConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path != "" {
		if err := load(path, &cfg); err != nil {
			return ServerConfig{}, err
		}
	}
	cfg.Log.App = "ethrpcd"
	return cfg, cfg.Validate()
}

func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if path != "" {
		if err := load(path, &cfg); err != nil {
			return ClientConfig{}, err
		}
	}
	cfg.Log.App = "ethrpc"
	return cfg, cfg.Validate()
}

func load(path string, into any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return decodeTOML(data, into)
	case ".yaml", ".yml":
		return decodeYAML(data, into)
	}
	return fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

func decodeTOML(data []byte, into any) error {
	meta, err := toml.Decode(string(data), into)
	if err != nil {
		return fmt.Errorf("config: parse toml: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}
	return nil
}

func decodeYAML(data []byte, into any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(into); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse yaml: %w", err)
	}
	return nil
}

func validCodec(name string) error {
	if _, err := codec.ParseCodecType(name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c ServerConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalid)
	}
	if err := validCodec(c.Codec); err != nil {
		return err
	}
	if c.MaxPayloadSize <= 0 {
		return fmt.Errorf("%w: max_payload_size must be positive", ErrInvalid)
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst <= 0) {
		return fmt.Errorf("%w: rate_limit needs a positive rate_burst", ErrInvalid)
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("%w: chain_id must be positive", ErrInvalid)
	}
	if _, err := c.GenesisAlloc(); err != nil {
		return err
	}
	if c.Registry.Enabled() && c.Registry.TTL <= 0 {
		return fmt.Errorf("%w: registry ttl must be positive", ErrInvalid)
	}
	return nil
}

// GenesisAlloc parses the genesis table.
func (c ServerConfig) GenesisAlloc() (types.GenesisAlloc, error) {
	alloc := make(types.GenesisAlloc, len(c.Genesis))
	for addr, balance := range c.Genesis {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("%w: genesis address %q", ErrInvalid, addr)
		}
		v, ok := new(big.Int).SetString(strings.TrimSpace(balance), 0)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("%w: genesis balance %q for %s", ErrInvalid, balance, addr)
		}
		alloc[common.HexToAddress(addr)] = types.Account{Balance: v}
	}
	return alloc, nil
}

func (c ClientConfig) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("%w: service is empty", ErrInvalid)
	}
	if !c.Registry.Enabled() && len(c.Addrs) == 0 {
		return fmt.Errorf("%w: need registry endpoints or static addrs", ErrInvalid)
	}
	if err := validCodec(c.Codec); err != nil {
		return err
	}
	if _, err := loadbalance.New(c.Balancer); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries is negative", ErrInvalid)
	}
	return nil
}
