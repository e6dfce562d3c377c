// Command gateway is a demo order-gateway client: it connects to the
// exchange order endpoint, authenticates, submits a batch of orders and
// keeps the session alive until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/tickex/wire"
)

// gateway config.toml key mapping.
type fileConfig struct {
	Addr              string   `toml:"addr"`
	Token             string   `toml:"token"`
	UserID            string   `toml:"user_id"`
	Symbols           []string `toml:"symbols"`
	Orders            int      `toml:"orders"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	AckTimeout        string   `toml:"ack_timeout"`
}

type config struct {
	Addr              string
	Token             string
	UserID            string
	Symbols           []string
	Orders            int
	HeartbeatInterval time.Duration
	AckTimeout        time.Duration
}

func defaultConfig() config {
	return config{
		Addr:              "127.0.0.1:9090",
		UserID:            "demo",
		Symbols:           []string{"AAPL", "GOOGL", "MSFT", "TSLA"},
		Orders:            10,
		HeartbeatInterval: 5 * time.Second,
		AckTimeout:        15 * time.Second,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load gateway config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = raw.Addr
	}
	if meta.IsDefined("token") {
		cfg.Token = raw.Token
	}
	if meta.IsDefined("user_id") {
		cfg.UserID = raw.UserID
	}
	if meta.IsDefined("symbols") {
		cfg.Symbols = raw.Symbols
	}
	if meta.IsDefined("orders") {
		cfg.Orders = raw.Orders
	}
	if meta.IsDefined("heartbeat_interval") {
		if cfg.HeartbeatInterval, err = time.ParseDuration(raw.HeartbeatInterval); err != nil {
			return config{}, fmt.Errorf("heartbeat_interval: %w", err)
		}
	}
	if meta.IsDefined("ack_timeout") {
		if cfg.AckTimeout, err = time.ParseDuration(raw.AckTimeout); err != nil {
			return config{}, fmt.Errorf("ack_timeout: %w", err)
		}
	}

	return cfg, nil
}

// zeroLogger adapts a zerolog.Logger to the wire.Logger interface.
type zeroLogger struct {
	log zerolog.Logger
}

func (l zeroLogger) Debug(msg string, args ...any) { l.emit(l.log.Debug(), msg, args) }
func (l zeroLogger) Info(msg string, args ...any)  { l.emit(l.log.Info(), msg, args) }
func (l zeroLogger) Warn(msg string, args ...any)  { l.emit(l.log.Warn(), msg, args) }
func (l zeroLogger) Error(msg string, args ...any) { l.emit(l.log.Error(), msg, args) }

func (l zeroLogger) emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		ev = ev.Interface(fmt.Sprint(args[i]), args[i+1])
	}
	ev.Msg(msg)
}

func main() {
	configPath := flag.String("config", "", "path to gateway config.toml")
	flag.Parse()

	logger := zeroLogger{log: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("config error", "error", err)
		os.Exit(1)
	}

	conn, err := wire.Dial(cfg.Addr,
		wire.LoggerOption(logger),
		wire.HeartbeatIntervalOption(cfg.HeartbeatInterval),
		wire.AckTimeoutOption(cfg.AckTimeout),
		wire.OnMessageOption(func(m wire.Message) error {
			if resp, ok := m.(wire.OrderResponse); ok {
				logger.Info("order response", "bytes", len(resp.Raw))
			}
			return nil
		}))
	if err != nil {
		logger.Error("dial failed", "addr", cfg.Addr, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down gateway...")
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		done <- conn.Run(ctx)
	}()

	loginCtx, loginCancel := context.WithTimeout(ctx, 10*time.Second)
	defer loginCancel()
	if err := conn.Login(loginCtx, cfg.Token); err != nil {
		logger.Error("login failed", "error", err)
		conn.Close()
		os.Exit(1)
	}
	logger.Info("authenticated", "addr", cfg.Addr)

	for i := 0; i < cfg.Orders; i++ {
		order := wire.SubmitOrder{
			OrderID:     fmt.Sprintf("order_%d_%d", time.Now().UnixNano(), i),
			UserID:      cfg.UserID,
			Symbol:      cfg.Symbols[rand.Intn(len(cfg.Symbols))],
			Side:        wire.Side(rand.Intn(2)),
			OrderType:   wire.OrderTypeLimit,
			Quantity:    uint32(rand.Intn(100) + 1),
			Price:       100.0 + rand.Float64()*100.0,
			TimestampMs: uint64(time.Now().UnixMilli()),
		}
		if err := conn.SubmitOrder(ctx, order); err != nil {
			logger.Error("submit failed", "order_id", order.OrderID, "error", err)
			break
		}
		logger.Info("order submitted", "order_id", order.OrderID, "symbol", order.Symbol)
		time.Sleep(time.Duration(rand.Intn(100)) * time.Millisecond)
	}

	if err := <-done; err != nil {
		logger.Error("connection terminated", "error", err)
	}
}
