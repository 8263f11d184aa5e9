package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-faster/errors"
	"github.com/krau/wabot/types"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// MessageHandler receives every normalized inbound message.
type MessageHandler func(ctx context.Context, conn types.Conn, m *types.Message)

type Options struct {
	SessionPath string
	// Pair with a phone number code instead of a QR code.
	PairPhone string
	LogLevel  string
	LogFile   string
	// Maximum number of messages dispatched concurrently.
	Workers int
	// Connection-specific prefix override, nil for none.
	Prefix *regexp.Regexp
}

var wc *Client

func GetClient() *Client {
	if wc == nil {
		panic("Client is not initialized, call NewClient first")
	}
	return wc
}

type Client struct {
	WA     *whatsmeow.Client
	logger *zap.Logger
	opts   Options

	ctx     context.Context
	handler MessageHandler
	workers *errgroup.Group
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	log.FromContext(ctx).Debug("Initializing whatsapp client")
	if wc != nil {
		return wc, nil
	}
	if opts.LogFile == "" {
		opts.LogFile = filepath.Join("data", "logs", "client.jsonl")
	}
	if opts.Workers <= 0 {
		opts.Workers = 32
	}
	if err := os.MkdirAll(filepath.Dir(opts.SessionPath), os.ModePerm); err != nil {
		return nil, errors.Wrap(err, "create session directory")
	}

	res := make(chan struct {
		client *Client
		err    error
	}, 1)
	go func() {
		zlog := zap.New(zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.LogFile,
				MaxBackups: 3,
				MaxAge:     7,
			}),
			zapLevel(opts.LogLevel),
		))
		waLogger := newWALogger(zlog)
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)", opts.SessionPath)
		container, err := sqlstore.New(ctx, "sqlite3", dsn, waLogger.Sub("Database"))
		if err != nil {
			res <- struct {
				client *Client
				err    error
			}{nil, errors.Wrap(err, "open session store")}
			return
		}
		device, err := container.GetFirstDevice(ctx)
		if err != nil {
			res <- struct {
				client *Client
				err    error
			}{nil, errors.Wrap(err, "get device")}
			return
		}
		workers := &errgroup.Group{}
		workers.SetLimit(opts.Workers)
		res <- struct {
			client *Client
			err    error
		}{&Client{
			WA:      whatsmeow.NewClient(device, waLogger.Sub("Client")),
			logger:  zlog,
			opts:    opts,
			workers: workers,
		}, nil}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-res:
		if r.err != nil {
			return nil, r.err
		}
		wc = r.client
		return wc, nil
	}
}

// Start logs in if needed, connects and begins delivering messages to handler.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.ctx = ctx
	c.handler = handler
	c.WA.AddEventHandler(c.handleEvent)
	if c.WA.Store.ID == nil {
		return c.login(ctx)
	}
	if err := c.WA.Connect(); err != nil {
		return errors.Wrap(err, "connect")
	}
	log.FromContext(ctx).Info("Connected", "id", c.SelfID())
	return nil
}

// Close disconnects and waits for in-flight dispatches.
func (c *Client) Close() error {
	c.WA.Disconnect()
	c.workers.Wait()
	if c.logger != nil {
		c.logger.Sync()
	}
	wc = nil
	return nil
}

func zapLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// waLogger routes whatsmeow's logs into the client log file.
type waLogger struct {
	s *zap.SugaredLogger
}

func newWALogger(z *zap.Logger) waLog.Logger {
	return waLogger{s: z.Sugar()}
}

func (l waLogger) Debugf(msg string, args ...any) { l.s.Debugf(msg, args...) }
func (l waLogger) Infof(msg string, args ...any)  { l.s.Infof(msg, args...) }
func (l waLogger) Warnf(msg string, args ...any)  { l.s.Warnf(msg, args...) }
func (l waLogger) Errorf(msg string, args ...any) { l.s.Errorf(msg, args...) }
func (l waLogger) Sub(module string) waLog.Logger { return waLogger{s: l.s.Named(module)} }
