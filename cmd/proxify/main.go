package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/websecurify/proxify/cert"
	"github.com/websecurify/proxify/cmd"
	"github.com/websecurify/proxify/proxy"
	"github.com/websecurify/proxify/proxyprotocol"
)

var version = "notset"

func main() {
	logger := logrus.New()

	config, err := cmd.LoadConfig(cmd.NewFlagSet("proxify"), os.Args[1:])
	if err == pflag.ErrHelp {
		return
	} else if err != nil {
		logger.Fatalln(err)
	}

	level, err := config.Level()
	if err != nil {
		logger.Fatalln(err)
	}
	logger.SetLevel(level)

	root, err := cmd.LoadRoot(config, logger)
	if err != nil {
		logger.Fatalln(err)
	}

	authority := &cert.Authority{
		Default:   root,
		KeyLength: config.KeyLength,
		Logger:    logger,
	}

	if config.RedisAddress != "" {
		store := &cert.RedisStore{
			Client: redis.NewClient(&redis.Options{
				Addr:     config.RedisAddress,
				Password: config.RedisPassword,
			}),
			Logger: logger,
		}
		defer store.Client.Close()

		n, err := store.Seed(context.Background(), authority)
		if err != nil {
			logger.Fatalln(err)
		}
		logger.Infof("Loaded %d certificate(s) from redis at %s", n, config.RedisAddress)

		store.Attach(authority)
	}

	upstreamTLSConfig, err := config.UpstreamTLSConfig(logger)
	if err != nil {
		logger.Fatalln(err)
	}

	p := proxy.NewProxy(authority, logger)
	p.Transports = proxy.DefaultTransports(upstreamTLSConfig)
	p.Transparent = config.Transparent
	p.Registry.TLSConfig = config.TLSConfig()

	listener, err := net.Listen("tcp", config.Addr)
	if err != nil {
		logger.Fatalln(err)
	}

	if config.ProxyProtocol {
		listener = proxyprotocol.NewListener(listener, logger)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		shutdownOnSignal(p, config, logger)
	}()

	logger.Infof("Proxify %s listening on %s", version, listener.Addr())

	if err := p.Serve(listener); err != nil {
		logger.Fatalln(err)
	}

	// Serve() returns as soon as shutdown begins.
	<-done
}

// shutdownOnSignal shuts the proxy down gracefully when the process receives
// SIGINT or SIGTERM.
func shutdownOnSignal(p *proxy.Proxy, config *cmd.Config, logger logrus.FieldLogger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signals
	logger.Infof("Received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := p.Shutdown(ctx); err != nil {
		logger.Warnf("Unable to shut down cleanly: %s", err)
	}
}
