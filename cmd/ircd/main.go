// Command ircd runs the server: load a TOML config, open the configured
// database and relay bus, bind every configured listener and serve until a
// signal asks it to stop (§6 "Command-line interface").
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pires/go-proxyproto"
	"github.com/prometheus/client_golang/prometheus"
	"nhooyr.io/websocket"

	zeusircd2 "github.com/Pryancito/zeusircd2"
	"github.com/Pryancito/zeusircd2/auth"
	"github.com/Pryancito/zeusircd2/config"
	"github.com/Pryancito/zeusircd2/database"
	"github.com/Pryancito/zeusircd2/relay"
)

const (
	exitOK          = 0
	exitConfigError = 1
	exitBindError   = 2
	exitFatal       = 3
)

var tlsCert atomic.Value // *tls.Certificate

func main() {
	var (
		configPath string
		genHash    bool
		genPass    string
		logLevel   string
	)
	flag.StringVar(&configPath, "c", "", "path to the TOML configuration file")
	flag.BoolVar(&genHash, "g", false, "hash a password and print it, then exit")
	flag.StringVar(&genPass, "P", "", "password to hash with -g (read from stdin if omitted)")
	flag.StringVar(&logLevel, "log-level", "", "override the configured log level")
	flag.Parse()

	if genHash {
		if genPass == "" {
			in, err := io.ReadAll(os.Stdin)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: failed to read password from stdin: %v\n", err)
				os.Exit(exitConfigError)
			}
			genPass = strings.TrimRight(string(in), "\r\n")
		}
		if genPass == "" {
			fmt.Fprintln(os.Stderr, "error: empty password")
			os.Exit(exitConfigError)
		}
		hash, err := auth.HashPassword(genPass)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: failed to hash password: %v\n", err)
			os.Exit(exitFatal)
		}
		fmt.Println(hash)
		os.Exit(exitOK)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitConfigError)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	db, err := database.Open(cfg.Database.Driver(), cfg.Database.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to open database: %v\n", err)
		os.Exit(exitConfigError)
	}

	logger := zeusircd2.NewLogger("[zeusircd2]")
	srv := zeusircd2.NewServer(cfg, db, logger)

	if mc, ok := db.(database.MetricsCollectorDatabase); ok {
		if err := mc.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			logger.Printf("failed to register database metrics: %v", err)
		}
	}

	seedPreregistered(srv, cfg, db, logger)

	if cfg.AMQP.URL != "" {
		bus := relay.New(relay.Config{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
			Queue:    cfg.AMQP.Queue,
		}, func(env *relay.Envelope) {
			zeusircd2.ApplyRemoteEvent(srv, env)
		}, logger.Printf)
		srv.SetBus(bus)
		bus.OnReconnect(func() { srv.PublishBurst() })
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := bus.Connect(ctx); err != nil {
			cancel()
			fmt.Fprintf(os.Stderr, "error: failed to connect to relay bus: %v\n", err)
			os.Exit(exitConfigError)
		}
		cancel()
	}

	if err := bindListeners(srv, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitBindError)
	}

	srv.Start()
	logger.Printf("server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			newCfg, err := loadConfig(configPath)
			if err != nil {
				logger.Printf("failed to reload configuration: %v", err)
				continue
			}
			srv.Rehash(newCfg)
		case syscall.SIGINT, syscall.SIGTERM:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := srv.Shutdown(ctx); err != nil {
				logger.Printf("shutdown did not complete cleanly: %v", err)
			}
			cancel()
			db.Close()
			os.Exit(exitOK)
		}
	}
}

// seedPreregistered loads the [[users]] and [[channels]] preregistration
// tables (§6) into the database and, for channels, into the Registry
// itself, so a channel exists with its configured topic and modes before
// anyone JOINs it. Nick records seeded here are consulted on demand by
// Server.checkNickPassword the first time someone tries to claim that nick.
func seedPreregistered(srv *zeusircd2.Server, cfg *config.Config, db database.Database, logger zeusircd2.Logger) {
	if db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, u := range cfg.Users {
		rec := &database.Record{
			Key:          strings.ToLower(u.Nick),
			Password:     u.Password,
			Mask:         u.Mask,
			RegisteredAt: time.Now(),
		}
		if err := db.StoreRegistered(ctx, database.KindNick, rec); err != nil {
			logger.Printf("failed to seed preregistered nick %q: %v", u.Nick, err)
		}
	}

	for _, c := range cfg.Channels {
		modes := chanModesString(c.Modes)
		rec := &database.Record{
			Key:          strings.ToLower(c.Name),
			Topic:        c.Topic,
			Modes:        modes,
			RegisteredAt: time.Now(),
		}
		if err := db.StoreRegistered(ctx, database.KindChannel, rec); err != nil {
			logger.Printf("failed to seed preregistered channel %q: %v", c.Name, err)
			continue
		}
		srv.Registry.SeedChannel(c.Name, c.Topic, modes, c.Modes.Bans, c.Modes.Exceptions(), c.Modes.InviteException, c.Modes.Key)
	}
}

// chanModesString renders a [channels.modes] table's boolean flags as the
// server's flag-mode letters (§4.C's imnpstr class). List-type and
// parametric modes (bans, key) are applied separately by SeedChannel; there
// is no wire letter for OnlyIRCOps in this server's CHANMODES, so a
// configured-but-true value is accepted and otherwise ignored (Open
// Question, DESIGN.md).
func chanModesString(m config.ChannelModes) string {
	var sb strings.Builder
	if m.Moderated {
		sb.WriteByte('m')
	}
	if m.InviteOnly {
		sb.WriteByte('i')
	}
	if m.Secret {
		sb.WriteByte('s')
	}
	if m.ProtectedTopic {
		sb.WriteByte('t')
	}
	if m.NoExternalMessages {
		sb.WriteByte('n')
	}
	if m.Registered {
		sb.WriteByte('r')
	}
	return sb.String()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Defaults(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	return cfg, nil
}

// bindListeners opens every [[listeners]] entry from cfg, serving plaintext
// and TLS connections directly and WebSocket connections through an HTTP
// upgrade handler, per §6's listener scheme list.
func bindListeners(srv *zeusircd2.Server, cfg *config.Config) error {
	for _, l := range cfg.Listeners {
		addr := net.JoinHostPort(l.Listen, strconv.Itoa(l.Port))

		switch {
		case l.WebSocket:
			if err := serveWebSocket(srv, l, addr); err != nil {
				return err
			}
		case l.TLS != nil:
			cert, err := tls.LoadX509KeyPair(l.TLS.CertFile, l.TLS.KeyFile)
			if err != nil {
				return fmt.Errorf("failed to load TLS certificate for %q: %w", addr, err)
			}
			tlsCert.Store(&cert)
			ln, err := tls.Listen("tcp", addr, &tls.Config{
				GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
					return tlsCert.Load().(*tls.Certificate), nil
				},
			})
			if err != nil {
				return fmt.Errorf("failed to listen on %q: %w", addr, err)
			}
			go serveListener(srv, &proxyproto.Listener{Listener: ln}, addr)
		default:
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %q: %w", addr, err)
			}
			go serveListener(srv, &proxyproto.Listener{Listener: ln}, addr)
		}
	}
	return nil
}

func serveListener(srv *zeusircd2.Server, ln net.Listener, addr string) {
	if err := srv.Serve(ln); err != nil {
		log.Printf("serving %q: %v", addr, err)
	}
}

func serveWebSocket(srv *zeusircd2.Server, l config.Listener, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{"text.ircv3.net"}})
		if err != nil {
			return
		}
		conn := websocket.NetConn(r.Context(), c, websocket.MessageText)
		srv.HandleConn(conn)
	})

	httpSrv := &http.Server{Addr: addr, Handler: mux}
	if l.TLS != nil {
		cert, err := tls.LoadX509KeyPair(l.TLS.CertFile, l.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate for %q: %w", addr, err)
		}
		httpSrv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		go func() {
			if err := httpSrv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				log.Printf("serving %q: %v", addr, err)
			}
		}()
		return nil
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("serving %q: %v", addr, err)
		}
	}()
	return nil
}
