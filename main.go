package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	kafka "github.com/segmentio/kafka-go"

	"github.com/konnect-im/konnectd/auth"
	"github.com/konnect-im/konnectd/ingest"
	"github.com/konnect-im/konnectd/presence"
	"github.com/konnect-im/konnectd/route"
	"github.com/konnect-im/konnectd/store"
	"github.com/konnect-im/konnectd/ws"
)

const (
	kafkaGroupId           = "konnectd"
	kafkaTopic             = "konnectd-announcements"
	announcementMaxBytes   = 4096
	announcementMaxAgeDays = 30
	systemIdentity         = "system"
)

var (
	flagAddr     = flag.String("addr", "127.0.0.1:8000", "server address, ip:port")
	flagPidFile  = flag.String("pid-file", "konnectd.pid", "pid file")
	flagMysqlDsn = flag.String("mysql-dsn", "root:@tcp(127.0.0.1:3306)/konnectd?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci", "mysql server dsn")

	flagMasterKey = flag.String("master-key", "", "hex master key for field encryption, at least 64 hex chars")

	flagJWTSecret = flag.String("jwt-secret", "", "HMAC secret for session tokens; empty enables the mock authenticator")
	flagJWTIssuer = flag.String("jwt-issuer", "konnectd", "expected token issuer")
	flagRedisAddr = flag.String("redis-addr", "", "redis address for the token denylist, empty disables revocation checks")

	flagKafkaBrokers = flag.String("kafka-brokers", "127.0.0.1:9092", "comma separated kafka brokers")
	flagEnableIngest = flag.Bool("enable-ingest", false, "consume announcements from kafka")

	flagLastSeenPath = flag.String("last-seen-path", "last_seen.db", "bbolt file for last seen times")

	flagAuthWait     = flag.Duration("auth-wait", 10*time.Second, "how long a connection may stay unauthenticated")
	flagEmitTimeout  = flag.Duration("emit-timeout", 3*time.Second, "bound on queueing a frame to a slow session")
	flagDrainLimit   = flag.Uint("drain-limit", 200, "mailbox drain batch limit, allowed value in [1, 1000]")
	flagHistoryLimit = flag.Uint("history-limit", 50, "history query limit, allowed value in [1, 500]")
	flagSessionQuota = flag.Uint("session-quota", 5, "per identity session quota, allowed value in [1, 10]")

	flagPprofDir       = flag.String("pprof-dir", "pprof", "dir to save pprof data files")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	pid := os.Getpid()

	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	pprofDir := filepath.Join(*flagPprofDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", pprofDir, err)
	}
	defer func() {
		_ = os.RemoveAll(pprofDir)
	}()

	db, err := sql.Open("mysql", *flagMysqlDsn)
	if err != nil {
		return errorf("sql.Open error, dsn: %s, err: %v", *flagMysqlDsn, err)
	}

	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(1)

	glog.Info("konnectd server is starting")

	codec, err := store.NewFieldCodecHex(*flagMasterKey)
	if err != nil {
		return errorf("--master-key: %v", err)
	}
	st := store.NewStore(db, codec)

	lastSeen, err := presence.OpenLastSeen(*flagLastSeenPath)
	if err != nil {
		return errorf("--last-seen-path: %v", err)
	}
	defer lastSeen.Close()

	registry := presence.NewRegistry(lastSeen)
	router := route.NewRouter(st, st, registry)

	hub := ws.NewHub(newAuthClient(), st, router, registry, &ws.Conf{
		AuthWait:     *flagAuthWait,
		EmitTimeout:  *flagEmitTimeout,
		DrainLimit:   int(*flagDrainLimit),
		HistoryLimit: int(*flagHistoryLimit),
		SessionQuota: int(*flagSessionQuota),
	})

	mux := http.DefaultServeMux
	if !*flagDisableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}
	mux.Handle("/ws", hub)

	srv := &http.Server{Addr: *flagAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridgeDoneC := make(chan struct{}, 1)
	if *flagEnableIngest {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: strings.Split(*flagKafkaBrokers, ","),
			GroupID: kafkaGroupId,
			Topic:   kafkaTopic,
		})
		bridge := ingest.NewBridge(router, reader, systemIdentity,
			announcementMaxAgeDays, announcementMaxBytes)
		go bridge.Run(ctx, bridgeDoneC)
	} else {
		bridgeDoneC <- struct{}{}
	}

	httpErrC := make(chan error, 1)
	go func() {
		httpErrC <- srv.ListenAndServe()
	}()

	glog.Infof("konnectd server is listening on %s", *flagAddr)
	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to graceful stop", pid, pid, pid)

	var stopping bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	var prof *Profiler

	for {
		select {
		case err := <-httpErrC:
			if err != http.ErrServerClosed {
				return errorf("http server error: %v", err)
			}
		case sig, ok := <-sigCh:
			if !ok {
				glog.Info("konnectd server exited")
				return 0
			}
			switch sig {
			case syscall.SIGUSR1:
				dumpGoroutines(pprofDir)
			case syscall.SIGUSR2:
				if prof == nil {
					prof = StartProfiler(pprofDir)
				} else {
					prof.Stop()
					prof = nil
				}
			case syscall.SIGTERM, syscall.SIGINT:
				if stopping {
					glog.Infof("konnectd server is already in stop")
					continue
				}
				stopping = true
				glog.Infof("received signal `%s`, stopping", sig.String())
				go func() {
					if prof != nil {
						prof.Stop()
					}
					shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
					defer done()
					_ = srv.Shutdown(shutdownCtx)
					hub.Shutdown()
					cancel()
					<-bridgeDoneC
					_ = db.Close()
					signal.Stop(sigCh)
					close(sigCh)
				}()
			}
		}
	}
}

func newAuthClient() auth.Client {
	if *flagJWTSecret == "" {
		glog.Warning("--jwt-secret is empty: using the mock authenticator, dev only")
		return &auth.MockClient{}
	}

	var rdb *redis.Client
	if *flagRedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: *flagRedisAddr})
	}
	return auth.NewJWTClient([]byte(*flagJWTSecret), *flagJWTIssuer, rdb)
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr: %v", err)
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}
	if *flagMysqlDsn == "" {
		return errorf("--mysql-dsn is required.")
	}
	if *flagMasterKey == "" {
		return errorf("--master-key is required")
	}
	if *flagLastSeenPath == "" {
		return errorf("--last-seen-path is required")
	}

	if *flagEnableIngest && len(*flagKafkaBrokers) == 0 {
		return errorf("--kafka-brokers is required.")
	}

	if *flagDrainLimit == 0 || *flagDrainLimit > 1000 {
		return errorf("--drain-limit MUST in range [1, 1000]")
	}
	if *flagHistoryLimit == 0 || *flagHistoryLimit > 500 {
		return errorf("--history-limit MUST in range [1, 500]")
	}
	if *flagSessionQuota == 0 {
		return errorf("--session-quota is required positive integer")
	} else if *flagSessionQuota > 10 {
		return errorf("--session-quota MUST in range [1, 10]")
	}

	return 0
}

func validateAddr(s string) error {
	ips, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	ip := net.ParseIP(ips)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", ips)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() {
		return fmt.Errorf("`%s` is not loopback or private address", ips)
	}
	return nil
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		// Ok, see, if we have a stale lockfile here
		content, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(string(content))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("pid file: exists with pid: %d, the process is running", oldPid)
			} else {
				glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: stat error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	glog.Infof("pid file: write pid done")
	return nil
}
