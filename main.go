package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	"github.com/Real-vivek09/collabkart/api"
	"github.com/Real-vivek09/collabkart/auth"
	"github.com/Real-vivek09/collabkart/directory"
	"github.com/Real-vivek09/collabkart/notify"
	"github.com/Real-vivek09/collabkart/store"
	"github.com/Real-vivek09/collabkart/ws"
)

const (
	kafkaGroupId = "collabkart-messenger"
	kafkaTopic   = "collabkart-notices"

	memoryQueueSize = 256
)

var (
	flagAddr    = flag.String("addr", "127.0.0.1:8000", "server address, ip:port")
	flagPidFile = flag.String("pid-file", "messenger.pid", "pid file")

	flagStore    = flag.String("store", "bolt", "message store backend: bolt | mysql")
	flagBoltPath = flag.String("bolt-path", "messenger.db", "bolt store file, for --store=bolt")
	flagMysqlDsn = flag.String("mysql-dsn", "root:@tcp(127.0.0.1:3306)/collabkart?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci", "mysql server dsn, for --store=mysql")

	flagNotifyQueue  = flag.String("notify-queue", "memory", "notice queue: memory | kafka")
	flagKafkaBrokers = flag.String("kafka-brokers", "127.0.0.1:9092", "comma separated kafka brokers, for --notify-queue=kafka")

	flagFcmCredentials = flag.String("fcm-credentials", "", "firebase service account file; empty disables push")

	flagAuth         = flag.String("auth", "gateway", "identity verifier: gateway | mock")
	flagSessionQuota = flag.Uint("session-quota", 5, "per user websocket session quota, allowed value in [1, 10]")

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

	if err := os.MkdirAll(*flagPprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", *flagPprofDir, err)
	}

	glog.Info("collabkart messenger is starting")

	var verifier auth.Verifier
	if *flagAuth == "mock" {
		verifier = &auth.MockVerifier{}
	} else {
		verifier = &auth.GatewayVerifier{}
	}

	var messageStore store.MessageStore
	var dir directory.Client

	if *flagStore == "mysql" {
		db, err := sql.Open("mysql", *flagMysqlDsn)
		if err != nil {
			return errorf("sql.Open error, dsn: %s, err: %v", *flagMysqlDsn, err)
		}
		db.SetConnMaxLifetime(time.Minute * 3)
		db.SetMaxOpenConns(100)
		db.SetMaxIdleConns(1)

		messageStore = store.NewMysqlStore(db)
		dir = directory.NewMysqlClient(db)
	} else {
		s, err := store.NewBoltStore(*flagBoltPath)
		if err != nil {
			return errorf("bolt store open error, path: %s, err: %v", *flagBoltPath, err)
		}
		messageStore = s
		// Standalone runs have no marketplace user table nearby; every
		// recipient is a push skip, the live channel still works.
		dir = directory.NewStaticClient()
	}
	defer func() {
		_ = messageStore.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var push notify.PushSender
	if *flagFcmCredentials != "" {
		var err error
		push, err = notify.NewFCMSender(ctx, *flagFcmCredentials)
		if err != nil {
			return errorf("fcm init error: %v", err)
		}
	} else {
		glog.Info("no --fcm-credentials, push channel disabled")
		push = notify.NopSender{}
	}

	hub := ws.NewHub(verifier, int(*flagSessionQuota))
	dispatcher := notify.NewDispatcher(dir, push, hub)

	var queue noticeQueue
	if *flagNotifyQueue == "kafka" {
		queue = notify.NewKafkaQueue(dispatcher, strings.Split(*flagKafkaBrokers, ","), kafkaTopic, kafkaGroupId)
	} else {
		queue = notify.NewMemoryQueue(dispatcher, memoryQueueSize)
	}

	server := api.NewServer(messageStore, dir, queue, verifier)
	router := api.NewRouter(server, hub, *flagDisableMetrics)

	lis, err := net.Listen("tcp", *flagAddr)
	if err != nil {
		return errorf("listen %s error: %v", *flagAddr, err)
	}

	httpServer := &http.Server{Handler: router}
	go func() {
		glog.Infof("http server is listening %v", *flagAddr)
		if err := httpServer.Serve(lis); errors.Is(err, http.ErrServerClosed) {
			glog.Infof("http server closed")
		} else if err != nil {
			glog.Errorf("error serve http server: %v", err)
		}
	}()

	queueStopDoneC := make(chan struct{})
	go queue.Run(ctx, queueStopDoneC)

	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to graceful stop", pid, pid, pid)

	var stopping bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	var prof *Profiler

	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR1:
			dumpGoroutines(*flagPprofDir)
		case syscall.SIGUSR2:
			if prof == nil {
				prof = StartProfiler(*flagPprofDir)
			} else {
				prof.Stop()
				prof = nil
			}
		case syscall.SIGTERM, syscall.SIGINT:
			if stopping {
				glog.Infof("messenger is already in stop")
				continue
			}
			stopping = true
			glog.Infof("received signal `%s`, stopping", sig.String())
			go func() {
				if prof != nil {
					prof.Stop()
				}
				_ = httpServer.Shutdown(context.Background())
				hub.Close()
				cancel()
				<-queueStopDoneC
				close(queueStopDoneC)
				if kq, ok := queue.(*notify.KafkaQueue); ok {
					_ = kq.Close()
				}
				signal.Stop(sigCh)
				close(sigCh)
			}()
		}
	}

	glog.Info("collabkart messenger exited")
	return 0
}

// noticeQueue is what main needs from either queue flavor.
type noticeQueue interface {
	notify.Producer
	Run(ctx context.Context, stopDoneC chan<- struct{})
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

	switch *flagStore {
	case "bolt":
		if *flagBoltPath == "" {
			return errorf("--bolt-path is required")
		}
	case "mysql":
		if *flagMysqlDsn == "" {
			return errorf("--mysql-dsn is required")
		}
	default:
		return errorf("--store MUST be one of: bolt, mysql")
	}

	switch *flagNotifyQueue {
	case "memory":
	case "kafka":
		if *flagKafkaBrokers == "" {
			return errorf("--kafka-brokers is required")
		}
	default:
		return errorf("--notify-queue MUST be one of: memory, kafka")
	}

	switch *flagAuth {
	case "gateway", "mock":
	default:
		return errorf("--auth MUST be one of: gateway, mock")
	}

	if *flagSessionQuota == 0 || *flagSessionQuota > 10 {
		return errorf("--session-quota MUST in range [1, 10]")
	}

	if *flagFcmCredentials != "" {
		if _, err := os.Stat(*flagFcmCredentials); err != nil {
			return errorf("error stat fcm credentials `%s`: %v", *flagFcmCredentials, err)
		}
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

func errorf(format string, args ...interface{}) int {
	glog.Errorf(format, args...)
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
			}
			glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
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
