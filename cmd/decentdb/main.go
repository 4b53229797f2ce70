// DecentDB gRPC server
// Exposes the embedded storage engine's Core API over the network.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	decentdb "github.com/decentdb/decentdb"
	"github.com/decentdb/decentdb/internal/logger"
	"github.com/decentdb/decentdb/internal/metrics"
	"github.com/decentdb/decentdb/internal/server"
)

var (
	port       = flag.Int("port", 50051, "The server port")
	obsPort    = flag.Int("obs-port", 9090, "Observability HTTP port (metrics, health, pprof)")
	dbPath     = flag.String("db", "decentdb.db", "Database file path")
	pageSize   = flag.Int("page-size", 4096, "Page size in bytes for newly created databases")
	cachePages = flag.Int("cache-pages", 4096, "Number of pages held in the page cache")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logPretty  = flag.Bool("log-pretty", false, "Pretty-print logs for local development")
)

func main() {
	flag.Parse()

	logger.InitGlobalLogger(logger.Config{Level: *logLevel, Pretty: *logPretty})
	log := logger.GetGlobalLogger()
	m := metrics.NewMetrics()

	log.LogServerStart(*port, *dbPath)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		log.Fatal("failed to listen").Err(err).Send()
	}

	srv, err := server.NewServer(*dbPath, decentdb.Config{
		PageSize:   uint32(*pageSize),
		CachePages: *cachePages,
	}, log, m)
	if err != nil {
		log.Fatal("failed to open database").Err(err).Send()
	}
	defer srv.Close()

	grpcServer := grpc.NewServer(
		server.CodecOption(),
		grpc.MaxRecvMsgSize(64*1024*1024),
		grpc.MaxSendMsgSize(64*1024*1024),
		grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(m, log)),
	)
	server.RegisterDecentDBServer(grpcServer, srv)

	// No generated .proto file descriptors exist for this service (see
	// internal/server's package doc comment), so grpc reflection — which
	// serves descriptors from the registry those generate into — is
	// skipped; grpcurl/grpcui against this server need the JSON wire
	// shapes of the json-tagged request/response structs in
	// internal/server/server.go instead of reflection.

	obs := server.NewObservabilityServer(*obsPort, log)
	go func() {
		if err := obs.Start(); err != nil {
			log.Error("observability server exited").Err(err).Send()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.LogServerShutdown()
		grpcServer.GracefulStop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(ctx)
	}()

	log.LogServerReady(*port)
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatal("failed to serve").Err(err).Send()
	}
}
