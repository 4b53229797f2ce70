// Tests for the DecentDB gRPC server's handler methods. These exercise
// Server's methods directly rather than through a dialed grpc.ClientConn:
// without generated client stubs (see package doc comment) there is no
// typed client to dial against, so the handlers are driven the same way
// grpc-go's own generated handler wrappers would drive them.
package server

import (
	"context"
	"path/filepath"
	"testing"

	decentdb "github.com/decentdb/decentdb"
	"github.com/decentdb/decentdb/internal/logger"
	"github.com/decentdb/decentdb/internal/metrics"
)

// testMetrics is shared by every test: NewMetrics registers its collectors
// with the default Prometheus registry, which panics on a second registration.
var testMetrics = metrics.NewMetrics()

func newTestServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server_test.db")
	log := logger.NewLogger(logger.Config{Level: "error"})
	srv, err := NewServer(path, decentdb.Config{PageSize: 4096, CachePages: 64}, log, testMetrics)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestServerCreateTableThenPutGet(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	if _, err := srv.CreateTable(ctx, &CreateTableRequest{
		Name: "albums",
		Columns: []ColumnSpec{
			{Name: "title", Kind: 4}, // record.KindText
		},
	}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	if _, err := srv.Put(ctx, &PutRequest{Table: "albums", Key: 1, Value: []byte("Rumours")}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := srv.Get(ctx, &GetRequest{Table: "albums", Key: 1})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Found || string(got.Value) != "Rumours" {
		t.Fatalf("Get: got %+v", got)
	}

	missing, err := srv.Get(ctx, &GetRequest{Table: "albums", Key: 2})
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if missing.Found {
		t.Fatalf("Get missing: expected not found, got %+v", missing)
	}
}

func TestServerDeleteAndScan(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	if _, err := srv.CreateTable(ctx, &CreateTableRequest{Name: "tracks"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	for i := uint64(1); i <= 5; i++ {
		if _, err := srv.Put(ctx, &PutRequest{Table: "tracks", Key: i, Value: []byte{byte(i)}}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	delResp, err := srv.Delete(ctx, &DeleteRequest{Table: "tracks", Key: 3})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !delResp.Found {
		t.Fatalf("Delete: expected found=true")
	}

	scanResp, err := srv.Scan(ctx, &ScanRequest{Table: "tracks", StartKey: 0, Limit: 100})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(scanResp.Rows) != 4 {
		t.Fatalf("Scan: got %d rows, want 4", len(scanResp.Rows))
	}
	for _, row := range scanResp.Rows {
		if row.Key == 3 {
			t.Fatalf("Scan: deleted key 3 still present")
		}
	}
}

func TestServerCheckpointAndVacuum(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	if _, err := srv.CreateTable(ctx, &CreateTableRequest{Name: "artists"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := srv.Put(ctx, &PutRequest{Table: "artists", Key: 1, Value: []byte("Fleetwood Mac")}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := srv.Checkpoint(ctx, &CheckpointRequest{Force: true}); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if _, err := srv.Vacuum(ctx, &VacuumRequest{}); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}

	got, err := srv.Get(ctx, &GetRequest{Table: "artists", Key: 1})
	if err != nil {
		t.Fatalf("Get after vacuum: %v", err)
	}
	if !got.Found || string(got.Value) != "Fleetwood Mac" {
		t.Fatalf("Get after vacuum: got %+v", got)
	}
}

func TestServerGetRequiresTable(t *testing.T) {
	srv := newTestServer(t)
	if _, err := srv.Get(context.Background(), &GetRequest{Key: 1}); err == nil {
		t.Fatal("expected error for missing table name")
	}
}
