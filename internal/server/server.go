// Package server implements the DecentDB gRPC service over the Core API
// (spec.md §6). There is no protoc toolchain available in this environment,
// so the service descriptor below is hand-assembled instead of generated
// from a .proto file: request/response types are plain Go structs, wired
// to google.golang.org/grpc through a small JSON codec (codec.go) and a
// grpc.ServiceDesc built by hand. The wire contract (method names, field
// shapes) is the one a generated stub would have produced; only the
// generation step is different.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	decentdb "github.com/decentdb/decentdb"
	"github.com/decentdb/decentdb/internal/logger"
	"github.com/decentdb/decentdb/internal/metrics"
	"github.com/decentdb/decentdb/pkg/btree"
	"github.com/decentdb/decentdb/pkg/catalog"
	"github.com/decentdb/decentdb/pkg/record"
	"github.com/decentdb/decentdb/pkg/vfs"
)

// Server implements DecentDBServer, the Core API's gRPC-facing surface.
// Every RPC opens its own transaction and commits (or closes) before
// returning — there is no cross-call transaction handle over gRPC, by
// design: a network client cannot be trusted to release a held write lock.
// Scripted multi-statement transactions belong to the SQL layer (out of
// scope here; see spec.md §1), which can drive WriteTxn directly in-process.
type Server struct {
	db  *decentdb.Db
	log *logger.Logger
	m   *metrics.Metrics

	startTime time.Time
}

// NewServer opens path as a DecentDB database and returns a Server ready to
// be registered against a *grpc.Server via RegisterDecentDBServer.
func NewServer(path string, cfg decentdb.Config, log *logger.Logger, m *metrics.Metrics) (*Server, error) {
	db, err := decentdb.Open(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("server: open database: %w", err)
	}
	return &Server{db: db, log: log, m: m, startTime: time.Now()}, nil
}

// Close checkpoints and closes the underlying database.
func (s *Server) Close() error {
	return s.db.Close()
}

func grpcErr(op string, err error) error {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		return status.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, vfs.ErrAlreadyExists):
		return status.Errorf(codes.AlreadyExists, "%s: %v", op, err)
	case errors.Is(err, vfs.ErrMalformed):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, vfs.ErrCorrupted):
		return status.Errorf(codes.DataLoss, "%s: %v", op, err)
	case errors.Is(err, vfs.ErrResourceExhausted):
		return status.Errorf(codes.ResourceExhausted, "%s: %v", op, err)
	case errors.Is(err, vfs.ErrDurabilityFailed):
		return status.Errorf(codes.Unavailable, "%s: %v", op, err)
	case errors.Is(err, vfs.ErrSnapshotExpired):
		return status.Errorf(codes.Aborted, "%s: %v", op, err)
	case errors.Is(err, vfs.ErrNotSelective):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.Is(err, vfs.ErrIncompatibleFormat):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.Is(err, vfs.ErrBusy):
		return status.Errorf(codes.Unavailable, "%s: %v", op, err)
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

// ========== Row Operations ==========

// GetRequest/GetResponse carry one tree.get (spec.md §6 "tree.get").
type GetRequest struct {
	Table string `json:"table"`
	Key   uint64 `json:"key"`
}

type GetResponse struct {
	Value []byte `json:"value"`
	Found bool   `json:"found"`
}

func (s *Server) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	if req.Table == "" {
		return nil, status.Error(codes.InvalidArgument, "table is required")
	}
	rtx := s.db.BeginRead()
	defer rtx.Close()

	tree, err := rtx.OpenTree(req.Table)
	if err != nil {
		return nil, grpcErr("Get", err)
	}
	val, found, err := tree.Get(req.Key)
	if err != nil {
		return nil, grpcErr("Get", err)
	}
	return &GetResponse{Value: val, Found: found}, nil
}

// PutRequest/PutResponse carry one autocommit tree.put (spec.md §6
// "tree.put" wrapped in its own begin_write/commit pair).
type PutRequest struct {
	Table string `json:"table"`
	Key   uint64 `json:"key"`
	Value []byte `json:"value"`
}

type PutResponse struct {
	CommitLsn uint64 `json:"commit_lsn"`
}

func (s *Server) Put(ctx context.Context, req *PutRequest) (*PutResponse, error) {
	if req.Table == "" {
		return nil, status.Error(codes.InvalidArgument, "table is required")
	}
	wtx := s.db.BeginWrite()

	tree, err := wtx.OpenTree(req.Table)
	if err != nil {
		wtx.Rollback()
		return nil, grpcErr("Put", err)
	}
	if err := tree.Put(req.Key, req.Value); err != nil {
		wtx.Rollback()
		return nil, grpcErr("Put", err)
	}
	if err := wtx.PersistTreeRoot(req.Table, tree); err != nil {
		wtx.Rollback()
		return nil, grpcErr("Put", err)
	}
	lsn, err := wtx.Commit()
	if err != nil {
		s.m.RecordRollback()
		return nil, grpcErr("Put", err)
	}
	s.m.RecordCommit(0)
	s.log.TxnLogger().LogTxnCommit(fmt.Sprintf("put:%s:%d", req.Table, req.Key), lsn, 1, 0, nil)
	return &PutResponse{CommitLsn: lsn}, nil
}

// DeleteRequest/DeleteResponse carry one autocommit tree.delete.
type DeleteRequest struct {
	Table string `json:"table"`
	Key   uint64 `json:"key"`
}

type DeleteResponse struct {
	Found     bool   `json:"found"`
	CommitLsn uint64 `json:"commit_lsn"`
}

func (s *Server) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	if req.Table == "" {
		return nil, status.Error(codes.InvalidArgument, "table is required")
	}
	wtx := s.db.BeginWrite()

	tree, err := wtx.OpenTree(req.Table)
	if err != nil {
		wtx.Rollback()
		return nil, grpcErr("Delete", err)
	}
	found, err := tree.Delete(req.Key)
	if err != nil {
		wtx.Rollback()
		return nil, grpcErr("Delete", err)
	}
	if err := wtx.PersistTreeRoot(req.Table, tree); err != nil {
		wtx.Rollback()
		return nil, grpcErr("Delete", err)
	}
	lsn, err := wtx.Commit()
	if err != nil {
		s.m.RecordRollback()
		return nil, grpcErr("Delete", err)
	}
	s.m.RecordCommit(0)
	return &DeleteResponse{Found: found, CommitLsn: lsn}, nil
}

// ScanRequest/ScanResponse carry one tree.scan (spec.md §6 "tree.scan"),
// capped at Limit rows per call — a streaming RPC would avoid the cap, but
// the hand-assembled descriptor below only wires unary methods.
type ScanRequest struct {
	Table    string `json:"table"`
	StartKey uint64 `json:"start_key"`
	Backward bool   `json:"backward"`
	Limit    int32  `json:"limit"`
}

type Row struct {
	Key   uint64 `json:"key"`
	Value []byte `json:"value"`
}

type ScanResponse struct {
	Rows []Row `json:"rows"`
}

func (s *Server) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if req.Table == "" {
		return nil, status.Error(codes.InvalidArgument, "table is required")
	}
	limit := int(req.Limit)
	if limit <= 0 {
		limit = 1000
	}
	dir := btree.Forward
	if req.Backward {
		dir = btree.Backward
	}

	rtx := s.db.BeginRead()
	defer rtx.Close()

	tree, err := rtx.OpenTree(req.Table)
	if err != nil {
		return nil, grpcErr("Scan", err)
	}
	cur, err := tree.Scan(req.StartKey, dir)
	if err != nil {
		return nil, grpcErr("Scan", err)
	}

	resp := &ScanResponse{}
	for cur.Valid() && len(resp.Rows) < limit {
		val, err := cur.Value()
		if err != nil {
			return nil, grpcErr("Scan", err)
		}
		resp.Rows = append(resp.Rows, Row{Key: cur.Key(), Value: val})
		more, err := cur.Next()
		if err != nil {
			return nil, grpcErr("Scan", err)
		}
		if !more {
			break
		}
	}
	return resp, nil
}

// ========== Schema Operations ==========

// ColumnSpec describes one column of a CreateTableRequest.
type ColumnSpec struct {
	Name    string `json:"name"`
	Kind    int32  `json:"kind"` // record.Kind
	NotNull bool   `json:"not_null"`
}

type CreateTableRequest struct {
	Name    string       `json:"name"`
	Columns []ColumnSpec `json:"columns"`
}

type CreateTableResponse struct {
	SchemaCookie uint64 `json:"schema_cookie"`
}

func (s *Server) CreateTable(ctx context.Context, req *CreateTableRequest) (*CreateTableResponse, error) {
	if req.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}
	cols := make([]catalog.ColumnDef, len(req.Columns))
	for i, c := range req.Columns {
		cols[i] = catalog.ColumnDef{Name: c.Name, Type: record.Kind(c.Kind), NotNull: c.NotNull}
	}

	wtx := s.db.BeginWrite()
	if err := wtx.CreateTable(catalog.TableDef{Name: req.Name, Columns: cols}); err != nil {
		wtx.Rollback()
		return nil, grpcErr("CreateTable", err)
	}
	cookie := wtx.SchemaCookie()
	if _, err := wtx.Commit(); err != nil {
		s.m.RecordRollback()
		return nil, grpcErr("CreateTable", err)
	}
	s.m.RecordCommit(0)
	return &CreateTableResponse{SchemaCookie: cookie}, nil
}

// ========== Trigram Query ==========

type TrigramQueryRequest struct {
	Index   string `json:"index"`
	Pattern string `json:"pattern"`
}

type TrigramQueryResponse struct {
	RowIds    []uint64 `json:"row_ids"`
	Outcome   string   `json:"outcome"` // "ok" | "truncated"
	Truncated bool     `json:"truncated"`
}

func (s *Server) TrigramQuery(ctx context.Context, req *TrigramQueryRequest) (*TrigramQueryResponse, error) {
	if req.Index == "" || req.Pattern == "" {
		return nil, status.Error(codes.InvalidArgument, "index and pattern are required")
	}

	rtx := s.db.BeginRead()
	defer rtx.Close()

	idx, err := rtx.OpenTrigramIndex(req.Index)
	if err != nil {
		return nil, grpcErr("TrigramQuery", err)
	}

	// totalRows is an estimate the caller supplies via table statistics in
	// a full SQL layer; the gRPC surface does not track it, so every query
	// here runs against the trigram index's own posting-list frequencies.
	result, err := idx.Query(req.Pattern, 0, false)
	if err != nil {
		if errors.Is(err, vfs.ErrNotSelective) {
			s.m.RecordTrigramQuery("not_selective", 0, 0)
			return nil, grpcErr("TrigramQuery", err)
		}
		return nil, grpcErr("TrigramQuery", err)
	}
	outcome := "ok"
	if result.Truncated {
		outcome = "truncated"
	}
	s.m.RecordTrigramQuery(outcome, 0, 0)
	return &TrigramQueryResponse{RowIds: result.RowIDs, Outcome: outcome, Truncated: result.Truncated}, nil
}

// ========== Maintenance Operations ==========

type CheckpointRequest struct {
	Force bool `json:"force"`
}

type CheckpointResponse struct {
	UpToLsn   uint64                 `json:"up_to_lsn"`
	Timestamp *timestamppb.Timestamp `json:"timestamp"`
}

func (s *Server) Checkpoint(ctx context.Context, req *CheckpointRequest) (*CheckpointResponse, error) {
	mode := decentdb.CheckpointPassive
	modeLabel := "passive"
	if req.Force {
		mode = decentdb.CheckpointForce
		modeLabel = "force"
	}
	start := time.Now()
	lsn, err := s.db.Checkpoint(mode)
	if err != nil {
		s.m.RecordCheckpoint(modeLabel, "error", time.Since(start))
		s.log.LogCheckpoint(modeLabel, lsn, 0, time.Since(start), err)
		return nil, grpcErr("Checkpoint", err)
	}
	s.m.RecordCheckpoint(modeLabel, "ok", time.Since(start))
	s.log.LogCheckpoint(modeLabel, lsn, 0, time.Since(start), nil)
	return &CheckpointResponse{UpToLsn: lsn, Timestamp: timestamppb.Now()}, nil
}

type VacuumRequest struct{}

type VacuumResponse struct {
	Timestamp *timestamppb.Timestamp `json:"timestamp"`
}

func (s *Server) Vacuum(ctx context.Context, req *VacuumRequest) (*VacuumResponse, error) {
	if err := s.db.Vacuum(); err != nil {
		return nil, grpcErr("Vacuum", err)
	}
	return &VacuumResponse{Timestamp: timestamppb.Now()}, nil
}

// ========== Hand-assembled service descriptor ==========
// decentdbServer is the interface every RPC handler below is dispatched
// against; it plays the role a protoc-gen-go-grpc "DecentDBServer"
// interface would, without a .proto file to generate it from.
type decentdbServer interface {
	Get(context.Context, *GetRequest) (*GetResponse, error)
	Put(context.Context, *PutRequest) (*PutResponse, error)
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
	Scan(context.Context, *ScanRequest) (*ScanResponse, error)
	CreateTable(context.Context, *CreateTableRequest) (*CreateTableResponse, error)
	TrigramQuery(context.Context, *TrigramQueryRequest) (*TrigramQueryResponse, error)
	Checkpoint(context.Context, *CheckpointRequest) (*CheckpointResponse, error)
	Vacuum(context.Context, *VacuumRequest) (*VacuumResponse, error)
}

var _ decentdbServer = (*Server)(nil)

func unaryHandler[Req any, Resp any](call func(decentdbServer, context.Context, *Req) (*Resp, error), methodName string) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(decentdbServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodName}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(decentdbServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc is the hand-assembled counterpart to a protoc-generated
// _DecentDB_serviceDesc — the same shape grpc-go itself emits, built
// without the .proto/protoc step (see package doc comment and DESIGN.md).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "decentdb.v1.DecentDB",
	HandlerType: (*decentdbServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: unaryHandler[GetRequest, GetResponse]((decentdbServer).Get, "/decentdb.v1.DecentDB/Get")},
		{MethodName: "Put", Handler: unaryHandler[PutRequest, PutResponse]((decentdbServer).Put, "/decentdb.v1.DecentDB/Put")},
		{MethodName: "Delete", Handler: unaryHandler[DeleteRequest, DeleteResponse]((decentdbServer).Delete, "/decentdb.v1.DecentDB/Delete")},
		{MethodName: "Scan", Handler: unaryHandler[ScanRequest, ScanResponse]((decentdbServer).Scan, "/decentdb.v1.DecentDB/Scan")},
		{MethodName: "CreateTable", Handler: unaryHandler[CreateTableRequest, CreateTableResponse]((decentdbServer).CreateTable, "/decentdb.v1.DecentDB/CreateTable")},
		{MethodName: "TrigramQuery", Handler: unaryHandler[TrigramQueryRequest, TrigramQueryResponse]((decentdbServer).TrigramQuery, "/decentdb.v1.DecentDB/TrigramQuery")},
		{MethodName: "Checkpoint", Handler: unaryHandler[CheckpointRequest, CheckpointResponse]((decentdbServer).Checkpoint, "/decentdb.v1.DecentDB/Checkpoint")},
		{MethodName: "Vacuum", Handler: unaryHandler[VacuumRequest, VacuumResponse]((decentdbServer).Vacuum, "/decentdb.v1.DecentDB/Vacuum")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "decentdb.proto",
}

// RegisterDecentDBServer registers srv against grpcServer using the
// hand-assembled ServiceDesc above.
func RegisterDecentDBServer(grpcServer *grpc.Server, srv *Server) {
	grpcServer.RegisterService(&ServiceDesc, srv)
}
