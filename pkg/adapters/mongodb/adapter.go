// Package mongodb provides a MongoDB document store adapter for dbrowse.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MongoDB server error codes.
const (
	codeBadValue             = 2
	codeFailedToParse        = 9
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
	codeNamespaceNotFound    = 26
	codeMaxTimeMSExpired     = 50
	codeCommandNotFound      = 59
	codeCommandNotSupported  = 115
	codeExceededMemoryLimit  = 292
	codeInterrupted          = 11601
)

// Adapter implements the adapter.Adapter interface for MongoDB.
// Collections are presented as tables; documents are flattened into rows.
type Adapter struct {
	client   *mongo.Client
	db       *mongo.Database
	profile  core.ConnectionProfile
	params   Params
	settings adapter.Settings
	logger   *slog.Logger
	closed   atomic.Bool
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a new MongoDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{settings: adapter.DefaultSettings(), logger: logger}
}

// Configure applies shared settings.
func (a *Adapter) Configure(s adapter.Settings) { a.settings = s }

// Kind returns core.EngineMongoDB.
func (a *Adapter) Kind() core.EngineKind { return core.EngineMongoDB }

// Capabilities reports the MongoDB limits. The driver multiplexes a pool, so
// several calls may share one client.
func (a *Adapter) Capabilities() adapter.Capabilities {
	n := a.settings.MaxConcurrency
	if n <= 0 {
		n = 4
	}
	return adapter.Capabilities{MaxConcurrency: n, Cancellable: true, QueryLanguage: "mongodb-command"}
}

// Open connects to the deployment and verifies it with a primary ping.
func (a *Adapter) Open(ctx context.Context, profile core.ConnectionProfile, password string) error {
	params, err := decodeParams(profile.Params)
	if err != nil {
		return err
	}
	selection, err := params.selectionTimeout()
	if err != nil {
		return err
	}

	opts := options.Client().
		ApplyURI(buildURI(profile, password, params)).
		SetAppName(params.AppName).
		SetServerSelectionTimeout(selection).
		SetMaxPoolSize(uint64(a.Capabilities().MaxConcurrency)) //nolint:gosec // small positive value

	a.logger.Debug("connecting to mongodb", slog.String("host", profile.Address()), slog.String("database", databaseName(profile)))

	client, err := mongo.Connect(opts)
	if err != nil {
		return fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to ping mongodb: %w", err)
	}

	a.client = client
	a.db = client.Database(databaseName(profile))
	a.profile = profile
	a.params = params
	return nil
}

// Close disconnects the client. The handles stay in place so calls still
// running fail with mongo.ErrClientDisconnected.
func (a *Adapter) Close() error {
	if a.client == nil || !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.logger.Debug("closing mongodb connection", slog.String("profile", a.profile.Name))
	return a.client.Disconnect(context.Background())
}

func (a *Adapter) connected() bool {
	return a.db != nil && !a.closed.Load()
}

// Ping checks that the primary is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	if !a.connected() {
		return adapter.ErrNotConnected
	}
	return a.client.Ping(ctx, readpref.Primary())
}

// ListTables lists collections and views with their collStats sizes.
// Size is data plus index bytes.
func (a *Adapter) ListTables(ctx context.Context) ([]core.TableDescriptor, error) {
	if !a.connected() {
		return nil, adapter.ErrNotConnected
	}

	specs, err := a.db.ListCollectionSpecifications(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	tables := make([]core.TableDescriptor, 0, len(specs))
	for _, spec := range specs {
		if strings.HasPrefix(spec.Name, "system.") {
			continue
		}
		t := core.TableDescriptor{
			Name:               spec.Name,
			Kind:               core.KindCollection,
			EstimatedRowCount:  -1,
			EstimatedSizeBytes: -1,
		}
		if spec.Type == "view" {
			t.Kind = core.KindView
			tables = append(tables, t)
			continue
		}

		var stats bson.M
		if err := a.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: spec.Name}}).Decode(&stats); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Debug("collStats failed", slog.String("collection", spec.Name), slog.String("error", err.Error()))
		} else {
			if n, ok := toInt64(stats["count"]); ok {
				t.EstimatedRowCount = n
			}
			size, sizeOK := toInt64(stats["size"])
			idx, _ := toInt64(stats["totalIndexSize"])
			if sizeOK {
				t.EstimatedSizeBytes = size + idx
			}
		}
		tables = append(tables, t)
	}

	adapter.SortTables(tables)
	return tables, nil
}

// collectionExists reports whether name is a collection or view.
func (a *Adapter) collectionExists(ctx context.Context, name string) (bool, error) {
	names, err := a.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, fmt.Errorf("failed to look up collection: %w", err)
	}
	return len(names) > 0, nil
}

// requireCollection reports NotFoundError for an empty page whose collection
// does not exist. exists is only called when docs is empty.
func requireCollection(table string, docs []bson.D, exists func() (bool, error)) error {
	if len(docs) > 0 {
		return nil
	}
	ok, err := exists()
	if err != nil {
		return err
	}
	if !ok {
		return &core.NotFoundError{Object: table}
	}
	return nil
}

// GetTableSchema infers fields from a sample of documents and reads the
// collection indexes.
func (a *Adapter) GetTableSchema(ctx context.Context, table string) (*core.TableSchema, error) {
	if !a.connected() {
		return nil, adapter.ErrNotConnected
	}
	ok, err := a.collectionExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &core.NotFoundError{Object: table}
	}

	coll := a.db.Collection(table)
	docs, err := a.find(ctx, coll, bson.D{}, options.Find().SetLimit(int64(a.params.SampleSize)))
	if err != nil {
		return nil, err
	}

	specs, err := coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	indexes := make([]core.IndexDescriptor, 0, len(specs))
	for _, spec := range specs {
		indexes = append(indexes, core.IndexDescriptor{
			Name:       spec.Name,
			Columns:    indexColumns(spec.KeysDocument),
			Unique:     spec.Unique != nil && *spec.Unique,
			Definition: spec.KeysDocument.String(),
		})
	}

	return &core.TableSchema{Table: table, Columns: inferColumns(docs), Indexes: indexes}, nil
}

// EstimateRowCount uses collection metadata.
func (a *Adapter) EstimateRowCount(ctx context.Context, table string) (int64, error) {
	if !a.connected() {
		return 0, adapter.ErrNotConnected
	}
	n, err := a.db.Collection(table).EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate document count: %w", err)
	}
	return n, nil
}

// CountRows counts documents matching filter.
func (a *Adapter) CountRows(ctx context.Context, table, filter string) (int64, error) {
	doc, err := parseFilter(filter)
	if err != nil {
		return 0, err
	}
	if !a.connected() {
		return 0, adapter.ErrNotConnected
	}
	n, err := a.db.Collection(table).CountDocuments(ctx, doc)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// FetchPage runs find with skip and limit. The filter is an Extended JSON
// document; the sort is a document or a "field [ASC|DESC]" list.
func (a *Adapter) FetchPage(ctx context.Context, req core.PageRequest) (*core.PageResult, error) {
	if req.Table == "" {
		return nil, &core.QuerySyntaxError{Engine: core.EngineMongoDB, Message: "collection name is required"}
	}
	if req.Limit <= 0 || req.Offset < 0 {
		return nil, &core.QuerySyntaxError{Engine: core.EngineMongoDB, Message: fmt.Sprintf("invalid window offset=%d limit=%d", req.Offset, req.Limit)}
	}
	filter, err := parseFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	sortDoc, err := parseSort(req.Sort)
	if err != nil {
		return nil, err
	}
	if !a.connected() {
		return nil, adapter.ErrNotConnected
	}
	if threshold := a.settings.LargeOffsetWarning; threshold > 0 && req.Offset > threshold {
		a.logger.Warn("large skip walks and discards documents",
			slog.String("collection", req.Table),
			slog.Int("offset", req.Offset),
			slog.Int("threshold", threshold))
	}

	opts := options.Find().SetSkip(int64(req.Offset)).SetLimit(int64(req.Limit))
	if len(sortDoc) > 0 {
		opts.SetSort(sortDoc)
	}
	docs, err := a.find(ctx, a.db.Collection(req.Table), filter, opts)
	if err != nil {
		return nil, err
	}
	if err := requireCollection(req.Table, docs, func() (bool, error) { return a.collectionExists(ctx, req.Table) }); err != nil {
		return nil, err
	}

	cols, rows := documentsToPage(docs)
	return &core.PageResult{
		Columns:      cols,
		Rows:         rows,
		RowsReturned: len(rows),
		Sequence:     req.Sequence,
	}, nil
}

func (a *Adapter) find(ctx context.Context, coll *mongo.Collection, filter bson.D, opts *options.FindOptionsBuilder) ([]bson.D, error) {
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}
	defer func() { _ = cur.Close(context.WithoutCancel(ctx)) }()

	var docs []bson.D
	for cur.Next(ctx) {
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

// ExecuteRawQuery runs an Extended JSON database command, for example
// {"find": "users", "filter": {"age": {"$gt": 30}}}. Cursor replies are
// flattened from cursor.firstBatch; any other reply becomes a single row.
func (a *Adapter) ExecuteRawQuery(ctx context.Context, text string) (*core.PageResult, error) {
	if err := adapter.ValidateRawQuery(text); err != nil {
		return nil, err
	}
	var cmd bson.D
	if err := bson.UnmarshalExtJSON([]byte(text), false, &cmd); err != nil {
		return nil, &core.QuerySyntaxError{Engine: core.EngineMongoDB, Message: "command must be an Extended JSON document: " + err.Error()}
	}
	if len(cmd) == 0 {
		return nil, &core.QuerySyntaxError{Engine: core.EngineMongoDB, Message: "command document is empty"}
	}
	if !a.connected() {
		return nil, adapter.ErrNotConnected
	}

	raw, err := a.db.RunCommand(ctx, cmd).Raw()
	if err != nil {
		return nil, fmt.Errorf("failed to run command: %w", err)
	}
	return commandResult(raw, a.settings.MaxRawRows)
}

// cursorReply is the shape of commands that open a cursor (find, aggregate,
// listCollections, ...).
type cursorReply struct {
	Cursor *struct {
		ID         int64    `bson:"id"`
		FirstBatch []bson.D `bson:"firstBatch"`
	} `bson:"cursor"`
}

func commandResult(raw bson.Raw, limit int) (*core.PageResult, error) {
	var reply cursorReply
	if err := bson.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode command reply: %w", err)
	}

	var docs []bson.D
	truncated := false
	if reply.Cursor != nil {
		docs = reply.Cursor.FirstBatch
		truncated = reply.Cursor.ID != 0
	} else {
		var doc bson.D
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode command reply: %w", err)
		}
		docs = []bson.D{doc}
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
		truncated = true
	}

	cols, rows := documentsToPage(docs)
	return &core.PageResult{Columns: cols, Rows: rows, RowsReturned: len(rows), Truncated: truncated}, nil
}

// ClassifyError maps MongoDB server and driver errors into the core error taxonomy.
func (a *Adapter) ClassifyError(err error) error {
	if classified, ok := adapter.ClassifyCommon(err); ok {
		return classified
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) {
		switch ce.Code {
		case codeBadValue, codeFailedToParse:
			return &core.QuerySyntaxError{Engine: core.EngineMongoDB, Message: ce.Message}
		case codeNamespaceNotFound:
			return &core.NotFoundError{Message: ce.Message}
		case codeUnauthorized, codeAuthenticationFailed:
			return &core.ConnectionError{Profile: a.profile.Name, Reason: core.ReasonAuth, Message: ce.Message}
		case codeMaxTimeMSExpired:
			return &core.TimeoutError{}
		case codeInterrupted:
			return &core.CancelledError{}
		case codeCommandNotFound, codeCommandNotSupported:
			return &core.UnsupportedOperationError{Engine: core.EngineMongoDB, Operation: "command", Message: ce.Message}
		case codeExceededMemoryLimit:
			return &core.UnsupportedOperationError{Engine: core.EngineMongoDB, Operation: "sort", Message: ce.Message}
		}
		if ce.HasErrorLabel("NetworkError") {
			return &core.ConnectionError{Profile: a.profile.Name, Reason: core.ReasonNetwork, Message: ce.Message}
		}
		return &core.QuerySyntaxError{Engine: core.EngineMongoDB, Message: ce.Message}
	}

	switch {
	case mongo.IsNetworkError(err), errors.Is(err, mongo.ErrClientDisconnected):
		return &core.ConnectionError{Profile: a.profile.Name, Reason: core.ReasonNetwork, Message: adapter.RootMessage(err)}
	case mongo.IsTimeout(err):
		return &core.TimeoutError{}
	}

	return adapter.Rejected(core.EngineMongoDB, err)
}
