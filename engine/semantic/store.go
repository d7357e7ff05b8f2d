package semantic

import (
	"context"
	"fmt"
	"sort"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/grantdraft/grantdraft/engine/domain"
)

// Payload keys.
const (
	keyDocument    = "document_name"
	keyChunkIndex  = "chunk_index"
	keyChunkText   = "chunk_text"
	keyTotalChunks = "total_chunks"
	keyNamespace   = "namespace"
)

// maxNamespaces bounds facet enumeration.
const maxNamespaces = 100_000

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	Facet(ctx context.Context, in *pb.FacetCounts, opts ...grpc.CallOption) (*pb.FacetResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Qdrant implements Store on a single Qdrant collection. Namespaces live in
// an indexed keyword payload field.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

var _ Store = (*Qdrant)(nil)

// apiKey attaches the Qdrant api-key header to every call.
type apiKey string

func (k apiKey) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": string(k)}, nil
}

func (apiKey) RequireTransportSecurity() bool { return false }

// NewQdrant connects to Qdrant's gRPC endpoint at addr.
func NewQdrant(addr, collection, key string) (*Qdrant, error) {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if key != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKey(key)))
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &Qdrant{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds a Qdrant store on existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *Qdrant {
	return &Qdrant{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// EnsureCollection creates the collection with cosine distance and the
// namespace index if it does not exist, and checks the dimension of an
// existing one.
func (q *Qdrant) EnsureCollection(ctx context.Context, dims int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return &domain.StoreError{Op: "list collections", Err: err}
	}
	for _, c := range list.GetCollections() {
		if c.GetName() != q.collection {
			continue
		}
		got, err := q.dimension(ctx)
		if err != nil {
			return err
		}
		if got != dims {
			return &domain.StoreError{
				Op:  "ensure collection",
				Err: fmt.Errorf("collection %s has dimension %d, want %d", q.collection, got, dims),
			}
		}
		return nil
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return &domain.StoreError{Op: "create collection", Err: err}
	}

	wait := true
	keyword := pb.FieldType_FieldTypeKeyword
	_, err = q.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: q.collection,
		Wait:           &wait,
		FieldName:      keyNamespace,
		FieldType:      &keyword,
	})
	if err != nil {
		return &domain.StoreError{Op: "create namespace index", Err: err}
	}
	return nil
}

// DeleteCollection drops the whole collection.
func (q *Qdrant) DeleteCollection(ctx context.Context) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection})
	if err != nil {
		return &domain.StoreError{Op: "delete collection", Err: err}
	}
	return nil
}

// Upsert writes records into namespace as one batch.
func (q *Qdrant) Upsert(ctx context.Context, namespace string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		md := r.Metadata
		md.Namespace = namespace
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: toPayload(md),
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return &domain.StoreError{Op: "upsert", Namespace: namespace, Records: len(records), Err: err}
	}
	return nil
}

// Query performs k-NN similarity search, optionally within one namespace.
func (q *Qdrant) Query(ctx context.Context, vector []float32, topK int, namespace string) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	req := &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if namespace != "" {
		req.Filter = namespaceFilter(namespace)
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, &domain.StoreError{Op: "query", Namespace: namespace, Err: err}
	}

	matches := make([]Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		matches[i] = Match{
			ID:       r.GetId().GetUuid(),
			Score:    r.GetScore(),
			Metadata: fromPayload(r.GetPayload()),
		}
	}
	sortMatches(matches)
	return matches, nil
}

// Describe reports point totals, dimension and per-namespace counts.
func (q *Qdrant) Describe(ctx context.Context) (IndexStats, error) {
	info, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: q.collection})
	if err != nil {
		return IndexStats{}, &domain.StoreError{Op: "describe", Err: err}
	}
	counts, err := q.namespaceCounts(ctx)
	if err != nil {
		return IndexStats{}, err
	}
	res := info.GetResult()
	return IndexStats{
		TotalVectorCount: int(res.GetPointsCount()),
		Dimension:        int(res.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()),
		Namespaces:       counts,
	}, nil
}

// DeleteNamespace removes every point in namespace.
func (q *Qdrant) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := q.deleteWhere(ctx, namespaceFilter(namespace)); err != nil {
		return &domain.StoreError{Op: "delete namespace", Namespace: namespace, Err: err}
	}
	return nil
}

// Prune removes the points of namespace whose id is not in keep.
func (q *Qdrant) Prune(ctx context.Context, namespace string, keep []string) error {
	filter := namespaceFilter(namespace)
	if len(keep) > 0 {
		ids := make([]*pb.PointId, len(keep))
		for i, id := range keep {
			ids[i] = pb.NewIDUUID(id)
		}
		filter.MustNot = []*pb.Condition{pb.NewHasID(ids...)}
	}
	if err := q.deleteWhere(ctx, filter); err != nil {
		return &domain.StoreError{Op: "prune", Namespace: namespace, Err: err}
	}
	return nil
}

// ListNamespaces returns the sorted names of non-empty namespaces.
func (q *Qdrant) ListNamespaces(ctx context.Context) ([]string, error) {
	counts, err := q.namespaceCounts(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(counts))
	for ns := range counts {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of points in namespace.
func (q *Qdrant) Count(ctx context.Context, namespace string) (int, error) {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{
		CollectionName: q.collection,
		Filter:         namespaceFilter(namespace),
		Exact:          &exact,
	})
	if err != nil {
		return 0, &domain.StoreError{Op: "count", Namespace: namespace, Err: err}
	}
	return int(resp.GetResult().GetCount()), nil
}

func (q *Qdrant) namespaceCounts(ctx context.Context) (map[string]int, error) {
	exact := true
	limit := uint64(maxNamespaces)
	resp, err := q.points.Facet(ctx, &pb.FacetCounts{
		CollectionName: q.collection,
		Key:            keyNamespace,
		Limit:          &limit,
		Exact:          &exact,
	})
	if err != nil {
		return nil, &domain.StoreError{Op: "list namespaces", Err: err}
	}
	counts := make(map[string]int, len(resp.GetHits()))
	for _, h := range resp.GetHits() {
		ns := h.GetValue().GetStringValue()
		if ns == "" || h.GetCount() == 0 {
			continue
		}
		counts[ns] = int(h.GetCount())
	}
	return counts, nil
}

func (q *Qdrant) dimension(ctx context.Context) (int, error) {
	info, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: q.collection})
	if err != nil {
		return 0, &domain.StoreError{Op: "describe", Err: err}
	}
	return int(info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()), nil
}

func (q *Qdrant) deleteWhere(ctx context.Context, filter *pb.Filter) error {
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
		},
	})
	return err
}

func namespaceFilter(namespace string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{fieldMatch(keyNamespace, namespace)}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func toPayload(md Metadata) map[string]*pb.Value {
	str := func(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
	num := func(n int) *pb.Value { return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}} }
	return map[string]*pb.Value{
		keyDocument:    str(md.DocumentName),
		keyChunkIndex:  num(md.ChunkIndex),
		keyChunkText:   str(md.ChunkText),
		keyTotalChunks: num(md.TotalChunks),
		keyNamespace:   str(md.Namespace),
	}
}

func fromPayload(p map[string]*pb.Value) Metadata {
	return Metadata{
		DocumentName: p[keyDocument].GetStringValue(),
		ChunkIndex:   intValue(p[keyChunkIndex]),
		ChunkText:    p[keyChunkText].GetStringValue(),
		TotalChunks:  intValue(p[keyTotalChunks]),
		Namespace:    p[keyNamespace].GetStringValue(),
	}
}

// intValue accepts integers stored as doubles by other writers.
func intValue(v *pb.Value) int {
	switch k := v.GetKind().(type) {
	case *pb.Value_IntegerValue:
		return int(k.IntegerValue)
	case *pb.Value_DoubleValue:
		return int(k.DoubleValue)
	}
	return 0
}
