package weaviate

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"vecsync/internal/apperr"
	"vecsync/internal/vector"
)

// Store is a vector.Index backed by one Weaviate class.
type Store struct {
	client    *weaviate.Client
	spec      vector.CollectionSpec
	className string
	fields    []string
	intFields map[string]bool
}

func NewStore(client *weaviate.Client, spec vector.CollectionSpec) *Store {
	s := &Store{client: client, spec: spec, className: spec.Name, intFields: map[string]bool{}}
	if s.className == "" {
		s.className = vector.DefaultCollection
	}
	props, err := spec.Properties()
	if err != nil {
		// unsupported extras are reported by EnsureCollection
		props, _ = vector.CollectionSpec{}.Properties()
	}
	for _, p := range props {
		s.fields = append(s.fields, p.Name)
		if len(p.DataType) > 0 && p.DataType[0] == "int" {
			s.intFields[p.Name] = true
		}
	}
	return s
}

func (s *Store) EnsureCollection(ctx context.Context, createIfMissing bool) (bool, error) {
	exists, err := vector.EnsureSchema(ctx, NewSchemaAdapter(s.client), s.spec, createIfMissing)
	if err != nil {
		return exists, fmt.Errorf("%w: ensure collection %s: %v", apperr.ErrProvider, s.className, err)
	}
	return exists, nil
}

func (s *Store) Upsert(ctx context.Context, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}
	objects := make([]*models.Object, 0, len(points))
	for _, p := range points {
		objects = append(objects, &models.Object{
			Class:      s.className,
			ID:         strfmt.UUID(p.ID),
			Properties: p.Payload,
			Vector:     p.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: batch upsert: %v", apperr.ErrProvider, err)
	}

	var failures []string
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			failures = append(failures, fmt.Sprintf("%s: %s", r.ID, e.Message))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("%w: batch upsert rejected %d objects: %s", apperr.ErrProvider, len(failures), strings.Join(failures, "; "))
	}
	return nil
}

func (s *Store) Search(ctx context.Context, req vector.SearchRequest) ([]vector.ScoredPoint, error) {
	where, err := whereFor(req.Filter, s.intFields)
	if err != nil {
		return nil, err
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(req.Vector)
	if req.ScoreThreshold != nil {
		// cosine distance = 1 - similarity
		nearVector = nearVector.WithDistance(1 - *req.ScoreThreshold)
	}

	additional := []graphql.Field{{Name: "id"}, {Name: "distance"}}
	if req.WithVector {
		additional = append(additional, graphql.Field{Name: "vector"})
	}
	fields := []graphql.Field{{Name: "_additional", Fields: additional}}
	if req.WithPayload {
		for _, name := range s.fields {
			fields = append(fields, graphql.Field{Name: name})
		}
	}

	get := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithNearVector(nearVector).
		WithFields(fields...)
	if req.Limit > 0 {
		get = get.WithLimit(req.Limit)
	}
	if where != nil {
		get = get.WithWhere(where)
	}
	if req.Params != nil && req.Params.Autocut > 0 {
		get = get.WithAutocut(req.Params.Autocut)
	}

	res, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", apperr.ErrProvider, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql error: %s", apperr.ErrProvider, res.Errors[0].Message)
	}

	var results []vector.ScoredPoint
	data, _ := res.Data["Get"].(map[string]interface{})
	rows, _ := data[s.className].([]interface{})
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		hit := vector.ScoredPoint{}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			hit.ID, _ = additional["id"].(string)
			if d, ok := additional["distance"].(float64); ok {
				hit.Score = float32(1 - d)
			}
			if raw, ok := additional["vector"].([]interface{}); ok {
				hit.Vector = make([]float32, 0, len(raw))
				for _, v := range raw {
					f, _ := v.(float64)
					hit.Vector = append(hit.Vector, float32(f))
				}
			}
		}
		if req.WithPayload {
			hit.Payload = make(map[string]any, len(s.fields))
			for _, name := range s.fields {
				v, ok := props[name]
				if !ok || v == nil {
					continue
				}
				if f, isFloat := v.(float64); isFloat && s.intFields[name] {
					v = int(f)
				}
				hit.Payload[name] = v
			}
		}
		results = append(results, hit)
	}
	return results, nil
}

func (s *Store) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	where := filters.Where().
		WithPath([]string{"id"}).
		WithOperator(filters.ContainsAny).
		WithValueText(ids...)
	return s.deleteWhere(ctx, where)
}

func (s *Store) DeleteByFilter(ctx context.Context, filter *vector.Filter) error {
	if filter.IsEmpty() {
		return fmt.Errorf("%w: refusing to delete with an empty filter", apperr.ErrInput)
	}
	where, err := whereFor(filter, s.intFields)
	if err != nil {
		return err
	}
	return s.deleteWhere(ctx, where)
}

func (s *Store) DeleteByDocID(ctx context.Context, docID string) error {
	return s.DeleteByFilter(ctx, vector.DocIDFilter(docID))
}

func (s *Store) deleteWhere(ctx context.Context, where *filters.WhereBuilder) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: batch delete: %v", apperr.ErrProvider, err)
	}
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) (bool, error) {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: readiness: %v", apperr.ErrProvider, err)
	}
	return ready, nil
}

func (s *Store) CountPoints(ctx context.Context) (int, error) {
	meta := graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(meta).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", apperr.ErrProvider, err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("%w: graphql error: %s", apperr.ErrProvider, res.Errors[0].Message)
	}

	if agg, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if rows, ok := agg[s.className].([]interface{}); ok && len(rows) > 0 {
			if row, ok := rows[0].(map[string]interface{}); ok {
				if m, ok := row["meta"].(map[string]interface{}); ok {
					if count, ok := m["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}
