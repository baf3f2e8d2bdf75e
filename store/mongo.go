package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iguinea/mongodb-session-manager/model"
)

// DefaultCollection is the collection name used when Options leaves
// Collection empty.
const DefaultCollection = "sessions"

// Options configures a MongoStore beyond its database handle.
type Options struct {
	// Collection overrides the collection name. Defaults to "sessions".
	Collection string

	// MetadataFields lists metadata keys to pre-seed (as empty strings)
	// on session creation and to index for the viewer's filter UI.
	MetadataFields []string
}

// MongoStore is the production Store implementation, backed by a single
// collection holding one document per session.
type MongoStore struct {
	coll           *mongo.Collection
	metadataFields []string
}

// NewMongoStore wraps the given database's sessions collection. No
// metadata fields are pre-seeded or indexed beyond the structural ones;
// use NewMongoStoreWithOptions to configure indexed metadata keys or a
// different collection name.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return NewMongoStoreWithOptions(db, Options{})
}

// NewMongoStoreWithMetadataFields wraps the given database's sessions
// collection and additionally indexes (and pre-seeds on creation) the
// named metadata.<field> paths.
func NewMongoStoreWithMetadataFields(db *mongo.Database, metadataFields []string) *MongoStore {
	return NewMongoStoreWithOptions(db, Options{MetadataFields: metadataFields})
}

// NewMongoStoreWithOptions wraps the collection named by opts within db.
func NewMongoStoreWithOptions(db *mongo.Database, opts Options) *MongoStore {
	coll := opts.Collection
	if coll == "" {
		coll = DefaultCollection
	}
	return &MongoStore{coll: db.Collection(coll), metadataFields: opts.MetadataFields}
}

func (s *MongoStore) CreateSession(ctx context.Context, params CreateSessionParams) (*model.Session, error) {
	now := time.Now().UTC()
	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	for _, field := range s.metadataFields {
		if _, ok := metadata[field]; !ok {
			metadata[field] = ""
		}
	}

	doc := model.Session{
		ID:                    params.SessionID,
		SessionID:             params.SessionID,
		SessionType:           params.SessionType,
		ApplicationName:       params.ApplicationName,
		SessionViewerPassword: params.SessionViewerPassword,
		CreatedAt:             now,
		UpdatedAt:             now,
		Metadata:              metadata,
		Agents:                map[string]*model.AgentBlock{},
		Feedbacks:             []model.FeedbackEntry{},
	}

	_, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil, &ConflictError{Resource: "session", ID: params.SessionID, Reason: "already exists"}
	}
	if err != nil {
		return nil, &StorageError{Op: "CreateSession", Err: err}
	}
	return &doc, nil
}

func (s *MongoStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	var doc model.Session
	err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, &NotFoundError{Resource: "session", ID: sessionID}
	}
	if err != nil {
		return nil, &StorageError{Op: "GetSession", Err: err}
	}
	return &doc, nil
}

func (s *MongoStore) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return &StorageError{Op: "DeleteSession", Err: err}
	}
	if res.DeletedCount == 0 {
		return &NotFoundError{Resource: "session", ID: sessionID}
	}
	return nil
}

func (s *MongoStore) EnsureAgent(ctx context.Context, sessionID, agentID string, agentData map[string]any) error {
	now := time.Now().UTC()
	if agentData == nil {
		agentData = map[string]any{}
	}

	path := "agents." + agentID
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"session_id": sessionID, path: bson.M{"$exists": false}},
		bson.M{
			"$set": bson.M{
				path: model.AgentBlock{
					AgentData: agentData,
					Messages:  []model.MessageEntry{},
					CreatedAt: now,
					UpdatedAt: now,
				},
				"updated_at": now,
			},
		},
	)
	if err != nil {
		return &StorageError{Op: "EnsureAgent", Err: err}
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

func (s *MongoStore) UpdateAgentData(ctx context.Context, sessionID, agentID string, agentData map[string]any) error {
	now := time.Now().UTC()
	path := "agents." + agentID

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"session_id": sessionID, path: bson.M{"$exists": true}},
		bson.M{"$set": bson.M{
			path + ".agent_data": agentData,
			path + ".updated_at": now,
			"updated_at":         now,
		}},
	)
	if err != nil {
		return &StorageError{Op: "UpdateAgentData", Err: err}
	}
	if res.MatchedCount == 0 {
		return &NotFoundError{Resource: "agent", ID: sessionID + "/" + agentID}
	}
	return nil
}

func (s *MongoStore) UpdateAgentFields(ctx context.Context, sessionID, agentID string, fields map[string]any) error {
	now := time.Now().UTC()
	path := "agents." + agentID
	set := bson.M{
		path + ".updated_at": now,
		"updated_at":         now,
	}
	for k, v := range fields {
		set[path+".agent_data."+k] = v
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"session_id": sessionID, path: bson.M{"$exists": true}},
		bson.M{"$set": set},
	)
	if err != nil {
		return &StorageError{Op: "UpdateAgentFields", Err: err}
	}
	if res.MatchedCount == 0 {
		return &NotFoundError{Resource: "agent", ID: sessionID + "/" + agentID}
	}
	return nil
}

// UpsertMessage first attempts to overwrite an existing message with the
// same MessageID in place (matching message_id in the filter and writing
// through the positional $ operator), then falls back to pushing a new element when no match was
// found. An in-place overwrite sets the entry's fields individually so
// the original created_at survives.
func (s *MongoStore) UpsertMessage(ctx context.Context, params UpdateMessageParams) error {
	now := time.Now().UTC()
	path := "agents." + params.AgentID

	entry := model.MessageEntry{
		MessageID:        params.MessageID,
		Message:          params.Message,
		CreatedAt:        now,
		UpdatedAt:        now,
		EventLoopMetrics: params.Metrics,
	}

	// Matching on the message_id in the filter (rather than arrayFilters)
	// makes MatchedCount an exact existence signal: the document matches
	// only when the target element is present, so the positional $
	// operator always has an element to resolve to.
	msgSet := bson.M{
		path + ".messages.$.message":    params.Message,
		path + ".messages.$.updated_at": now,
		path + ".updated_at":            now,
		"updated_at":                    now,
	}
	if params.Metrics != nil {
		msgSet[path+".messages.$.event_loop_metrics"] = params.Metrics
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"session_id":                  params.SessionID,
			path + ".messages.message_id": params.MessageID,
		},
		bson.M{"$set": msgSet},
	)
	if err != nil {
		return &StorageError{Op: "UpsertMessage", Err: err}
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// No element with this message_id yet; append a fresh entry.
	pushRes, err := s.coll.UpdateOne(ctx,
		bson.M{
			"session_id": params.SessionID,
			path:         bson.M{"$exists": true},
		},
		bson.M{
			"$push": bson.M{path + ".messages": entry},
			"$set": bson.M{
				path + ".updated_at": now,
				"updated_at":         now,
			},
		},
	)
	if err != nil {
		return &StorageError{Op: "UpsertMessage", Err: err}
	}
	if pushRes.MatchedCount == 0 {
		if _, err := s.GetSession(ctx, params.SessionID); err != nil {
			return err
		}
		return &NotFoundError{Resource: "agent", ID: params.SessionID + "/" + params.AgentID}
	}
	return nil
}

func (s *MongoStore) GetSessionViewerPassword(ctx context.Context, sessionID string) (string, error) {
	var doc struct {
		SessionViewerPassword string `bson:"session_viewer_password"`
	}
	opts := options.FindOne().SetProjection(bson.M{"session_viewer_password": 1})
	err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", &NotFoundError{Resource: "session", ID: sessionID}
	}
	if err != nil {
		return "", &StorageError{Op: "GetSessionViewerPassword", Err: err}
	}
	return doc.SessionViewerPassword, nil
}

func (s *MongoStore) GetApplicationName(ctx context.Context, sessionID string) (*string, error) {
	var doc struct {
		ApplicationName *string `bson:"application_name"`
	}
	opts := options.FindOne().SetProjection(bson.M{"application_name": 1})
	err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, &NotFoundError{Resource: "session", ID: sessionID}
	}
	if err != nil {
		return nil, &StorageError{Op: "GetApplicationName", Err: err}
	}
	return doc.ApplicationName, nil
}

// GetAgentData returns the agent's SDK-level state only: the derived
// model/system_prompt fields the sync path writes into agent_data are
// stripped, since they are not part of the SDK schema.
func (s *MongoStore) GetAgentData(ctx context.Context, sessionID, agentID string) (map[string]any, error) {
	agent, err := s.getAgent(ctx, sessionID, agentID)
	if err != nil {
		return nil, err
	}
	state := make(map[string]any, len(agent.AgentData))
	for k, v := range agent.AgentData {
		if k == "model" || k == "system_prompt" {
			continue
		}
		state[k] = v
	}
	return state, nil
}

// GetMessage scans the agent's messages for the given id, returning the
// entry with event_loop_metrics stripped.
func (s *MongoStore) GetMessage(ctx context.Context, sessionID, agentID string, messageID int64) (*model.MessageEntry, error) {
	agent, err := s.getAgent(ctx, sessionID, agentID)
	if err != nil {
		return nil, err
	}
	for i := range agent.Messages {
		if agent.Messages[i].MessageID == messageID {
			entry := agent.Messages[i]
			entry.EventLoopMetrics = nil
			return &entry, nil
		}
	}
	return nil, &NotFoundError{Resource: "message", ID: fmt.Sprintf("%s/%s/%d", sessionID, agentID, messageID)}
}

func (s *MongoStore) ListMessages(ctx context.Context, sessionID, agentID string, limit, offset int64) ([]model.MessageEntry, error) {
	agent, err := s.getAgent(ctx, sessionID, agentID)
	if err != nil {
		return nil, err
	}

	messages := append([]model.MessageEntry(nil), agent.Messages...)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(messages)) {
		offset = int64(len(messages))
	}
	end := int64(len(messages))
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return messages[offset:end], nil
}

// getAgent fetches one agent block via a projection on its path.
func (s *MongoStore) getAgent(ctx context.Context, sessionID, agentID string) (*model.AgentBlock, error) {
	path := "agents." + agentID
	var doc struct {
		Agents map[string]*model.AgentBlock `bson:"agents"`
	}
	opts := options.FindOne().SetProjection(bson.M{path: 1})
	err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, &NotFoundError{Resource: "session", ID: sessionID}
	}
	if err != nil {
		return nil, &StorageError{Op: "GetAgent", Err: err}
	}
	agent, ok := doc.Agents[agentID]
	if !ok || agent == nil {
		return nil, &NotFoundError{Resource: "agent", ID: sessionID + "/" + agentID}
	}
	return agent, nil
}

func (s *MongoStore) GetMetadata(ctx context.Context, sessionID string) (map[string]any, error) {
	var doc struct {
		Metadata map[string]any `bson:"metadata"`
	}
	opts := options.FindOne().SetProjection(bson.M{"metadata": 1})
	err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, &NotFoundError{Resource: "session", ID: sessionID}
	}
	if err != nil {
		return nil, &StorageError{Op: "GetMetadata", Err: err}
	}
	return doc.Metadata, nil
}

func (s *MongoStore) UpdateMetadata(ctx context.Context, sessionID string, metadata map[string]any) error {
	now := time.Now().UTC()
	set := bson.M{"updated_at": now}
	for k, v := range metadata {
		set["metadata."+k] = v
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"session_id": sessionID}, bson.M{"$set": set})
	if err != nil {
		return &StorageError{Op: "UpdateMetadata", Err: err}
	}
	if res.MatchedCount == 0 {
		return &NotFoundError{Resource: "session", ID: sessionID}
	}
	return nil
}

func (s *MongoStore) DeleteMetadataKeys(ctx context.Context, sessionID string, keys []string) error {
	now := time.Now().UTC()
	unset := bson.M{}
	for _, k := range keys {
		unset["metadata."+k] = ""
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$unset": unset, "$set": bson.M{"updated_at": now}},
	)
	if err != nil {
		return &StorageError{Op: "DeleteMetadataKeys", Err: err}
	}
	if res.MatchedCount == 0 {
		return &NotFoundError{Resource: "session", ID: sessionID}
	}
	return nil
}

func (s *MongoStore) AddFeedback(ctx context.Context, params AddFeedbackParams) error {
	now := time.Now().UTC()
	entry := model.FeedbackEntry{
		Rating:    params.Rating,
		Comment:   params.Comment,
		CreatedAt: now,
		Extra:     params.Extra,
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"session_id": params.SessionID},
		bson.M{
			"$push": bson.M{"feedbacks": entry},
			"$set":  bson.M{"updated_at": now},
		},
	)
	if err != nil {
		return &StorageError{Op: "AddFeedback", Err: err}
	}
	if res.MatchedCount == 0 {
		return &NotFoundError{Resource: "session", ID: params.SessionID}
	}
	return nil
}

func (s *MongoStore) ListFeedback(ctx context.Context, sessionID string) ([]model.FeedbackEntry, error) {
	var doc struct {
		Feedbacks []model.FeedbackEntry `bson:"feedbacks"`
	}
	opts := options.FindOne().SetProjection(bson.M{"feedbacks": 1})
	err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, &NotFoundError{Resource: "session", ID: sessionID}
	}
	if err != nil {
		return nil, &StorageError{Op: "ListFeedback", Err: err}
	}
	return doc.Feedbacks, nil
}

func (s *MongoStore) Search(ctx context.Context, params SearchParams) ([]SearchResult, int64, error) {
	filter := bson.M{}
	if params.Query != "" {
		pattern := regexp.QuoteMeta(params.Query)
		filter["$or"] = []bson.M{
			{"session_id": bson.M{"$regex": pattern, "$options": "i"}},
			{"application_name": bson.M{"$regex": pattern, "$options": "i"}},
		}
	}
	if params.SessionType != "" {
		filter["session_type"] = params.SessionType
	}
	for key, val := range params.MetadataFilter {
		pattern := regexp.QuoteMeta(val)
		filter["metadata."+key] = bson.M{"$regex": pattern, "$options": "i"}
	}
	if !params.CreatedAtStart.IsZero() || !params.CreatedAtEnd.IsZero() {
		rng := bson.M{}
		if !params.CreatedAtStart.IsZero() {
			rng["$gte"] = params.CreatedAtStart
		}
		if !params.CreatedAtEnd.IsZero() {
			rng["$lte"] = params.CreatedAtEnd
		}
		filter["created_at"] = rng
	}

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, &StorageError{Op: "Search.Count", Err: err}
	}

	orderBy := params.OrderBy
	if orderBy == "" {
		orderBy = "created_at"
	}
	dir := -1
	if params.OrderAscending {
		dir = 1
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: orderBy, Value: dir}}).
		SetSkip(params.Offset).
		SetLimit(limit)

	cur, err := s.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, &StorageError{Op: "Search.Find", Err: err}
	}
	defer cur.Close(ctx)

	var results []SearchResult
	for cur.Next(ctx) {
		var doc model.Session
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, &StorageError{Op: "Search.Decode", Err: err}
		}
		messageCount := 0
		for _, agent := range doc.Agents {
			messageCount += len(agent.Messages)
		}
		results = append(results, SearchResult{
			Session:       doc,
			AgentCount:    len(doc.Agents),
			MessageCount:  messageCount,
			FeedbackCount: len(doc.Feedbacks),
		})
	}
	if err := cur.Err(); err != nil {
		return nil, 0, &StorageError{Op: "Search.Cursor", Err: err}
	}

	return results, total, nil
}

func (s *MongoStore) DistinctMetadataValues(ctx context.Context, key string, limit int64) ([]any, error) {
	values, err := s.coll.Distinct(ctx, "metadata."+key, bson.M{})
	if err != nil {
		return nil, &StorageError{Op: "DistinctMetadataValues", Err: err}
	}
	if limit > 0 && int64(len(values)) > limit {
		values = values[:limit]
	}
	return values, nil
}

func (s *MongoStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"updated_at": at}},
	)
	if err != nil {
		return &StorageError{Op: "Touch", Err: err}
	}
	if res.MatchedCount == 0 {
		return &NotFoundError{Resource: "session", ID: sessionID}
	}
	return nil
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "session_type", Value: 1}}},
		{Keys: bson.D{{Key: "application_name", Value: 1}}},
		{Keys: bson.D{{Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	for _, field := range s.metadataFields {
		models = append(models, mongo.IndexModel{Keys: bson.D{{Key: "metadata." + field, Value: 1}}})
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		return &StorageError{Op: "EnsureIndexes", Err: err}
	}
	return nil
}

// ListIndexedFields lists the collection's current indexes and returns
// the field name at the start of each one, excluding the structural _id
// index, full-text index components (_fts/_ftsx), and any index whose
// name begins with an underscore.
func (s *MongoStore) ListIndexedFields(ctx context.Context) ([]string, error) {
	cur, err := s.coll.Indexes().List(ctx)
	if err != nil {
		return nil, &StorageError{Op: "ListIndexedFields", Err: err}
	}
	defer cur.Close(ctx)

	seen := map[string]struct{}{}
	var fields []string
	for cur.Next(ctx) {
		var spec struct {
			Name string `bson:"name"`
			Key  bson.D `bson:"key"`
		}
		if err := cur.Decode(&spec); err != nil {
			return nil, &StorageError{Op: "ListIndexedFields.Decode", Err: err}
		}
		if strings.HasPrefix(spec.Name, "_") || len(spec.Key) == 0 {
			continue
		}
		field := spec.Key[0].Key
		if field == "_id" || field == "_fts" || field == "_ftsx" {
			continue
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		fields = append(fields, field)
	}
	if err := cur.Err(); err != nil {
		return nil, &StorageError{Op: "ListIndexedFields.Cursor", Err: err}
	}
	return fields, nil
}

// SampleFieldValues scans up to 100 documents having field set and
// non-null, returning up to limit of the observed values for runtime
// type inference.
func (s *MongoStore) SampleFieldValues(ctx context.Context, field string, limit int64) ([]any, error) {
	findOpts := options.Find().
		SetProjection(bson.M{field: 1}).
		SetLimit(100)

	cur, err := s.coll.Find(ctx, bson.M{field: bson.M{"$ne": nil, "$exists": true}}, findOpts)
	if err != nil {
		return nil, &StorageError{Op: "SampleFieldValues", Err: err}
	}
	defer cur.Close(ctx)

	var values []any
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, &StorageError{Op: "SampleFieldValues.Decode", Err: err}
		}
		v := lookupDotted(doc, field)
		if v == nil {
			continue
		}
		values = append(values, v)
		if limit > 0 && int64(len(values)) >= limit {
			break
		}
	}
	if err := cur.Err(); err != nil {
		return nil, &StorageError{Op: "SampleFieldValues.Cursor", Err: err}
	}
	return values, nil
}

// lookupDotted resolves a dotted field path ("metadata.status") against
// a decoded BSON document.
func lookupDotted(doc bson.M, path string) any {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, part := range parts {
		m, ok := cur.(bson.M)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}
