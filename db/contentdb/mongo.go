package contentdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meghashyamc/presssync/content"
	"github.com/meghashyamc/presssync/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	postsCollection = "posts"
	usersCollection = "users"
	termsCollection = "terms"

	mongoConnectTimeout = 10 * time.Second
)

type postDocument struct {
	ID           int64            `bson:"_id"`
	AuthorID     int64            `bson:"author_id"`
	Date         time.Time        `bson:"post_date"`
	DateGMT      time.Time        `bson:"post_date_gmt"`
	Modified     time.Time        `bson:"post_modified"`
	ModifiedGMT  time.Time        `bson:"post_modified_gmt"`
	Title        string           `bson:"title"`
	Excerpt      string           `bson:"excerpt"`
	Content      string           `bson:"content"`
	Status       string           `bson:"status"`
	Name         string           `bson:"name"`
	Type         string           `bson:"type"`
	MimeType     string           `bson:"mime_type,omitempty"`
	Parent       int64            `bson:"parent"`
	MenuOrder    int              `bson:"menu_order"`
	CommentCount int              `bson:"comment_count"`
	Password     string           `bson:"password,omitempty"`
	Meta         map[string][]any `bson:"meta,omitempty"`
	TermIDs      []int64          `bson:"term_ids,omitempty"`
}

type userDocument struct {
	ID          int64  `bson:"_id"`
	Login       string `bson:"login"`
	DisplayName string `bson:"display_name"`
	Nicename    string `bson:"nicename"`
}

type termDocument struct {
	ID       int64  `bson:"_id"`
	Taxonomy string `bson:"taxonomy"`
	Slug     string `bson:"slug"`
	Name     string `bson:"name"`
	Parent   int64  `bson:"parent"`
}

// Mongo reads posts from a MongoDB database. Meta values and term ids are
// embedded in the post document.
type Mongo struct {
	client    *mongo.Client
	posts     *mongo.Collection
	users     *mongo.Collection
	terms     *mongo.Collection
	logger    logger.Logger
	postTypes []string
}

func OpenMongo(ctx context.Context, logger logger.Logger, uri string, database string, postTypes []string) (*Mongo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		logger.Error("failed to connect to content database", "err", err.Error())
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		logger.Error("failed to ping content database", "err", err.Error())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	store := &Mongo{
		client:    client,
		posts:     db.Collection(postsCollection),
		users:     db.Collection(usersCollection),
		terms:     db.Collection(termsCollection),
		logger:    logger,
		postTypes: postTypes,
	}
	if err := store.createIndexes(connectCtx); err != nil {
		store.Close()
		return nil, err
	}

	return store, nil
}

func (m *Mongo) createIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection]mongo.IndexModel{
		m.posts: {Keys: bson.D{{Key: "type", Value: 1}, {Key: "_id", Value: 1}}},
		m.users: {Keys: bson.D{{Key: "login", Value: 1}}, Options: options.Index().SetUnique(true)},
		m.terms: {Keys: bson.D{{Key: "taxonomy", Value: 1}, {Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	for collection, model := range indexes {
		if _, err := collection.Indexes().CreateOne(ctx, model); err != nil {
			m.logger.Error("failed to create index", "collection", collection.Name(), "err", err.Error())
			return fmt.Errorf("failed to create index on %s: %w", collection.Name(), err)
		}
	}
	return nil
}

func (m *Mongo) Close() error {
	return m.client.Disconnect(context.Background())
}

func (m *Mongo) typeFilter() bson.M {
	if len(m.postTypes) == 0 {
		return bson.M{}
	}
	return bson.M{"type": bson.M{"$in": m.postTypes}}
}

func (m *Mongo) Count(ctx context.Context) (int, error) {
	count, err := m.posts.CountDocuments(ctx, m.typeFilter())
	if err != nil {
		m.logger.Error("failed to count posts", "err", err.Error())
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return int(count), nil
}

func (m *Mongo) GetRecords(ctx context.Context, offset int, limit int) ([]*content.Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"meta": 0})

	cursor, err := m.posts.Find(ctx, m.typeFilter(), opts)
	if err != nil {
		m.logger.Error("failed to list posts", "offset", offset, "limit", limit, "err", err.Error())
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*content.Record
	for cursor.Next(ctx) {
		var doc postDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode post: %w", err)
		}
		records = append(records, doc.toRecord())
	}

	return records, cursor.Err()
}

func (m *Mongo) getPost(ctx context.Context, id int64, projection bson.M) (*postDocument, error) {
	var doc postDocument
	err := m.posts.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(projection)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("post %d: %w", id, content.ErrNotFound)
	}
	if err != nil {
		m.logger.Error("failed to get post", "id", id, "err", err.Error())
		return nil, fmt.Errorf("failed to get post %d: %w", id, err)
	}
	return &doc, nil
}

func (m *Mongo) GetRecord(ctx context.Context, id int64) (*content.Record, error) {
	doc, err := m.getPost(ctx, id, bson.M{"meta": 0})
	if err != nil {
		return nil, err
	}
	return doc.toRecord(), nil
}

func (m *Mongo) GetPostStatus(ctx context.Context, id int64) (string, error) {
	doc, err := m.getPost(ctx, id, bson.M{"status": 1})
	if err != nil {
		return "", err
	}
	return doc.Status, nil
}

func (m *Mongo) GetMetadata(ctx context.Context, id int64) (map[string][]any, error) {
	doc, err := m.getPost(ctx, id, bson.M{"meta": 1})
	if err != nil {
		return nil, err
	}
	if doc.Meta == nil {
		return map[string][]any{}, nil
	}
	return doc.Meta, nil
}

func (m *Mongo) GetTerms(ctx context.Context, record *content.Record, taxonomies []string) (map[string][]content.Term, error) {
	terms := make(map[string][]content.Term)
	if record == nil || len(taxonomies) == 0 {
		return terms, nil
	}

	doc, err := m.getPost(ctx, record.ID, bson.M{"term_ids": 1})
	if err != nil {
		return nil, err
	}
	if len(doc.TermIDs) == 0 {
		return terms, nil
	}

	filter := bson.M{"_id": bson.M{"$in": doc.TermIDs}, "taxonomy": bson.M{"$in": taxonomies}}
	cursor, err := m.terms.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "taxonomy", Value: 1}, {Key: "name", Value: 1}}))
	if err != nil {
		m.logger.Error("failed to get post terms", "id", record.ID, "err", err.Error())
		return nil, fmt.Errorf("failed to get post terms %d: %w", record.ID, err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var term termDocument
		if err := cursor.Decode(&term); err != nil {
			return nil, fmt.Errorf("failed to decode term: %w", err)
		}
		terms[term.Taxonomy] = append(terms[term.Taxonomy], term.toTerm())
	}

	return terms, cursor.Err()
}

func (m *Mongo) GetAuthor(ctx context.Context, id int64) (*content.Author, error) {
	return m.getUser(ctx, bson.M{"_id": id})
}

func (m *Mongo) GetUserByLogin(ctx context.Context, login string) (*content.Author, error) {
	return m.getUser(ctx, bson.M{"login": login})
}

func (m *Mongo) getUser(ctx context.Context, filter bson.M) (*content.Author, error) {
	var doc userDocument
	err := m.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("user %v: %w", filter, content.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %v: %w", filter, err)
	}
	return &content.Author{ID: doc.ID, Login: doc.Login, DisplayName: doc.DisplayName, Nicename: doc.Nicename}, nil
}

func (m *Mongo) GetTermBySlug(ctx context.Context, taxonomy string, slug string) (*content.Term, error) {
	var doc termDocument
	err := m.terms.FindOne(ctx, bson.M{"taxonomy": taxonomy, "slug": slug}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("term %s/%s: %w", taxonomy, slug, content.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get term %s/%s: %w", taxonomy, slug, err)
	}
	term := doc.toTerm()
	return &term, nil
}

// SavePost upserts a post together with its meta and term ids.
func (m *Mongo) SavePost(ctx context.Context, record *content.Record, meta map[string][]any, termIDs []int64) error {
	doc := newPostDocument(record, meta, termIDs)
	_, err := m.posts.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		m.logger.Error("failed to save post", "id", record.ID, "err", err.Error())
		return fmt.Errorf("failed to save post %d: %w", record.ID, err)
	}
	return nil
}

func (m *Mongo) SaveUser(ctx context.Context, author *content.Author) error {
	doc := userDocument{ID: author.ID, Login: author.Login, DisplayName: author.DisplayName, Nicename: author.Nicename}
	if _, err := m.users.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save user %s: %w", author.Login, err)
	}
	return nil
}

func (m *Mongo) SaveTerm(ctx context.Context, term *content.Term) error {
	doc := termDocument{ID: term.ID, Taxonomy: term.Taxonomy, Slug: term.Slug, Name: term.Name, Parent: term.Parent}
	if _, err := m.terms.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save term %s/%s: %w", term.Taxonomy, term.Slug, err)
	}
	return nil
}

func newPostDocument(record *content.Record, meta map[string][]any, termIDs []int64) postDocument {
	return postDocument{
		ID:           record.ID,
		AuthorID:     record.AuthorID,
		Date:         record.Date.UTC(),
		DateGMT:      record.DateGMT.UTC(),
		Modified:     record.Modified.UTC(),
		ModifiedGMT:  record.ModifiedGMT.UTC(),
		Title:        record.Title,
		Excerpt:      record.Excerpt,
		Content:      record.Content,
		Status:       record.Status,
		Name:         record.Name,
		Type:         record.Type,
		MimeType:     record.MimeType,
		Parent:       record.Parent,
		MenuOrder:    record.MenuOrder,
		CommentCount: record.CommentCount,
		Password:     record.Password,
		Meta:         meta,
		TermIDs:      termIDs,
	}
}

func (d postDocument) toRecord() *content.Record {
	return &content.Record{
		ID:           d.ID,
		AuthorID:     d.AuthorID,
		Date:         normalizeTime(d.Date),
		DateGMT:      normalizeTime(d.DateGMT),
		Modified:     normalizeTime(d.Modified),
		ModifiedGMT:  normalizeTime(d.ModifiedGMT),
		Title:        d.Title,
		Excerpt:      d.Excerpt,
		Content:      d.Content,
		Status:       d.Status,
		Name:         d.Name,
		Type:         d.Type,
		MimeType:     d.MimeType,
		Parent:       d.Parent,
		MenuOrder:    d.MenuOrder,
		CommentCount: d.CommentCount,
		Password:     d.Password,
	}
}

func (d termDocument) toTerm() content.Term {
	return content.Term{ID: d.ID, Taxonomy: d.Taxonomy, Slug: d.Slug, Name: d.Name, Parent: d.Parent}
}

// normalizeTime maps the epoch and year-one encodings of an unset date back
// to the zero time.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() || t.Unix() == 0 {
		return time.Time{}
	}
	return t.UTC()
}
