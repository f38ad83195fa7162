package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"shortlink_bot/internal/domain"
	"shortlink_bot/internal/logging"
)

// Document fields of the users collection.
const (
	fieldUserID       = "user_id"
	fieldToken        = "token"
	fieldLastActiveAt = "last_active_at"
	fieldIsAdmin      = "is_admin"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"
)

var _ domain.UserStore = (*MongoStore)(nil)

type userCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	countCollection
}

// Pinger reports backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MongoStore keeps one document per user. Each operation is a single-document
// update, so MongoDB provides the atomicity the file backend gets from its lock.
type MongoStore struct {
	users  userCollection
	pinger Pinger
	now    func() time.Time
	logger *logrus.Entry
}

// NewMongoStore constructs a MongoStore over the users collection. pinger may
// be nil, in which case Ping always succeeds.
func NewMongoStore(users userCollection, pinger Pinger, logger *logrus.Entry) *MongoStore {
	if logger == nil {
		logger = logging.Logger()
	}

	return &MongoStore{
		users:  users,
		pinger: pinger,
		now:    time.Now,
		logger: logger,
	}
}

// GetToken implements domain.UserStore.
func (s *MongoStore) GetToken(ctx context.Context, id int64) (string, bool, error) {
	user, found, err := s.findOne(ctx, id, fieldToken)
	if err != nil || !found || !user.HasToken() {
		return "", false, err
	}

	return user.APIToken, true, nil
}

// SetToken implements domain.UserStore.
func (s *MongoStore) SetToken(ctx context.Context, id int64, token string) error {
	return s.upsert(ctx, "set token", id, func(now time.Time) bson.M {
		return bson.M{
			"$set": bson.M{
				fieldToken:     token,
				fieldUpdatedAt: now,
			},
			"$setOnInsert": bson.M{
				fieldUserID:    id,
				fieldIsAdmin:   false,
				fieldCreatedAt: now,
			},
		}
	})
}

// Touch implements domain.UserStore. $max keeps last_active_at non-decreasing.
func (s *MongoStore) Touch(ctx context.Context, id int64) error {
	return s.upsert(ctx, "touch", id, func(now time.Time) bson.M {
		return bson.M{
			"$max": bson.M{
				fieldLastActiveAt: now,
			},
			"$set": bson.M{
				fieldUpdatedAt: now,
			},
			"$setOnInsert": bson.M{
				fieldUserID:    id,
				fieldIsAdmin:   false,
				fieldCreatedAt: now,
			},
		}
	})
}

// AddAdmin implements domain.UserStore.
func (s *MongoStore) AddAdmin(ctx context.Context, id int64) error {
	return s.upsert(ctx, "add admin", id, func(now time.Time) bson.M {
		return bson.M{
			"$set": bson.M{
				fieldIsAdmin:   true,
				fieldUpdatedAt: now,
			},
			"$setOnInsert": bson.M{
				fieldUserID:    id,
				fieldCreatedAt: now,
			},
		}
	})
}

// IsAdmin implements domain.UserStore.
func (s *MongoStore) IsAdmin(ctx context.Context, id int64) (bool, error) {
	user, _, err := s.findOne(ctx, id, fieldIsAdmin)
	if err != nil {
		return false, err
	}

	return user.IsAdmin, nil
}

// ListUsers implements domain.UserStore.
func (s *MongoStore) ListUsers(ctx context.Context) ([]int64, error) {
	return s.findIDs(ctx, "list users", bson.M{})
}

// ListInactiveSince implements domain.UserStore.
func (s *MongoStore) ListInactiveSince(ctx context.Context, threshold time.Duration, now time.Time) ([]int64, error) {
	cutoff := now.Add(-threshold).UTC()

	return s.findIDs(ctx, "list inactive users", bson.M{
		fieldLastActiveAt: bson.M{"$lt": cutoff},
	})
}

// Ping implements domain.UserStore.
func (s *MongoStore) Ping(ctx context.Context) error {
	if s == nil || s.pinger == nil {
		return nil
	}

	return s.pinger.Ping(ctx)
}

func (s *MongoStore) ready(ctx context.Context) error {
	if s == nil || s.users == nil {
		return errors.New("mongo store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func (s *MongoStore) upsert(ctx context.Context, op string, id int64, build func(now time.Time) bson.M) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	result, err := s.users.UpdateOne(ctx,
		bson.M{fieldUserID: id},
		build(domain.Truncate(s.now())),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		s.logger.WithFields(logging.Fields{
			"event":   "store_write_error",
			"op":      op,
			"user_id": id,
		}).WithError(err).Error("failed to update user")

		return fmt.Errorf("%s for user %d: %w: %w", op, id, domain.ErrPersistence, err)
	}

	if result != nil && result.UpsertedCount > 0 {
		s.logger.WithFields(logging.Fields{
			"event":   "user_created",
			"op":      op,
			"user_id": id,
		}).Debug("created user record")
	}

	return nil
}

func (s *MongoStore) findOne(ctx context.Context, id int64, fields ...string) (domain.User, bool, error) {
	if err := s.ready(ctx); err != nil {
		return domain.User{}, false, err
	}

	projection := bson.M{fieldUserID: 1}
	for _, field := range fields {
		projection[field] = 1
	}

	result := s.users.FindOne(ctx, bson.M{fieldUserID: id}, options.FindOne().SetProjection(projection))
	if result == nil {
		return domain.User{}, false, fmt.Errorf("find user %d: %w: no result", id, domain.ErrPersistence)
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, fmt.Errorf("find user %d: %w: %w", id, domain.ErrPersistence, err)
	}

	var user domain.User
	if err := result.Decode(&user); err != nil {
		return domain.User{}, false, fmt.Errorf("decode user %d: %w: %w", id, domain.ErrCorruptData, err)
	}

	return user, true, nil
}

func (s *MongoStore) findIDs(ctx context.Context, op string, filter bson.M) ([]int64, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	opts := options.Find().
		SetProjection(bson.M{fieldUserID: 1}).
		SetSort(bson.D{{Key: fieldUserID, Value: 1}})

	cursor, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
	}

	var users []domain.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
	}

	ids := make([]int64, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}

	return ids, nil
}
