package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"shortlink_bot/internal/domain"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Stats implements domain.UserStore using server-side counts.
func (s *MongoStore) Stats(ctx context.Context) (domain.Stats, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Stats{}, err
	}

	users, err := s.count(ctx, "count users", bson.D{})
	if err != nil {
		return domain.Stats{}, err
	}

	admins, err := s.count(ctx, "count admins", bson.M{fieldIsAdmin: true})
	if err != nil {
		return domain.Stats{}, err
	}

	withToken, err := s.count(ctx, "count tokens", bson.M{fieldToken: bson.M{"$exists": true, "$ne": ""}})
	if err != nil {
		return domain.Stats{}, err
	}

	return domain.Stats{
		Users:     users,
		Admins:    admins,
		WithToken: withToken,
	}, nil
}

func (s *MongoStore) count(ctx context.Context, op string, filter interface{}) (int64, error) {
	count, err := s.users.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
	}

	return count, nil
}
