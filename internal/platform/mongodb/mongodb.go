// Package mongodb connects the draft store to MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const connectTimeout = 10 * time.Second

// Conn is a connected client and the database the service uses.
type Conn struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// Connect dials uri and verifies the primary is reachable.
func Connect(ctx context.Context, uri, database string) (*Conn, error) {
	if database == "" {
		return nil, fmt.Errorf("mongodb database name is required")
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetAppName("clinicdesk"))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &Conn{Client: client, Database: client.Database(database)}, nil
}

// Ping satisfies the health check interface.
func (c *Conn) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx, readpref.Primary())
}

func (c *Conn) Close(ctx context.Context) error {
	return c.Client.Disconnect(ctx)
}
