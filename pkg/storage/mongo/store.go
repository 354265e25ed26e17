// Package mongo stores each product as one document with its price history embedded.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/geniass/supermarket-prices/pkg/product"
	"github.com/geniass/supermarket-prices/pkg/storage"
)

type datedPriceDoc struct {
	Date  time.Time `bson:"date"`
	Price float64   `bson:"price"`
}

type productDoc struct {
	ID                   string          `bson:"_id"`
	Name                 string          `bson:"name"`
	Category             []string        `bson:"category"`
	SourceSite           string          `bson:"sourceSite"`
	Size                 string          `bson:"size,omitempty"`
	UnitPrice            float64         `bson:"unitPrice,omitempty"`
	UnitName             string          `bson:"unitName,omitempty"`
	OriginalUnitQuantity float64         `bson:"originalUnitQuantity,omitempty"`
	CurrentPrice         float64         `bson:"currentPrice"`
	PriceHistory         []datedPriceDoc `bson:"priceHistory"`
	LastUpdated          time.Time       `bson:"lastUpdated"`
	LastChecked          time.Time       `bson:"lastChecked"`
}

func toDoc(p product.Product) productDoc {
	d := productDoc{
		ID:                   p.ID,
		Name:                 p.Name,
		Category:             append([]string{}, p.Category...),
		SourceSite:           p.SourceSite,
		Size:                 p.Size,
		UnitPrice:            p.UnitPrice,
		UnitName:             p.UnitName,
		OriginalUnitQuantity: p.OriginalUnitQuantity,
		CurrentPrice:         p.CurrentPrice,
		PriceHistory:         make([]datedPriceDoc, 0, len(p.PriceHistory)),
		LastUpdated:          p.LastUpdated.UTC(),
		LastChecked:          p.LastChecked.UTC(),
	}
	for _, dp := range p.PriceHistory {
		d.PriceHistory = append(d.PriceHistory, datedPriceDoc{Date: dp.Date.UTC(), Price: dp.Price})
	}
	return d
}

func fromDoc(d productDoc) product.Product {
	p := product.Product{
		ID:                   d.ID,
		Name:                 d.Name,
		Category:             d.Category,
		SourceSite:           d.SourceSite,
		Size:                 d.Size,
		UnitPrice:            d.UnitPrice,
		UnitName:             d.UnitName,
		OriginalUnitQuantity: d.OriginalUnitQuantity,
		CurrentPrice:         d.CurrentPrice,
		LastUpdated:          d.LastUpdated,
		LastChecked:          d.LastChecked,
	}
	for _, dp := range d.PriceHistory {
		p.PriceHistory = append(p.PriceHistory, product.DatedPrice{Date: dp.Date, Price: dp.Price})
	}
	return p
}

type Store struct {
	client   *mongo.Client
	products *mongo.Collection
}

var _ storage.Store = (*Store)(nil)

func Open(ctx context.Context, uri, database, collection string) (*Store, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{
		client:   client,
		products: client.Database(database).Collection(collection),
	}, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Get(ctx context.Context, id string) (product.Product, error) {
	var d productDoc
	err := s.products.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return product.Product{}, storage.ErrNotFound
	}
	if err != nil {
		return product.Product{}, fmt.Errorf("get product %s: %w", id, err)
	}
	return fromDoc(d), nil
}

func (s *Store) Upsert(ctx context.Context, decision product.UpsertDecision, p product.Product) (product.UpsertDecision, error) {
	switch decision {
	case product.Failed:
		return product.Failed, nil
	case product.AlreadyUpToDate:
		_, err := s.products.UpdateByID(ctx, p.ID, bson.M{"$set": bson.M{"lastChecked": p.LastChecked.UTC()}})
		if err != nil {
			return product.Failed, fmt.Errorf("touch product %s: %w", p.ID, err)
		}
		return decision, nil
	}

	_, err := s.products.ReplaceOne(ctx, bson.M{"_id": p.ID}, toDoc(p), options.Replace().SetUpsert(true))
	if err != nil {
		return product.Failed, fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return decision, nil
}
