package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"reviewhub/pkg/config"
	"reviewhub/pkg/db"
	"reviewhub/pkg/gen"
	"reviewhub/pkg/identity"
	"reviewhub/pkg/logger"
	"reviewhub/pkg/redis"
	"reviewhub/pkg/sequence"
	"reviewhub/services/order"
	"reviewhub/services/review"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	clientID = flag.String("client", "demo-client", "client id that owns the seeded orders")
	count    = flag.Int("orders", 3, "number of orders to create")
	reviews  = flag.Int("reviews", 5, "reviews per order")
	price    = flag.Float64("commission", 5, "commission per review")
)

var businesses = []struct{ name, url string }{
	{"Warung Makan Sederhana", "https://maps.example.com/warung-makan-sederhana"},
	{"Kopi Kenangan Senja", "https://maps.example.com/kopi-kenangan-senja"},
	{"Bengkel Jaya Motor", "https://maps.example.com/bengkel-jaya-motor"},
	{"Salon Cantik Ayu", "https://maps.example.com/salon-cantik-ayu"},
}

func main() {
	flag.Parse()

	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		gen.Module,
		fx.Provide(order.NewService),
		fx.Invoke(seed),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	_ = app.Stop(context.Background())
}

func seed(gdb *gorm.DB, svc *order.Service) error {
	if err := gdb.AutoMigrate(review.Models()...); err != nil {
		return err
	}

	ctx := identity.WithUser(context.Background(), &identity.User{ID: *clientID, Role: identity.RoleClient})
	for i := 0; i < *count; i++ {
		b := businesses[i%len(businesses)]
		name := b.name
		if i >= len(businesses) {
			name = fmt.Sprintf("%s #%d", b.name, i/len(businesses)+1)
		}

		out, err := svc.CreateOrder(ctx, order.CreateOrderRequest{
			BusinessName: name,
			BusinessURL:  b.url,
			TotalReviews: *reviews,
			Commission:   *price,
			Guidelines: []string{
				"Mention a specific product or service",
				"Keep the review above 50 words",
				"Attach the published review screenshot",
			},
		})
		if err != nil {
			return err
		}
		zap.L().Info("seeded order", zap.String("id", out.ID), zap.String("code", out.Code))
	}
	return nil
}
