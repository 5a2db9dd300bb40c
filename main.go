package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"onboarding-backend/checkout"
	"onboarding-backend/conn"
	"onboarding-backend/email"
	"onboarding-backend/migrations"
	"onboarding-backend/submissions"
	"onboarding-backend/webhooks"
)

func main() {
	_ = godotenv.Load()

	db, err := conn.NewMySQL()
	if err != nil {
		log.Fatalf("[main] mysql connection failed: %v", err)
	}
	migrations.Init(db)
	if err := migrations.Migrate(); err != nil {
		log.Fatalf("[main] migrations failed: %v", err)
	}
	if os.Getenv("SEED_DEMO") == "1" {
		if err := migrations.SeedDemoSubmission(); err != nil {
			log.Printf("[main] demo seed failed: %v", err)
		}
	}

	repo := submissions.NewRepository(db)

	var svc *checkout.Service
	var retriever webhooks.SubscriptionRetriever
	if gw := checkout.NewStripeGatewayFromEnv(); gw != nil {
		svc = checkout.NewServiceFromEnv(gw, repo)
		retriever = gw
	} else {
		log.Printf("[main] STRIPE_SECRET_KEY not set, checkout routes disabled")
	}

	var notifier webhooks.Notifier
	if d := email.NewDispatcherFromEnv(); d != nil {
		notifier = d
	}

	r := gin.Default()
	submissions.NewHandler(repo).RegisterRoutes(r)
	checkout.NewHandler(svc).RegisterRoutes(r)
	rec := webhooks.NewReconciler(repo, retriever, notifier)
	webhooks.NewHandler(rec, os.Getenv("STRIPE_WEBHOOK_SECRET")).RegisterRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("[main] server exited: %v", err)
	}
}
