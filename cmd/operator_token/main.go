package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sjperalta/fintera-sign/internal/middleware"
)

// Prints a bearer token for the operator API. Accounts are managed elsewhere;
// this is for local development and smoke tests.
func main() {
	_ = godotenv.Load()

	userID := flag.Uint("user", 1, "operator user id")
	email := flag.String("email", "operator@example.com", "operator email")
	role := flag.String("role", middleware.RoleOperator, "role: admin or operator")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *role != middleware.RoleAdmin && *role != middleware.RoleOperator {
		log.Fatalf("unknown role %q", *role)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		if os.Getenv("ENVIRONMENT") == "production" {
			log.Fatal("JWT_SECRET is not set")
		}
		secret = "dev-secret-change-in-production"
	}

	token, err := middleware.IssueToken(secret, *userID, *email, *role, *ttl)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
