package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stowbox/rental-backend/internal/utils"
	"github.com/stowbox/rental-backend/pkg/jwt"
)

func main() {
	operator := flag.String("operator-token", "", "Sign a token for this user id with JWT_SECRET instead of generating a secret")
	roles := flag.String("roles", "admin", "Comma-separated roles for -operator-token")
	ttl := flag.Duration("ttl", time.Hour, "Lifetime of the operator token")
	flag.Parse()

	if *operator != "" {
		signOperatorToken(*operator, *roles, *ttl)
		return
	}

	fmt.Println("===========================================")
	fmt.Println("JWT Secret Generator for StowBox")
	fmt.Println("===========================================")
	fmt.Println()

	secret, err := utils.GenerateJWTSecret()
	if err != nil {
		log.Fatalf("Failed to generate secret: %v", err)
	}

	fmt.Println("✅ Secret generated successfully!")
	fmt.Println()
	fmt.Println("Add this to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", secret)
	fmt.Println()
	fmt.Println("⚠️  IMPORTANT: Keep this secret safe and never commit it to version control!")
	fmt.Println("===========================================")
}

func signOperatorToken(rawID, rawRoles string, ttl time.Duration) {
	_ = godotenv.Load()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	userID, err := uuid.Parse(rawID)
	if err != nil {
		log.Fatalf("invalid user id: %v", err)
	}

	token, err := jwt.NewService(secret, ttl).GenerateAccessToken(userID, "", strings.Split(rawRoles, ","))
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
}
