package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sjperalta/fintera-sign/internal/config"
	"github.com/sjperalta/fintera-sign/internal/models"
	"github.com/sjperalta/fintera-sign/internal/services"
	"github.com/sjperalta/fintera-sign/pkg/logger"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}
	// Only email settings matter here
	if os.Getenv("STORE_DRIVER") == "" {
		_ = os.Setenv("STORE_DRIVER", config.StoreDriverMemory)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.EnableEmailNotifications = true

	logger.Setup("development")

	if cfg.ResendAPIKey == "" {
		log.Fatal("RESEND_API_KEY is not set")
	}

	emailService := services.NewEmailService(cfg)

	toEmail := os.Getenv("TEST_EMAIL_TO")
	if toEmail == "" {
		toEmail = "test@example.com"
		log.Println("TEST_EMAIL_TO not set, using test@example.com. Emails might fail if domain not verified.")
	}

	expires := time.Now().AddDate(0, 0, cfg.DefaultSigningDays)
	signedAt := time.Now()
	agreement := &models.Agreement{
		ID:                "00000000-0000-0000-0000-000000000000",
		ClientName:        "Test User",
		ClientEmail:       toEmail,
		CompanyName:       "Fintera",
		CompanySignerName: "Equipo Fintera",
		Title:             "Acuerdo de prueba",
		Description:       "Correo de prueba del flujo de firma.",
		ExpiresAt:         &expires,
		Signature:         &models.Signature{SignerName: "Test User", SignedAt: signedAt},
	}
	signURL := cfg.AppURL + "/sign/test-token"

	for _, template := range []string{
		services.TemplateSigningRequest,
		services.TemplateLinkRegenerated,
		services.TemplateAgreementSigned,
	} {
		log.Printf("Sending %s email to %s...", template, toEmail)
		err := emailService.Notify(context.Background(), services.Notification{
			Template:  template,
			Agreement: agreement,
			SignURL:   signURL,
		})
		if err != nil {
			log.Fatalf("Failed to send %s email: %v", template, err)
		}
		log.Printf("%s email sent successfully!", template)
	}
}
