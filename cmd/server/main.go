package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/credoservice/advisor/internal/api"
	"github.com/credoservice/advisor/internal/chat"
	"github.com/credoservice/advisor/internal/config"
	"github.com/credoservice/advisor/internal/guard"
	"github.com/credoservice/advisor/internal/llm"
	"github.com/credoservice/advisor/internal/remote"
	"github.com/credoservice/advisor/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL, config.AppConfig.StartingCredits)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Ephemeral store for guest conversations
	guestStore := store.NewGuestStore()

	// Initialize LLM service
	llmService := llm.NewLLMService()
	defer llmService.Close()

	// Orchestrator client, local interpreter and the dual-mode executor
	orchestra := remote.NewClient(config.AppConfig.N8nWebhookURL, config.AppConfig.N8nWebhookSecret)
	interpreter := chat.NewInterpreter(llmService)
	executor := chat.NewExecutor(orchestra, interpreter)

	// Probe the orchestrator once at startup so the first message does not
	// pay the health-check latency.
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	mode := executor.Init(probeCtx)
	probeCancel()
	log.Printf("Executor starting in %s mode", mode)

	// Initialize Chat service
	contentGuard := guard.New(nil)
	chatService := chat.NewService(dbStore, guestStore, executor, llmService, contentGuard)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, dbStore, orchestra)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second, // Adjusted for potentially slower LLM handshakes
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until a signal is received
	log.Println("Shutting down server...")

	// Give active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// llmService.Close() and dbStore.Close() will be called by their defers.
	log.Println("Server exiting gracefully")
}
