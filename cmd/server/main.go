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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator/transport"
	llmProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/tts"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	groqKey := os.Getenv("GROQ_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	assemblyKey := os.Getenv("ASSEMBLYAI_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")

	sttProviderName := os.Getenv("STT_PROVIDER")
	if sttProviderName == "" {
		sttProviderName = "groq"
	}
	llmProviderName := os.Getenv("LLM_PROVIDER")
	if llmProviderName == "" {
		llmProviderName = "groq"
	}

	lang := orchestrator.Language(os.Getenv("AGENT_LANGUAGE"))
	if lang == "" {
		lang = orchestrator.LanguageEn
	}

	if lokutorKey == "" {
		log.Fatal("Error: LOKUTOR_API_KEY must be set.")
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	newSTT := func() orchestrator.STTProvider {
		switch sttProviderName {
		case "openai":
			if openaiKey == "" {
				log.Fatal("Error: OPENAI_API_KEY must be set for openai STT")
			}
			return sttProvider.NewOpenAISTT(openaiKey, "whisper-1")
		case "deepgram":
			if deepgramKey == "" {
				log.Fatal("Error: DEEPGRAM_API_KEY must be set for deepgram STT")
			}
			return sttProvider.NewDeepgramSTT(deepgramKey)
		case "assemblyai":
			if assemblyKey == "" {
				log.Fatal("Error: ASSEMBLYAI_API_KEY must be set for assemblyai STT")
			}
			return sttProvider.NewAssemblyAISTT(assemblyKey)
		case "groq":
			fallthrough
		default:
			if groqKey == "" {
				log.Fatal("Error: GROQ_API_KEY must be set for groq STT")
			}
			groqModel := os.Getenv("GROQ_STT_MODEL")
			if groqModel == "" {
				groqModel = "whisper-large-v3-turbo"
			}
			return sttProvider.NewGroqSTT(groqKey, groqModel)
		}
	}

	newLLM := func() orchestrator.LLMProvider {
		switch llmProviderName {
		case "openai":
			if openaiKey == "" {
				log.Fatal("Error: OPENAI_API_KEY must be set for openai LLM")
			}
			return llmProvider.NewOpenAILLM(openaiKey, "gpt-4o")
		case "anthropic":
			if anthropicKey == "" {
				log.Fatal("Error: ANTHROPIC_API_KEY must be set for anthropic LLM")
			}
			return llmProvider.NewAnthropicLLM(anthropicKey, "claude-3-5-sonnet-20241022")
		case "google":
			if googleKey == "" {
				log.Fatal("Error: GOOGLE_API_KEY must be set for google LLM")
			}
			return llmProvider.NewGoogleLLM(googleKey, "gemini-1.5-flash")
		case "groq":
			fallthrough
		default:
			if groqKey == "" {
				log.Fatal("Error: GROQ_API_KEY must be set for groq LLM")
			}
			return llmProvider.NewGroqLLM(groqKey, "llama-3.3-70b-versatile")
		}
	}

	config := orchestrator.DefaultConfig()
	config.Language = lang

	providerFactory := func() transport.Providers {
		return transport.Providers{
			STT: newSTT(),
			LLM: newLLM(),
			TTS: ttsProvider.NewLokutorTTS(lokutorKey),
		}
	}

	logger := &orchestrator.NoOpLogger{}
	registry := prometheus.DefaultRegisterer
	server := transport.NewServer(config, logger, registry, providerFactory)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.RunGraceReaper(ctx, 10*time.Second)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	fmt.Printf("Configured: STT=%s | LLM=%s | TTS=Lokutor\n", sttProviderName, llmProviderName)
	fmt.Printf("Listening on %s (ws endpoint: /ws, metrics: /metrics)\n", addr)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("\nShutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
