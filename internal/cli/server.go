package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"exam-prep-service/internal/app"
	"exam-prep-service/internal/config"
	"exam-prep-service/internal/domain"
	"exam-prep-service/internal/infra/memory"
	pgloader "exam-prep-service/internal/infra/postgres"
	redisinfra "exam-prep-service/internal/infra/redis"
	"exam-prep-service/internal/predict"
	transport "exam-prep-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exam-prep server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	sessionTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.SubjectLoader = memory.NewStaticLoader(sampleSubjects())
	if pool != nil {
		loader = pgloader.NewQuestionLoader(pool)
	}

	var bank app.QuestionBank
	if redisClient != nil {
		bank = redisinfra.NewQuestionBank(redisClient, loader, questionTTL)
	} else {
		bank = memory.NewQuestionBank(loader, questionTTL)
	}

	var sessions app.SessionStore
	var progress app.ProgressStore
	if redisClient != nil {
		sessions = redisinfra.NewSessionStore(redisClient, sessionTTL)
		progress = redisinfra.NewProgressStore(redisClient)
	} else {
		sessions = memory.NewSessionStore()
		progress = memory.NewProgressStore()
	}

	engine := app.NewEngine(bank, sessions, progress, app.Options{
		SecondsPerQuestion: cfg.Exam.SecondsPerQuestion,
		MaxQuestions:       cfg.Exam.MaxQuestions,
	})

	examDate, err := cfg.ExamDate()
	if err != nil {
		return err
	}
	var runner predict.Runner
	if !cfg.Prediction.Disabled {
		runner = predict.NewEnsembleRunner(cfg.Prediction.SubjectWeights)
	}
	aggregator := predict.NewAggregator(progress, predict.Config{
		ExamDate:       examDate,
		SubjectWeights: cfg.Prediction.SubjectWeights,
		Timeout:        config.TTLDuration(cfg.Prediction.WorkerTimeout, 10*time.Second),
		Runner:         runner,
	})
	defer aggregator.Close()

	wsHandler := transport.NewWSHandler(engine, aggregator)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting exam-prep service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleSubjects provides a minimal demo question bank used when Postgres is
// not configured.
func sampleSubjects() map[string][]domain.Question {
	legacy := 2
	return map[string][]domain.Question{
		"polity": {
			{
				ID:            "pol-1",
				Subject:       "polity",
				Prompt:        "Which article deals with the amendment of the Constitution?",
				Options:       []string{"Article 356", "Article 368", "Article 370", "Article 352"},
				CorrectAnswer: 1,
			},
			{
				ID:      "pol-2",
				Subject: "polity",
				Prompt:  "The concept of judicial review is borrowed from which country?",
				Options: []string{"UK", "Canada", "USA", "Ireland"},
				// legacy dumps still carry correctOption
				CorrectOption: &legacy,
			},
			{
				ID:            "pol-3",
				Subject:       "polity",
				Prompt:        "Who presides over a joint sitting of Parliament?",
				Options:       []string{"President", "Vice President", "Speaker of Lok Sabha", "Prime Minister"},
				CorrectAnswer: 2,
			},
		},
		"history": {
			{
				ID:            "his-1",
				Subject:       "history",
				Prompt:        "The Dandi March began in which year?",
				Options:       []string{"1928", "1930", "1932", "1942"},
				CorrectAnswer: 1,
			},
			{
				ID:            "his-2",
				Subject:       "history",
				Prompt:        "Who founded the Maurya Empire?",
				Options:       []string{"Ashoka", "Bindusara", "Chandragupta Maurya", "Bimbisara"},
				CorrectAnswer: 2,
			},
		},
	}
}
