package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/verdantlab/plantid-api/internal/care"
	"github.com/verdantlab/plantid-api/internal/classify"
	"github.com/verdantlab/plantid-api/internal/config"
	"github.com/verdantlab/plantid-api/internal/handlers"
	"github.com/verdantlab/plantid-api/internal/identify"
	"github.com/verdantlab/plantid-api/internal/imageproc"
	"github.com/verdantlab/plantid-api/pkg/logger"
)

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func newPredictor(cfg *config.Config, zlog *zap.Logger) (classify.Predictor, func(), error) {
	if cfg.Model.Backend == "onnx" {
		predictor, err := classify.NewONNXPredictor(classify.ONNXOptions{
			ModelPath:    cfg.Model.OnnxModelPath,
			MetadataPath: cfg.Model.OnnxMetadataPath,
			PoolSize:     cfg.Model.OnnxPoolSize,
		}, zlog)
		if err != nil {
			return nil, nil, err
		}
		return predictor, predictor.Close, nil
	}

	model := classify.NewModel(cfg.Model.NumClasses, zlog)
	report, err := model.LoadCheckpoint(cfg.Model.CheckpointPath)
	if err != nil {
		// The service still serves care lookups; identification fails
		// with a typed error until a checkpoint is available.
		zlog.Warn("checkpoint not loaded, identification unavailable",
			zap.String("path", cfg.Model.CheckpointPath),
			zap.Error(err))
		return model, func() {}, nil
	}

	for _, skipped := range report.Skipped {
		zlog.Warn("checkpoint parameter skipped",
			zap.String("param", skipped.Name),
			zap.String("reason", skipped.Reason),
			zap.Ints("want", skipped.Want),
			zap.Ints("got", skipped.Got))
	}

	return model, func() {}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	store := care.NewStore(cfg.Care.DataPath, zlog)
	if err := store.Load(); err != nil {
		zlog.Warn("care data not loaded, lookups will return not-found",
			zap.String("path", cfg.Care.DataPath),
			zap.Error(err))
	}

	predictor, closePredictor, err := newPredictor(cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize predictor", zap.Error(err))
	}
	defer closePredictor()

	normalizer := imageproc.NewNormalizer(zlog)
	service := identify.NewService(normalizer, predictor, store, zlog)
	handler := handlers.NewHandler(service, store, cfg.App.MaxUploadSize, cfg.App.DefaultTopK, zlog)

	r := mux.NewRouter()
	r.Use(enableCORS)
	handler.Register(r)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Handler:      r,
		Addr:         addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	zlog.Info("server starting",
		zap.String("addr", addr),
		zap.String("backend", cfg.Model.Backend),
		zap.Int("care_records", store.Len()))

	if err := srv.ListenAndServe(); err != nil {
		zlog.Fatal("server failed", zap.Error(err))
	}
}
