package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Model  ModelConfig
	Care   CareConfig
	App    AppConfig
}

type ServerConfig struct {
	Host string
	Port string
}

type ModelConfig struct {
	// Backend selects the inference implementation: "native" runs the
	// checkpoint with the built-in kernels, "onnx" delegates to an
	// ONNX Runtime session pool.
	Backend          string
	CheckpointPath   string
	NumClasses       int
	OnnxModelPath    string
	OnnxMetadataPath string
	OnnxPoolSize     int
}

type CareConfig struct {
	DataPath string
}

type AppConfig struct {
	LogLevel      string
	MaxUploadSize int64
	DefaultTopK   int
}

func Load() (*Config, error) {
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("MODEL_BACKEND", "native")
	viper.SetDefault("MODEL_CHECKPOINT_PATH", "./models/plant_cnn.json")
	viper.SetDefault("MODEL_NUM_CLASSES", 0) // 0 means "size from the default class list"
	viper.SetDefault("ONNX_MODEL_PATH", "./models/plant_cnn.onnx")
	viper.SetDefault("ONNX_METADATA_PATH", "./models/plant_cnn_metadata.json")
	viper.SetDefault("ONNX_POOL_SIZE", 4)
	viper.SetDefault("CARE_DATA_PATH", "./data/plant_care_data.json")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("APP_MAX_UPLOAD_SIZE", 16*1024*1024) // 16MB
	viper.SetDefault("APP_DEFAULT_TOP_K", 5)

	viper.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("SERVER_HOST"),
			Port: viper.GetString("SERVER_PORT"),
		},
		Model: ModelConfig{
			Backend:          viper.GetString("MODEL_BACKEND"),
			CheckpointPath:   viper.GetString("MODEL_CHECKPOINT_PATH"),
			NumClasses:       viper.GetInt("MODEL_NUM_CLASSES"),
			OnnxModelPath:    viper.GetString("ONNX_MODEL_PATH"),
			OnnxMetadataPath: viper.GetString("ONNX_METADATA_PATH"),
			OnnxPoolSize:     viper.GetInt("ONNX_POOL_SIZE"),
		},
		Care: CareConfig{
			DataPath: viper.GetString("CARE_DATA_PATH"),
		},
		App: AppConfig{
			LogLevel:      viper.GetString("LOG_LEVEL"),
			MaxUploadSize: viper.GetInt64("APP_MAX_UPLOAD_SIZE"),
			DefaultTopK:   viper.GetInt("APP_DEFAULT_TOP_K"),
		},
	}

	return cfg, nil
}
