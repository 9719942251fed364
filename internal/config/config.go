package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	ClientID          string   `mapstructure:"client_id"`
	VotesTopic        string   `mapstructure:"votes_topic"`
	VotesPartitions   int32    `mapstructure:"votes_partitions"`
	ResultsTopic      string   `mapstructure:"results_topic"`
	ResultsPartitions int32    `mapstructure:"results_partitions"`
	GroupID           string   `mapstructure:"group_id"`
}

type StorageConfig struct {
	Dir string `mapstructure:"dir"`
}

type LeaderboardConfig struct {
	Size int `mapstructure:"size"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("pollstream")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":3000")
	v.SetDefault("kafka.client_id", "pollstream")
	v.SetDefault("kafka.votes_topic", "poll-votes")
	v.SetDefault("kafka.votes_partitions", 3)
	v.SetDefault("kafka.results_topic", "poll-results")
	v.SetDefault("kafka.results_partitions", 1)
	v.SetDefault("kafka.group_id", "poll-vote-processors")
	v.SetDefault("storage.dir", "./data")
	v.SetDefault("leaderboard.size", 5)
}

func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Kafka.VotesTopic == "" {
		return fmt.Errorf("kafka.votes_topic is required")
	}
	if c.Kafka.GroupID == "" {
		return fmt.Errorf("kafka.group_id is required")
	}
	if c.Kafka.VotesPartitions <= 0 || c.Kafka.ResultsPartitions <= 0 {
		return fmt.Errorf("kafka partition counts must be positive")
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if c.Leaderboard.Size <= 0 {
		return fmt.Errorf("leaderboard.size must be positive")
	}
	return nil
}
