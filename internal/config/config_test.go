package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("POLLSTREAM_LEADERBOARD_SIZE", "10")

	path := filepath.Join(t.TempDir(), "pollstream.yaml")
	content := []byte(`
server:
  listen_addr: ":4000"
kafka:
  brokers: ["127.0.0.1:9092"]
  group_id: poll-vote-processors
leaderboard:
  size: 5
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Server.ListenAddr != ":4000" {
		t.Fatalf("unexpected listen addr: %q", cfg.Server.ListenAddr)
	}
	if cfg.Leaderboard.Size != 10 {
		t.Fatalf("expected env override for leaderboard size, got %d", cfg.Leaderboard.Size)
	}
}

func TestLoadAppliesTopicDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pollstream.yaml")
	content := []byte(`
kafka:
  brokers: ["127.0.0.1:9092"]
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Kafka.VotesTopic != "poll-votes" || cfg.Kafka.VotesPartitions != 3 {
		t.Fatalf("unexpected votes topic defaults: %+v", cfg.Kafka)
	}
	if cfg.Kafka.ResultsTopic != "poll-results" || cfg.Kafka.ResultsPartitions != 1 {
		t.Fatalf("unexpected results topic defaults: %+v", cfg.Kafka)
	}
}

func TestValidateRequiresBrokers(t *testing.T) {
	cfg := Config{
		Server:      ServerConfig{ListenAddr: ":3000"},
		Kafka:       KafkaConfig{VotesTopic: "poll-votes", VotesPartitions: 3, ResultsPartitions: 1, GroupID: "g1"},
		Storage:     StorageConfig{Dir: "./data"},
		Leaderboard: LeaderboardConfig{Size: 5},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error without brokers")
	}
}

func TestValidateRejectsNonPositiveLeaderboard(t *testing.T) {
	cfg := Config{
		Server:      ServerConfig{ListenAddr: ":3000"},
		Kafka:       KafkaConfig{Brokers: []string{"b:9092"}, VotesTopic: "poll-votes", VotesPartitions: 3, ResultsPartitions: 1, GroupID: "g1"},
		Storage:     StorageConfig{Dir: "./data"},
		Leaderboard: LeaderboardConfig{Size: 0},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for leaderboard.size=0")
	}
}
