package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

type TopicSpec struct {
	Name       string
	Partitions int32
}

// EnsureTopics provisions the vote topics at startup. The partition count of
// the votes topic bounds consumer parallelism. Topics that already exist are
// left untouched.
func EnsureTopics(ctx context.Context, brokers []string, clientID string, topics ...TopicSpec) error {
	kopts := []kgo.Opt{kgo.SeedBrokers(brokers...)}
	if clientID != "" {
		kopts = append(kopts, kgo.ClientID(clientID))
	}
	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return fmt.Errorf("new kafka admin client: %w", err)
	}
	defer cl.Close()

	adm := kadm.NewClient(cl)
	for _, spec := range topics {
		resp, err := adm.CreateTopics(ctx, spec.Partitions, 1, nil, spec.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", spec.Name, err)
		}
		for _, r := range resp {
			if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
		}
	}
	return nil
}
