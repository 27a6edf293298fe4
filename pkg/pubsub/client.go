package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/multierr"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/farmlink/farmlink-backend/pkg/config"
	"github.com/farmlink/farmlink-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("at least one pubsub topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client owns one Pub/Sub connection and a publisher per topic. Publishers
// are created lazily and stopped on Close so buffered messages flush.
type Client struct {
	client    *pubsub.Client
	projectID string
	topics    []string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects to Pub/Sub and fails unless every topic already exists.
// Topics are not created here; provisioning owns them.
func NewClient(ctx context.Context, gcp config.GCPConfig, topics []string, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	names := normalizeTopics(topics)
	if len(names) == 0 {
		return nil, errNoTopics
	}

	psClient, err := pubsub.NewClient(ctx, project, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		client:     psClient,
		projectID:  project,
		topics:     names,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"project": project, "topics": names}), "pubsub client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// normalizeTopics trims, drops blanks and dedupes.
func normalizeTopics(topics []string) []string {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Ping checks that every configured topic is visible to the credentials.
// All missing topics are reported together.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	var errs error
	for _, name := range c.topics {
		errs = multierr.Append(errs, c.checkTopic(ctx, name))
	}
	return errs
}

func (c *Client) checkTopic(ctx context.Context, name string) error {
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: topicResourceName(c.projectID, name),
	})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %q does not exist", name)
	default:
		return fmt.Errorf("checking topic %q: %w", name, err)
	}
}

// Publisher returns the shared publisher for a topic id or full resource
// name, or nil when the name cannot be resolved.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := topicResourceName(c.projectID, name)
	if fullName == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[fullName]; ok {
		return p
	}
	p := c.client.Publisher(fullName)
	c.publishers[fullName] = p
	return p
}

// Close flushes and stops every publisher, then closes the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

func topicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	switch {
	case n == "":
		return ""
	case strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/"):
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return "projects/" + p + "/topics/" + n
}
